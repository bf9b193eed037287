package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/executor"
	"github.com/me/kthreads/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs over HTTP and execute posted workloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			scfg := cfg.Server
			if cmd.Flags().Changed("addr") || scfg.Addr == "" {
				scfg.Addr = addr
			}
			var ex *executor.Executor
			if !readOnly {
				ex = executor.New(cfg.Kernel, logger, executor.WithStore(st))
			}
			return server.New(scfg, st, ex, logger).Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Serve recorded runs only; reject POST /runs")
	return cmd
}
