package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/executor"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/internal/workload"
)

func newRunCmd() *cobra.Command {
	var (
		mlfqs    bool
		maxTicks int64
		noStore  bool
		events   bool
	)

	cmd := &cobra.Command{
		Use:   "run <workload.yaml>",
		Short: "Run a workload on a freshly booted kernel",
		Long: `Boots a kernel, runs every thread of the workload to completion and prints a
report: tick accounting, context switches and per-thread wait times. The run
and its trace are saved to the run database unless --no-store is given. With
--server the workload is sent to a kthreads server and run there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workload: %w", err)
			}
			if flagServer != "" {
				return runRemote(ctx, cmd, data, mlfqs)
			}

			w, err := workload.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			kcfg := cfg.Kernel
			if mlfqs {
				kcfg.MLFQS = true
			}
			if cmd.Flags().Changed("max-ticks") {
				kcfg.MaxTicks = maxTicks
			}

			var opts []executor.Option
			opts = append(opts, executor.WithConsole(cmd.ErrOrStderr()))
			if !noStore {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, executor.WithStore(st))
			}

			res, runErr := executor.New(kcfg, logger, opts...).Execute(ctx, w)
			if res == nil {
				return runErr
			}
			out := cmd.OutOrStdout()
			trace.WriteReport(out, *res.Run, res.Threads, res.Summary)
			if events {
				fmt.Fprintln(out)
				writeEvents(out, res.Events)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&mlfqs, "mlfqs", false, "Use the multi-level feedback queue scheduler")
	cmd.Flags().Int64Var(&maxTicks, "max-ticks", 0, "Halt the kernel after this many ticks (0 for no limit)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not save the run")
	cmd.Flags().BoolVar(&events, "events", false, "Print the scheduler trace after the report")
	return cmd
}

func runRemote(ctx context.Context, cmd *cobra.Command, data []byte, mlfqs bool) error {
	c := NewClient(flagServer, logger)
	rr, err := c.CreateRun(ctx, data, mlfqs)
	if err != nil {
		return fmt.Errorf("run on %s: %w", flagServer, err)
	}
	evs, err := fetchEvents(cmd, c, rr.ID, eventsPage())
	if err != nil {
		return err
	}
	trace.WriteReport(cmd.OutOrStdout(), rr.Run, rr.Threads, summaryOf(evs))
	if rr.Error != "" {
		return fmt.Errorf("run %s failed: %s", rr.ID, rr.Error)
	}
	return nil
}
