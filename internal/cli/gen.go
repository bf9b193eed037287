package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/workload"
)

func newGenCmd() *cobra.Command {
	opts := workload.DefaultGenOptions()
	var output string

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a random workload",
		Long: `Generates a workload whose threads arrive in Poisson-distributed batches and
mix compute bursts, sleeps and critical sections on shared locks. The same
flags always produce the same workload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.Generate(opts)
			if err != nil {
				return err
			}
			data, err := w.Marshal()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write workload: %w", err)
			}
			logger.Info("workload written", "path", output, "threads", len(w.Threads))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Name, "name", opts.Name, "Workload name")
	f.IntVar(&opts.Threads, "threads", opts.Threads, "Number of threads")
	f.Float64Var(&opts.Lambda, "lambda", opts.Lambda, "Mean thread arrivals per interval")
	f.Int64Var(&opts.Interval, "interval", opts.Interval, "Ticks per arrival interval")
	f.Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	f.IntVar(&opts.Locks, "locks", opts.Locks, "Number of shared locks")
	f.Int64Var(&opts.MaxCompute, "max-compute", opts.MaxCompute, "Longest compute burst in ticks")
	f.BoolVar(&opts.MLFQS, "mlfqs", false, "Generate nice values for the MLFQS scheduler instead of priorities")
	f.StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
