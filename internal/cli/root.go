// Package cli implements the kthreads command line: run workloads on a
// simulated kernel, generate workloads, inspect recorded runs and serve
// them over HTTP.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/pkg/model"
)

var (
	flagServer     string
	flagDebug      bool
	flagLogLevel   string
	flagLogFormat  string
	flagConfigFile string
	flagDB         string

	logger *slog.Logger
	cfg    config.File
)

// runSource is where recorded runs are read from: the local database or a
// kthreads server.
type runSource interface {
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListThreads(ctx context.Context, id string) ([]model.ThreadSummary, error)
	ListEvents(ctx context.Context, id string, filter store.EventFilter) ([]model.Event, int, error)
}

var _ runSource = (*Client)(nil)
var _ runSource = (store.Store)(nil)

// summaryOf rebuilds a wait summary from a stored trace.
func summaryOf(events []model.Event) trace.Summary {
	rec := trace.NewRecorder("")
	for _, ev := range events {
		rec.OnEvent(ev)
	}
	return rec.Summary()
}

// defaultServer returns KTHREADS_SERVER, or "" to use the local database.
func defaultServer() string {
	return os.Getenv("KTHREADS_SERVER")
}

// NewRootCmd creates the root cobra command for the kthreads CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kthreads",
		Short: "kthreads: a simulated preemptive kernel thread scheduler",
		Long: `kthreads boots a simulated uniprocessor kernel (timer, interrupt controller,
descriptor table, threads) and runs workloads of kernel threads on it under
the priority-donation scheduler or the multi-level feedback queue scheduler.
Every run is traced and can be stored, listed and served over HTTP.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.File{Kernel: config.DefaultKernelConfig(), Server: config.DefaultServerConfig()}
			if flagConfigFile != "" {
				f, err := config.Load(flagConfigFile)
				if err != nil {
					return err
				}
				cfg = f
				// Flags given on the command line win over the file.
				if !cmd.Flags().Changed("log-level") && cfg.Server.LogLevel != "" {
					flagLogLevel = cfg.Server.LogLevel
				}
				if !cmd.Flags().Changed("log-format") && cfg.Server.LogFormat != "" {
					flagLogFormat = cfg.Server.LogFormat
				}
				if !cmd.Flags().Changed("db") && cfg.Server.DBPath != "" {
					flagDB = cfg.Server.DBPath
				}
			}
			logger = logging.Setup(flagLogLevel, flagLogFormat, flagDebug, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "kthreads server URL for runs commands (or KTHREADS_SERVER env); local database if empty")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging (every scheduler event)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Path to a YAML config file with kernel and server sections")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Run database path (default ~/.kthreads/runs.db)")

	root.AddCommand(
		newRunCmd(),
		newGenCmd(),
		newRunsCmd(),
		newServeCmd(),
	)
	return root
}

// openStore opens and migrates the run database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	path, err := config.ResolveDBPath(flagDB)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// source returns the server client when --server is set, else the local
// database. done releases it.
func source(ctx context.Context) (src runSource, done func(), err error) {
	if flagServer != "" {
		return NewClient(flagServer, logger), func() {}, nil
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}
