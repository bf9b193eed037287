package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/executor"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/internal/server"
	"github.com/me/kthreads/internal/store"
)

func main() {
	file := config.File{Kernel: config.DefaultKernelConfig(), Server: config.DefaultServerConfig()}

	configFile := flag.String("config", "", "Path to a YAML config file with kernel and server sections")
	addr := flag.String("addr", "", "Listen address (overrides the config file)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	dbPath := flag.String("db", "", "Database path (default ~/.kthreads/runs.db)")
	mlfqs := flag.Bool("mlfqs", false, "Run every workload under the MLFQS scheduler")
	readOnly := flag.Bool("read-only", false, "Serve recorded runs only; reject POST /runs")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *configFile != "" {
		f, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		file = f
	}
	cfg := file.Server
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *mlfqs {
		file.Kernel.MLFQS = true
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, *debug, os.Stderr)

	path, err := config.ResolveDBPath(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", path)

	var ex *executor.Executor
	if !*readOnly {
		ex = executor.New(file.Kernel, logger, executor.WithStore(st))
	}
	srv := server.New(cfg, st, ex, logger)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
