package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/autofix"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/config"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/eventlog"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/pool"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/runner"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/runstore"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/sandbox-orchestrator/web/api"
)

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs",
		RunE:  runListRuns,
	}
	rootCmd.AddCommand(runsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "sandbox-orch",
	})

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	events := eventlog.New(store, logger)

	factory := &sandbox.AgentFactory{BaseURL: cfg.Pool.AgentURL}
	poolMgr := pool.NewManager(factory, pool.Targets{
		Baseline: cfg.Pool.Baseline,
		Burst:    cfg.Pool.Burst,
	}, logger)

	var maintainer *pool.Maintainer
	if cfg.Pool.Enabled {
		maintainer, err = pool.NewMaintainer(poolMgr, cfg.Pool.ReconcileCron, logger)
		if err != nil {
			return err
		}
		maintainer.Start()
		defer maintainer.Stop()
		poolMgr.EnsureWarmPool(cfg.Pool.Baseline)
	}

	var verifier runner.Verifier
	if cfg.Autofix.TestCommand != "" && cfg.Autofix.FixCommand != "" {
		verifier = autofix.NewLoop(
			&autofix.ScriptTestExecutor{Command: cfg.Autofix.TestCommand},
			&autofix.CommandFixGenerator{Command: cfg.Autofix.FixCommand},
			autofix.WithMaxAttempts(cfg.Autofix.MaxAttempts),
			autofix.WithBackoff(cfg.Autofix.Backoff()),
			autofix.WithLogger(logger),
		)
	} else {
		logger.Warn("autofix commands not configured, integration gate disabled")
	}

	runs := runner.NewManager(events, poolMgr, &runner.AgentCommandGenerator{}, verifier, store, logger)
	defer runs.Stop()

	if cfg.Autofix.ReviewCommand != "" && cfg.Autofix.FixCommand != "" {
		runs.SetReviewer(autofix.NewLoop(
			&autofix.ScriptTestExecutor{Command: cfg.Autofix.ReviewCommand},
			&autofix.CommandFixGenerator{Command: cfg.Autofix.FixCommand},
			autofix.WithMaxAttempts(cfg.Autofix.MaxAttempts),
			autofix.WithBackoff(cfg.Autofix.Backoff()),
			autofix.WithLogger(logger),
		))
	}

	if err := runs.RecoverRuns(); err != nil {
		logger.Warn("recovering runs failed", "error", err)
	}

	// Hot reload pool targets on config edits
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	watcher, err := config.NewWatcher(cfgPath, func(updated *config.Config) {
		poolMgr.SetPoolTargets(pool.Targets{
			Baseline: updated.Pool.Baseline,
			Burst:    updated.Pool.Burst,
		})
		logger.Info("pool targets reloaded",
			"baseline", updated.Pool.Baseline, "burst", updated.Pool.Burst)
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		if err := watcher.Start(); err != nil {
			logger.Warn("config watch failed to start", "error", err)
		}
		defer watcher.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(runs, events, poolMgr, cfg.Pool.Enabled, addr, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		return nil
	}
}

func runListRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tTICKETS\tSANDBOX\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			run.ID, run.Status, len(run.Tickets), run.Input.SandboxID,
			run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
