package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/farid/orbit/internal/config"
	"github.com/farid/orbit/internal/logger"
	"github.com/farid/orbit/internal/metrics"
	"github.com/farid/orbit/pkg/ai"
	"github.com/farid/orbit/pkg/coretools"
	"github.com/farid/orbit/pkg/events"
	"github.com/farid/orbit/pkg/gateway"
	"github.com/farid/orbit/pkg/scheduler"
	"github.com/farid/orbit/pkg/store"
	"github.com/farid/orbit/pkg/tools"
	"github.com/farid/orbit/pkg/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Orbit engine",
	Long: `Start the Orbit engine in the foreground. Agents are loaded from the
agents directory and driven by their cron, watch, and webhook triggers
until the process receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	for _, dir := range []string{cfg.DataDir, cfg.AgentsDir, cfg.WorkspacePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()
	bus := events.NewBus()

	st, err := store.Open(filepath.Join(cfg.DataDir, "orbit.db"), zl)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	dispatcher, err := ai.NewDispatcher(ctx, cfg.AI, m, zl)
	if err != nil {
		return fmt.Errorf("failed to create AI dispatcher: %w", err)
	}

	registry := tools.NewRegistry()
	if err := coretools.Register(registry, coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		Dispatcher:    dispatcher,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}

	router := tools.NewRouter(registry, tools.RouterOptions{
		Policy: tools.Policy{
			ApprovedRisk:     tools.RiskLevel(cfg.Tools.ApprovedRisk),
			DailyCostLimit:   cfg.Tools.DailyCostLimit,
			MonthlyCostLimit: cfg.Tools.MonthlyCostLimit,
		},
		CacheTTL: time.Duration(cfg.Tools.CacheTTLSeconds) * time.Second,
		Observer: m,
		Ledger:   st,
	})

	// Seed cost counters from the persisted ledger.
	today := time.Now().Format("2006-01-02")
	if daily, monthly, err := st.LoadCosts(ctx, today); err != nil {
		zl.Warn().Err(err).Msg("Failed to load persisted costs")
	} else {
		router.RestoreCosts(daily, monthly)
	}

	engine := workflow.NewEngine(router)
	loader := scheduler.NewManifestLoader(engine, router)

	sched := scheduler.New(bus, zl, scheduler.Options{
		Loader:   loader,
		Recorder: st,
		Observer: m,
	})

	metas, instances, loadErrs := loader.LoadDir(ctx, cfg.AgentsDir)
	for _, err := range loadErrs {
		zl.Warn().Err(err).Msg("Skipping broken agent manifest")
	}
	for i, meta := range metas {
		if err := sched.Register(meta, instances[i]); err != nil {
			zl.Warn().Err(err).Str("agent", meta.Name).Msg("Failed to register agent")
		}
	}

	watcher, err := scheduler.NewWatcher(sched, zl, scheduler.WatcherConfig{
		Paths: []string{cfg.AgentsDir, cfg.WorkspacePath},
	})
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	sched.Start(ctx)
	defer sched.Stop()

	var srv *gateway.Server
	gatewayErr := make(chan error, 1)
	if cfg.Gateway.Enabled {
		srv, err = gateway.NewServer(gateway.Config{
			Port:           cfg.Gateway.Port,
			Scheduler:      sched,
			Runs:           st,
			Bus:            bus,
			MetricsHandler: m.Handler(),
			Logger:         zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		go func() {
			gatewayErr <- srv.Start()
		}()
	}

	zl.Info().
		Int("agents", len(metas)).
		Str("agents_dir", cfg.AgentsDir).
		Msg("Orbit started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-gatewayErr:
		if err != nil {
			zl.Error().Err(err).Msg("Gateway failed")
		}
	}

	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			zl.Error().Err(err).Msg("Gateway shutdown failed")
		}
	}

	return nil
}
