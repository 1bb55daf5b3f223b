package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rendis/stepflow/internal/decisions"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/loader"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/server"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/internal/validation"
)

func main() {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := registry.NewRegistry()
	if err := registry.RegisterBuiltins(reg); err != nil {
		return err
	}

	ld := loader.New(cfg.WorkflowsDir)

	validator, err := validation.NewValidator()
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()

	eng := engine.New(st, reg, ld, validator, logger, engine.Config{
		MaxStepInvocations: cfg.MaxStepInvocations,
		WorkDir:            cfg.WorkDir,
		Events:             hub,
	})

	dm := decisions.NewManager(st, eng, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.New(st, &schedulerRunner{engine: eng}, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := server.New(server.Deps{
		Store:     st,
		Engine:    eng,
		Decisions: dm,
		Loader:    ld,
		Events:    hub,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// schedulerRunner adapts the engine to the scheduler's runner interface:
// a scheduled trigger is an auto-mode submit followed by a full run.
type schedulerRunner struct {
	engine *engine.Engine
}

func (r *schedulerRunner) RunWorkflow(ctx context.Context, workflowID string, params map[string]any) error {
	ex, err := r.engine.Submit(ctx, workflowID, params, engine.RunOptions{})
	if err != nil {
		return err
	}
	return r.engine.Run(ctx, ex.ID)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
