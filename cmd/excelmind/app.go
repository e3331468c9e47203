package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/cache"
	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/fyrsmithlabs/excelmind/internal/events"
	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/logging"
	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/privacy"
	"github.com/fyrsmithlabs/excelmind/internal/telemetry"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

// app holds the wired dependencies of one process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     cache.Store
	publisher events.Publisher
	registry  *tools.Registry
	orch      *orchestrator.Orchestrator
}

// appOptions overrides parts of the wiring.
type appOptions struct {
	// client replaces the configured model provider.
	client llm.Client
	// logOutput receives console logs; nil means stdout.
	logOutput io.Writer
}

// newApp wires everything the commands need:
//  1. Validates configuration
//  2. Initializes telemetry, then the logger bridged to it
//  3. Registers the built-in tools
//  4. Opens the response cache and builds the model client
//  5. Creates the masker and the progress publisher
//  6. Creates the orchestrator
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	logCfg.Writer = opts.logOutput
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("error", h.LastError))
	}

	a.registry = tools.NewRegistry(tools.WithArgValidation(cfg.Orchestrator.ValidateToolArgs))
	if err := tools.RegisterBuiltins(a.registry); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	client := opts.client
	if client == nil {
		a.store, err = cache.New(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		var store cache.Store
		if cfg.Cache.Enabled {
			store = a.store
		}
		client, err = llm.New(cfg.LLM, store, cfg.Cache.TTL.Duration(), a.logger.Underlying(), orchestrator.ObserveCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
	}

	masker, err := privacy.FromSettings(cfg.Privacy)
	if err != nil {
		return nil, fmt.Errorf("failed to create masker: %w", err)
	}

	a.publisher, err = events.FromSettings(cfg.Events, a.logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}

	a.orch, err = orchestrator.New(orchestrator.ConfigFromSettings(cfg), client, a.registry,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMasker(masker),
		orchestrator.WithPublisher(a.publisher),
		orchestrator.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/excelmind/internal/orchestrator")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.logger.Info(ctx, "excelmind initialized",
		zap.String("version", version),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("events_enabled", cfg.Events.Enabled),
		zap.Bool("privacy_enabled", masker.IsEnabled()),
	)
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
