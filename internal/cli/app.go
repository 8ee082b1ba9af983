package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/emiliopalmerini/msplit/internal/adapters/memory"
	"github.com/emiliopalmerini/msplit/internal/adapters/otel"
	"github.com/emiliopalmerini/msplit/internal/adapters/redis"
	"github.com/emiliopalmerini/msplit/internal/adapters/turso"
	"github.com/emiliopalmerini/msplit/internal/infrastructure/config"
	"github.com/emiliopalmerini/msplit/internal/logging"
	"github.com/emiliopalmerini/msplit/internal/policy"
	"github.com/emiliopalmerini/msplit/internal/ports"
	"github.com/emiliopalmerini/msplit/internal/split"
)

// AppContext holds all shared dependencies for CLI commands.
type AppContext struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   ports.Store
	Metrics ports.MetricsExporter
	Repo    *split.Repository
	Engine  *split.Engine
}

// NewAppContext opens the configured store and wires the engine on top.
// Log lines go to logOut.
func NewAppContext(ctx context.Context, cfg *config.Config, logOut io.Writer) (*AppContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Split.LogLevel, logOut, cfg.Split.LogNoColor)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s store: %w", cfg.Split.Store, err)
	}

	return newAppContext(ctx, cfg, logger, store), nil
}

func newAppContext(ctx context.Context, cfg *config.Config, logger *slog.Logger, store ports.Store) *AppContext {
	var metrics ports.MetricsExporter = otel.NewNoOpExporter()
	if cfg.OTEL.Enabled {
		exp, err := otel.NewExporter(ctx, cfg.OTEL)
		if err != nil {
			logger.Warn("metrics export disabled", "error", err)
		} else {
			metrics = exp
		}
	}

	repo := split.NewRepository(store, split.WithRepositoryLogger(logger))
	engine := split.NewEngine(repo,
		split.WithAllowMultiple(cfg.Split.AllowMultipleExperiments),
		split.WithFailover(cfg.Split.DBFailover),
		split.WithExclusionPolicy(policy.NewIgnoredAddresses(cfg.Split.IgnoreIPAddresses...)),
		split.WithMetrics(metrics),
		split.WithLogger(logger),
		split.WithErrorObserver(func(err error) {
			logger.Error("store error", "error", err)
		}),
	)

	return &AppContext{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Metrics: metrics,
		Repo:    repo,
		Engine:  engine,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (ports.Store, error) {
	switch cfg.Split.Store {
	case config.StoreMemory:
		return memory.NewStore(), nil
	case config.StoreTurso:
		return turso.OpenStore(ctx, cfg.Database.URL, cfg.Database.AuthToken)
	default:
		return redis.NewStore(ctx, redis.Config{
			URL:         cfg.Redis.URL,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
	}
}

// Close releases all resources held by the AppContext.
func (a *AppContext) Close(ctx context.Context) error {
	var firstErr error
	if a.Metrics != nil {
		firstErr = a.Metrics.Close(ctx)
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
