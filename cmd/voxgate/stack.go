package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/httpclient"
	"github.com/kadirpekel/voxgate/pkg/interaction"
	"github.com/kadirpekel/voxgate/pkg/job"
	"github.com/kadirpekel/voxgate/pkg/logger"
	"github.com/kadirpekel/voxgate/pkg/observability"
	"github.com/kadirpekel/voxgate/pkg/registry"
	"github.com/kadirpekel/voxgate/pkg/server"
)

// stack holds the long-lived components shared by the commands.
type stack struct {
	cfg  *config.Config
	pool *config.DBPool
	obs  *observability.Manager

	client       *httpclient.Client
	registry     *registry.ServiceRegistry
	tracker      *job.Tracker
	interactions *interaction.Logger

	closers []func(context.Context) error
}

func newStack(ctx context.Context, cfg *config.Config) (_ *stack, err error) {
	s := &stack{cfg: cfg, pool: config.NewDBPool()}
	s.closers = append(s.closers, func(context.Context) error { return s.pool.Close() })
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	s.obs, err = observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	s.closers = append(s.closers, s.obs.Shutdown)
	metrics := s.obs.Metrics()

	s.client = httpclient.New(
		httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.Dispatch.TLS.InsecureSkipVerify,
			CACertificate:      cfg.Dispatch.TLS.CACertificate,
		}),
		httpclient.WithMaxBodyBytes(cfg.Dispatch.MaxResponseBytes),
		httpclient.WithUserAgent(cfg.Dispatch.UserAgent),
	)

	serviceStore, err := s.serviceStore(ctx)
	if err != nil {
		return nil, err
	}
	s.registry = registry.New(
		registry.WithStore(serviceStore),
		registry.WithHTTPClient(s.client),
		registry.WithEnvironment(config.SnapshotEnvironment()),
		registry.WithMetrics(metrics),
		registry.WithLogger(logger.Component("registry")),
	)

	jobStore, err := s.jobStore(ctx)
	if err != nil {
		return nil, err
	}
	s.tracker = job.NewTracker(jobStore,
		job.WithMetrics(metrics),
		job.WithLogger(logger.Component("jobs")),
	)
	s.closers = append(s.closers, func(context.Context) error { return s.tracker.Close() })

	sink, err := s.interactionSink(ctx)
	if err != nil {
		return nil, err
	}
	s.interactions = interaction.New(sink, cfg.Interactions.Buffer,
		interaction.WithMetrics(metrics),
		interaction.WithLogger(logger.Component("interactions")),
	)
	s.closers = append(s.closers, s.interactions.Close)

	return s, nil
}

func (s *stack) db(ctx context.Context) (*sql.DB, string, error) {
	if s.cfg.Database == nil {
		return nil, "", fmt.Errorf("database is not configured")
	}
	db, err := s.pool.Get(ctx, s.cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return db, s.cfg.Database.Dialect(), nil
}

func (s *stack) serviceStore(ctx context.Context) (registry.ServiceStore, error) {
	if s.cfg.Tenants.ServiceStore != config.BackendSQL {
		return registry.NewMemoryStore(), nil
	}
	db, dialect, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	return registry.NewSQLStore(ctx, db, dialect)
}

func (s *stack) jobStore(ctx context.Context) (job.Store, error) {
	if s.cfg.Jobs.Backend != config.BackendSQL {
		return job.NewMemoryStore(), nil
	}
	db, dialect, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	return job.NewSQLStore(ctx, db, dialect)
}

func (s *stack) interactionSink(ctx context.Context) (interaction.Sink, error) {
	cfg := s.cfg.Interactions
	switch cfg.Backend {
	case config.BackendSQL:
		db, dialect, err := s.db(ctx)
		if err != nil {
			return nil, err
		}
		return interaction.NewSQLSink(ctx, db, dialect)

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return interaction.NewRedisSink(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen), nil
	}
	return interaction.NewMemorySink(cfg.MemoryCapacity), nil
}

// Close releases components in reverse order of creation.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Shutdown finished with errors", "error", err)
		return err
	}
	return nil
}

// backends names the configured storage for the status route.
func backends(cfg *config.Config) server.Backends {
	b := server.Backends{
		Jobs:         string(cfg.Jobs.Backend),
		Interactions: string(cfg.Interactions.Backend),
		ServiceStore: string(cfg.Tenants.ServiceStore),
	}
	if cfg.Database != nil {
		b.Database = cfg.Database.Dialect()
	}
	return b
}
