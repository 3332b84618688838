// Package app assembles the service from configuration: storage backends,
// the message broker, catalog clients and the lookup, dispatch and
// collection services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"shelfcheck/internal/actor"
	"shelfcheck/internal/catalog"
	"shelfcheck/internal/collection"
	"shelfcheck/internal/dispatch"
	"shelfcheck/internal/letterboxd"
	"shelfcheck/internal/lookup"
	"shelfcheck/internal/platform/config"
	"shelfcheck/internal/platform/metrics"
	"shelfcheck/internal/platform/postgres"
	"shelfcheck/internal/platform/redis"
	"shelfcheck/internal/pubsub"
	"shelfcheck/internal/ratelimit"
	ratelimitmetrics "shelfcheck/internal/ratelimit/metrics"
	ratelimitmw "shelfcheck/internal/ratelimit/middleware"
	"shelfcheck/internal/ratelimit/ports"
	"shelfcheck/internal/ratelimit/store/bucket"
	"shelfcheck/internal/state"
	httptransport "shelfcheck/internal/transport/http"
)

// App owns every long-lived component of a running process.
type App struct {
	Config      config.Config
	Collections *collection.Service
	Lookups     *lookup.Service
	Catalogs    *catalog.Directory

	logger   *slog.Logger
	broker   pubsub.Broker
	dispatch *dispatch.Service
	throttle *ratelimitmw.Middleware
	checks   []httptransport.HealthCheck
	closers  []func() error
	cancel   context.CancelFunc
}

// New connects the configured backends and builds the services. Nothing
// consumes messages until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.logger

	var (
		redisClient *redis.Client
		pg          *postgres.DB
		err         error
	)
	if uses(cfg, config.BackendRedis) {
		redisClient, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, redisClient.Close)
		a.checks = append(a.checks, httptransport.HealthCheck{Name: "redis", Check: redisClient.Health})
	}
	if uses(cfg, config.BackendPostgres) {
		pg, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.checks = append(a.checks, httptransport.HealthCheck{Name: "postgres", Check: pg.Health})
	}

	store, err := newStateStore(ctx, cfg.Backends.State, redisClient, pg)
	if err != nil {
		return err
	}
	windows, err := newWindowStore(ctx, cfg.Backends.Limiter, redisClient, pg)
	if err != nil {
		return err
	}
	if err := a.openBroker(ctx); err != nil {
		return err
	}

	a.Catalogs = catalog.NewDirectory()
	for _, c := range cfg.Catalogs {
		client, err := catalog.New(c.ID, c.SearchURL,
			catalog.WithHeaders(catalogHeaders(c.Headers)),
			catalog.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		a.Catalogs.Register(client.ID(), client)
	}

	limiter, err := ratelimit.New(windows, ratelimit.Options{
		PermitLimit:       cfg.Limiter.PermitLimit,
		Window:            cfg.Limiter.Window(),
		SegmentsPerWindow: cfg.Limiter.SegmentsPerWindow,
		QueueLimit:        cfg.Limiter.QueueLimit,
	}, ratelimit.WithLogger(logger), ratelimit.WithMetrics(ratelimitmetrics.New()))
	if err != nil {
		return fmt.Errorf("build limiter: %w", err)
	}

	a.throttle = ratelimitmw.New(windows, cfg.APILimit.Requests, cfg.APILimit.Window(), logger)

	channels := pubsub.NewChannels(a.broker, logger)
	actorMetrics := actor.NewMetrics()

	a.Lookups = lookup.New(store, a.Catalogs, channels,
		lookup.WithLogger(logger),
		lookup.WithIdleTimeout(cfg.Actors.IdleTimeout()),
		lookup.WithActorMetrics(actorMetrics),
	)
	a.dispatch = dispatch.NewService(channels, a.Lookups, limiter, logger, cfg.Actors.DispatchConcurrency)

	items := letterboxd.New(
		letterboxd.WithBaseURL(cfg.Letterboxd.BaseURL),
		letterboxd.WithUserAgent(cfg.Letterboxd.UserAgent),
		letterboxd.WithConcurrency(cfg.Letterboxd.Concurrency),
		letterboxd.WithLogger(logger),
	)
	a.Collections = collection.New(store, items, a.Lookups, channels, a.Catalogs,
		collection.WithLogger(logger),
		collection.WithIdleTimeout(cfg.Actors.IdleTimeout()),
		collection.WithObserverTTL(cfg.Actors.ObserverTTL()),
		collection.WithActorMetrics(actorMetrics),
	)
	return nil
}

func (a *App) openBroker(ctx context.Context) error {
	switch a.Config.Backends.Broker {
	case config.BackendKafka:
		k, err := pubsub.NewKafkaBroker(a.Config.Kafka.Brokers,
			pubsub.WithClientID(a.Config.Kafka.ClientID),
			pubsub.WithKafkaLogger(a.logger),
		)
		if err != nil {
			return err
		}
		a.broker = k
		if err := k.EnsureTopics(ctx, a.Config.Kafka.Partitions, a.Config.Kafka.ReplicationFactor,
			pubsub.TopicRequests, pubsub.TopicResults); err != nil {
			return err
		}
		a.checks = append(a.checks, httptransport.HealthCheck{Name: "kafka", Check: k.Health})
	default:
		a.broker = pubsub.NewMemoryBroker(pubsub.WithMemoryLogger(a.logger))
	}
	return nil
}

// Start attaches a dispatcher to every catalog and starts the background
// sweepers. They stop when ctx ends or Close is called.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.dispatch.Start(ctx, a.Catalogs.IDs()...); err != nil {
		return err
	}
	go a.Lookups.Run(ctx)
	go a.Collections.Run(ctx)
	return nil
}

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	m := metrics.New()
	h := httptransport.New(a.Collections, a.DefaultCatalog(), a.logger,
		httptransport.WithKeepAlive(a.Config.Server.StreamKeepAlive()),
		httptransport.WithMetrics(m),
		httptransport.WithThrottle(a.throttle.RateLimit),
	)
	return httptransport.NewRouter(a.logger, m, a.checks, h)
}

// Close stops consumption first so no batch is acknowledged against a
// stopped service, then the services, then storage connections.
func (a *App) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if err := a.closeBroker(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Collections.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close collections: %w", err))
	}
	if err := a.Lookups.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close lookups: %w", err))
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeBroker() error {
	if a.broker == nil {
		return nil
	}
	err := a.broker.Close()
	a.broker = nil
	if err != nil {
		return fmt.Errorf("close broker: %w", err)
	}
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if err := a.closeBroker(); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func uses(cfg config.Config, backend string) bool {
	return cfg.Backends.State == backend || cfg.Backends.Limiter == backend
}

func newStateStore(ctx context.Context, backend string, rc *redis.Client, pg *postgres.DB) (state.Store, error) {
	switch backend {
	case config.BackendRedis:
		return state.NewRedisStore(rc.Client), nil
	case config.BackendPostgres:
		s := state.NewPostgresStore(pg.Pool)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return state.NewInMemoryStore(), nil
	}
}

func newWindowStore(ctx context.Context, backend string, rc *redis.Client, pg *postgres.DB) (ports.WindowStore, error) {
	switch backend {
	case config.BackendRedis:
		return bucket.NewRedis(rc.Client), nil
	case config.BackendPostgres:
		s := bucket.NewPostgres(pg.SQL)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return bucket.NewInMemoryBucketStore(), nil
	}
}

func catalogHeaders(extra map[string]string) http.Header {
	h := catalog.DefaultHeaders()
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

// DefaultCatalog is the first configured catalog, used when a request names none.
func (a *App) DefaultCatalog() string {
	return strings.ToLower(a.Config.Catalogs[0].ID)
}
