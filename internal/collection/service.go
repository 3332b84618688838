// Package collection resolves the availability of every item in a list
// against one catalog and streams progress to observers.
package collection

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"shelfcheck/internal/actor"
	"shelfcheck/internal/observer"
	"shelfcheck/internal/pubsub"
	"shelfcheck/internal/state"
	"shelfcheck/pkg/domain"
)

const (
	stateKind = "collection"
	// requestBatchSize caps the titles sent in one request publish.
	requestBatchSize = 25
)

var tracer = otel.Tracer("shelfcheck/internal/collection")

// ItemSource fetches list membership.
type ItemSource interface {
	FetchItems(ctx context.Context, owner, list string) (domain.Listing, error)
}

// Lookups reads cached lookup results.
type Lookups interface {
	Result(ctx context.Context, key domain.LookupKey) (domain.Tags, bool, error)
}

// Channels is the request/result messaging the resolver relies on.
type Channels interface {
	PublishRequests(ctx context.Context, catalog string, titles []string) error
	SubscribeResults(ctx context.Context, catalog string, fn func(context.Context, []pubsub.LookupCompleted) error) (pubsub.Handle, error)
	ResumeResults(ctx context.Context, handle pubsub.Handle, fn func(context.Context, []pubsub.LookupCompleted) error) error
	Unsubscribe(ctx context.Context, handle pubsub.Handle) error
}

// Catalogs reports which catalog ids are configured.
type Catalogs interface {
	Has(id string) bool
}

// Service owns every resolver in the process.
type Service struct {
	units     *actor.Registry[*resolver]
	store     state.Store
	items     ItemSource
	lookups   Lookups
	channels  Channels
	catalogs  Catalogs
	logger    *slog.Logger
	now       func() time.Time
	observers []observer.Option
	sweep     time.Duration
}

// Option configures a Service.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	now         func() time.Time
	idleTimeout time.Duration
	observerTTL time.Duration
	sweep       time.Duration
	metrics     *actor.Metrics
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for refresh stamps and observer expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithIdleTimeout sets how long an unobserved resolver stays in memory.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

// WithObserverTTL sets how long an observer survives without a delivery or renewal.
func WithObserverTTL(d time.Duration) Option {
	return func(c *config) {
		c.observerTTL = d
	}
}

// WithSweepInterval sets how often Run sweeps idle observers and resolvers.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweep = d
		}
	}
}

// WithActorMetrics records resolver activations on m.
func WithActorMetrics(m *actor.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// New creates the resolver service. Resolvers activate on first use and
// resume any result subscriptions they held.
func New(store state.Store, items ItemSource, lookups Lookups, channels Channels, catalogs Catalogs, opts ...Option) *Service {
	cfg := config{
		logger:      slog.Default(),
		now:         time.Now,
		idleTimeout: 10 * time.Minute,
		observerTTL: observer.DefaultTTL,
		sweep:       time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{
		store:    store,
		items:    items,
		lookups:  lookups,
		channels: channels,
		catalogs: catalogs,
		logger:   cfg.logger,
		now:      cfg.now,
		observers: []observer.Option{
			observer.WithTTL(cfg.observerTTL),
			observer.WithClock(cfg.now),
			observer.WithLogger(cfg.logger),
		},
		sweep: cfg.sweep,
	}
	s.units = actor.NewRegistry("collection", s.activate,
		actor.WithIdleTimeout(cfg.idleTimeout),
		actor.WithLogger(cfg.logger),
		actor.WithClock(cfg.now),
		actor.WithMetrics(cfg.metrics),
		actor.WithKeepAlive(func(r *resolver) bool { return r.observers.Len() > 0 }),
	)
	return s
}

func (s *Service) activate(ctx context.Context, key string) (*resolver, error) {
	id, err := domain.ParseCollectionID(key)
	if err != nil {
		return nil, err
	}
	r := &resolver{
		id:        id,
		doc:       state.NewPersistent[State](s.store, stateKind, key),
		observers: observer.NewRegistry[Notification](s.observers...),
	}
	if err := r.doc.Load(ctx); err != nil {
		return nil, err
	}
	r.reindex()
	r.publish()

	for _, h := range r.doc.State.Subscriptions {
		if err := s.channels.ResumeResults(ctx, h, s.resultHandler(key)); err != nil {
			return nil, err
		}
	}
	if n := len(r.doc.State.Subscriptions); n > 0 {
		s.logger.InfoContext(ctx, "resumed result subscriptions", "collection", key, "count", n)
	}
	return r, nil
}

func (s *Service) resultHandler(key string) func(context.Context, []pubsub.LookupCompleted) error {
	return func(ctx context.Context, events []pubsub.LookupCompleted) error {
		return s.units.Call(ctx, key, func(ctx context.Context, r *resolver) error {
			return s.applyResults(ctx, r, events)
		})
	}
}

// LoadItems fetches membership unless it is cached. refresh always fetches.
func (s *Service) LoadItems(ctx context.Context, id domain.CollectionID, refresh bool) error {
	return s.units.Call(ctx, id.String(), func(ctx context.Context, r *resolver) error {
		return s.loadItems(ctx, r, refresh)
	})
}

// LoadAvailability builds the availability vector for catalog and requests
// lookups for every unresolved title. It returns the vector as built.
func (s *Service) LoadAvailability(ctx context.Context, id domain.CollectionID, catalog string) (domain.Vector, error) {
	var vec domain.Vector
	err := s.units.Call(ctx, id.String(), func(ctx context.Context, r *resolver) error {
		v, err := s.loadAvailability(ctx, r, catalog)
		vec = v
		return err
	})
	return vec, err
}

// Snapshot returns the latest published view without waiting behind writers.
func (s *Service) Snapshot(ctx context.Context, id domain.CollectionID) (Snapshot, error) {
	r, err := s.units.Get(ctx, id.String())
	if err != nil {
		return Snapshot{}, err
	}
	return *r.snapshot.Load(), nil
}

func (s *Service) GetTitle(ctx context.Context, id domain.CollectionID) (string, error) {
	snap, err := s.Snapshot(ctx, id)
	return snap.Title, err
}

func (s *Service) GetItems(ctx context.Context, id domain.CollectionID) ([]domain.Item, error) {
	snap, err := s.Snapshot(ctx, id)
	return snap.Items, err
}

// GetAvailability returns nil until LoadAvailability has built the vector.
func (s *Service) GetAvailability(ctx context.Context, id domain.CollectionID) (domain.Vector, error) {
	snap, err := s.Snapshot(ctx, id)
	return snap.Availability, err
}

// Subscribe registers sink for the collection's notifications. Subscribing
// again with the same observerID renews it.
func (s *Service) Subscribe(ctx context.Context, id domain.CollectionID, observerID string, sink observer.Sink[Notification]) error {
	r, err := s.units.Get(ctx, id.String())
	if err != nil {
		return err
	}
	r.observers.Subscribe(observerID, sink)
	return nil
}

func (s *Service) Unsubscribe(ctx context.Context, id domain.CollectionID, observerID string) error {
	r, err := s.units.Get(ctx, id.String())
	if err != nil {
		return err
	}
	r.observers.Unsubscribe(observerID)
	return nil
}

// Run sweeps idle observers and resolvers until ctx ends.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep drops expired observers, then evicts idle resolvers.
func (s *Service) Sweep() {
	s.units.Range(func(_ string, r *resolver) {
		r.observers.Sweep()
	})
	s.units.Sweep()
}

func (s *Service) Close(ctx context.Context) error {
	return s.units.Close(ctx)
}
