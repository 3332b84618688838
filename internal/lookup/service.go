// Package lookup resolves one title against one catalog, exactly once.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shelfcheck/internal/actor"
	"shelfcheck/internal/catalog"
	"shelfcheck/internal/pubsub"
	"shelfcheck/internal/state"
	"shelfcheck/pkg/domain"
)

const stateKind = "lookup"

var tracer = otel.Tracer("shelfcheck/internal/lookup")

// State is the persisted lookup outcome. LastRefresh is set once the
// catalog has been queried.
type State struct {
	Result      domain.Tags `json:"result"`
	LastRefresh *time.Time  `json:"last_refresh,omitempty"`
}

// Catalogs resolves a catalog id to its query client.
type Catalogs interface {
	Get(id string) (catalog.Querier, error)
}

// ResultPublisher announces completed lookups.
type ResultPublisher interface {
	PublishResult(ctx context.Context, ev pubsub.LookupCompleted) error
}

type unit struct {
	doc      *state.Persistent[State]
	snapshot atomic.Pointer[State]
}

func (u *unit) publish() {
	st := State{Result: u.doc.State.Result.Clone(), LastRefresh: u.doc.State.LastRefresh}
	u.snapshot.Store(&st)
}

// Service owns every lookup unit in the process.
type Service struct {
	units    *actor.Registry[*unit]
	store    state.Store
	catalogs Catalogs
	results  ResultPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	now         func() time.Time
	idleTimeout time.Duration
	metrics     *actor.Metrics
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithIdleTimeout sets how long an unused unit stays in memory.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

func WithActorMetrics(m *actor.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

func New(store state.Store, catalogs Catalogs, results ResultPublisher, opts ...Option) *Service {
	cfg := config{
		logger:      slog.Default(),
		now:         time.Now,
		idleTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{
		store:    store,
		catalogs: catalogs,
		results:  results,
		logger:   cfg.logger,
		now:      cfg.now,
	}
	s.units = actor.NewRegistry("lookup", s.activate,
		actor.WithIdleTimeout(cfg.idleTimeout),
		actor.WithLogger(cfg.logger),
		actor.WithClock(cfg.now),
		actor.WithMetrics(cfg.metrics),
	)
	return s
}

func (s *Service) activate(ctx context.Context, key string) (*unit, error) {
	u := &unit{doc: state.NewPersistent[State](s.store, stateKind, key)}
	if err := u.doc.Load(ctx); err != nil {
		return nil, err
	}
	u.publish()
	return u, nil
}

// Execute queries the catalog for key unless a result is already stored.
// The result is persisted before it is published.
func (s *Service) Execute(ctx context.Context, key domain.LookupKey) error {
	return s.units.Call(ctx, key.String(), func(ctx context.Context, u *unit) error {
		return s.execute(ctx, u, key)
	})
}

func (s *Service) execute(ctx context.Context, u *unit, key domain.LookupKey) (err error) {
	catalogID := strings.ToLower(key.Catalog)
	if u.doc.State.LastRefresh != nil {
		executions.WithLabelValues(catalogID, "cached").Inc()
		return nil
	}

	ctx, span := tracer.Start(ctx, "lookup.Execute")
	span.SetAttributes(attribute.String("catalog", catalogID), attribute.String("title", key.Title))
	defer func() {
		if err != nil {
			executions.WithLabelValues(catalogID, "failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	q, err := s.catalogs.Get(catalogID)
	if err != nil {
		return err
	}
	rows, err := q.Query(ctx, key.Title)
	if err != nil {
		return fmt.Errorf("query %s: %w", key, err)
	}
	tags := parseTags(ctx, s.logger, key.Title, rows)

	prev := u.doc.State
	refreshed := s.now()
	u.doc.State = State{Result: tags, LastRefresh: &refreshed}
	if err := u.doc.Write(ctx); err != nil {
		u.doc.State = prev
		return err
	}
	u.publish()
	executions.WithLabelValues(catalogID, "queried").Inc()

	s.logger.DebugContext(ctx, "lookup resolved",
		"catalog", catalogID,
		"title", key.Title,
		"tags", tags,
		"rows", len(rows),
	)
	return s.results.PublishResult(ctx, pubsub.LookupCompleted{
		Catalog: catalogID,
		Title:   key.Title,
		Tags:    tags.Clone(),
	})
}

// Result returns the stored tags for key. ok is false until Execute has
// succeeded. It never waits behind a running Execute.
func (s *Service) Result(ctx context.Context, key domain.LookupKey) (tags domain.Tags, ok bool, err error) {
	u, err := s.units.Get(ctx, key.String())
	if err != nil {
		return nil, false, err
	}
	st := u.snapshot.Load()
	if st == nil || st.LastRefresh == nil {
		return nil, false, nil
	}
	return st.Result.Clone(), true, nil
}

// Run evicts idle units until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.units.Run(ctx)
}

func (s *Service) Close(ctx context.Context) error {
	return s.units.Close(ctx)
}
