// Package dispatch drains a catalog's lookup request topic, pacing catalog
// queries through the rate limiter.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"shelfcheck/pkg/domain"
	"shelfcheck/pkg/platform/sentinel"
	pstrings "shelfcheck/pkg/platform/strings"
)

var tracer = otel.Tracer("shelfcheck/internal/dispatch")

// Lookups is the lookup unit surface the dispatcher drives.
type Lookups interface {
	Result(ctx context.Context, key domain.LookupKey) (domain.Tags, bool, error)
	Execute(ctx context.Context, key domain.LookupKey) error
}

// Limiter admits one catalog query per permit.
type Limiter interface {
	Acquire(ctx context.Context, partition string) error
}

// Dispatcher handles request batches for one catalog.
type Dispatcher struct {
	catalog     string
	lookups     Lookups
	limiter     Limiter
	logger      *slog.Logger
	concurrency int
}

// NewDispatcher creates a dispatcher for catalog. concurrency bounds the
// titles in flight per batch; zero means unbounded.
func NewDispatcher(catalog string, lookups Lookups, limiter Limiter, logger *slog.Logger, concurrency int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		catalog:     strings.ToLower(catalog),
		lookups:     lookups,
		limiter:     limiter,
		logger:      logger,
		concurrency: concurrency,
	}
}

// HandleBatch resolves every distinct title in the batch and waits for all
// of them. Per-title failures are logged and never fail the batch, but a
// batch interrupted by shutdown returns an error so it is delivered again.
func (d *Dispatcher) HandleBatch(ctx context.Context, titles []string) error {
	ctx, span := tracer.Start(ctx, "dispatch.HandleBatch")
	defer span.End()
	span.SetAttributes(attribute.String("catalog", d.catalog), attribute.Int("titles", len(titles)))
	start := time.Now()
	defer func() {
		batchDuration.WithLabelValues(d.catalog).Observe(time.Since(start).Seconds())
	}()

	unique := pstrings.DedupeBy(titles, domain.NormalizeTitle)
	if skipped := len(titles) - len(unique); skipped > 0 {
		titlesHandled.WithLabelValues(d.catalog, "duplicate").Add(float64(skipped))
	}

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for _, title := range unique {
		key := domain.NewLookupKey(d.catalog, title)
		g.Go(func() error {
			return d.handle(ctx, key)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatch batch for %s: %w", d.catalog, err)
	}
	return nil
}

// handle returns an error only when the title was abandoned because the
// process is stopping.
func (d *Dispatcher) handle(ctx context.Context, key domain.LookupKey) error {
	if _, ok, err := d.lookups.Result(ctx, key); err == nil && ok {
		titlesHandled.WithLabelValues(d.catalog, "cached").Inc()
		return nil
	}
	if err := d.limiter.Acquire(ctx, d.catalog); err != nil {
		if stop := interrupted(ctx, err); stop != nil {
			titlesHandled.WithLabelValues(d.catalog, "interrupted").Inc()
			return stop
		}
		titlesHandled.WithLabelValues(d.catalog, "failed").Inc()
		d.logger.WarnContext(ctx, "rate limiter rejected lookup",
			"catalog", d.catalog,
			"title", key.Title,
			"error", err,
		)
		return nil
	}
	if err := d.lookups.Execute(ctx, key); err != nil {
		if stop := interrupted(ctx, err); stop != nil {
			titlesHandled.WithLabelValues(d.catalog, "interrupted").Inc()
			return stop
		}
		titlesHandled.WithLabelValues(d.catalog, "failed").Inc()
		d.logger.ErrorContext(ctx, "lookup failed",
			"catalog", d.catalog,
			"title", key.Title,
			"error", err,
		)
		return nil
	}
	titlesHandled.WithLabelValues(d.catalog, "executed").Inc()
	return nil
}

func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, sentinel.ErrClosed) {
		return err
	}
	return nil
}
