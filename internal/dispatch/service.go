package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"shelfcheck/internal/pubsub"
)

// RequestSource delivers batches of requested titles for a catalog.
type RequestSource interface {
	ConsumeRequests(ctx context.Context, catalog, group string, fn func(context.Context, []string) error) (pubsub.Handle, error)
}

// Service runs one dispatcher per configured catalog.
type Service struct {
	source      RequestSource
	lookups     Lookups
	limiter     Limiter
	logger      *slog.Logger
	concurrency int
}

func NewService(source RequestSource, lookups Lookups, limiter Limiter, logger *slog.Logger, concurrency int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:      source,
		lookups:     lookups,
		limiter:     limiter,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Start subscribes a dispatcher to each catalog's request topic. The
// subscriptions live until the broker is closed.
func (s *Service) Start(ctx context.Context, catalogs ...string) error {
	for _, c := range catalogs {
		d := NewDispatcher(c, s.lookups, s.limiter, s.logger, s.concurrency)
		if _, err := s.source.ConsumeRequests(ctx, d.catalog, GroupID(d.catalog), d.HandleBatch); err != nil {
			return fmt.Errorf("start dispatcher for %s: %w", c, err)
		}
		s.logger.InfoContext(ctx, "dispatcher started", "catalog", d.catalog)
	}
	return nil
}

// GroupID is the durable consumer identity of a catalog's dispatcher.
func GroupID(catalog string) string {
	return "dispatch-" + catalog
}
