package collection

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"shelfcheck/internal/pubsub"
	"shelfcheck/pkg/domain"
	dErrors "shelfcheck/pkg/domain-errors"
)

// lookupReadConcurrency bounds concurrent lookup reads while building a vector.
const lookupReadConcurrency = 16

func (s *Service) loadItems(ctx context.Context, r *resolver, refresh bool) error {
	st := &r.doc.State
	if st.LastRefresh != nil && !refresh {
		return nil
	}
	ctx, span := tracer.Start(ctx, "collection.LoadItems")
	defer span.End()
	span.SetAttributes(attribute.String("collection", r.id.String()), attribute.Bool("refresh", refresh))

	listing, err := s.items.FetchItems(ctx, r.id.Owner, r.id.List)
	if err != nil {
		return err
	}

	if st.Availability != nil && !sameMembership(st.Items, listing.Items) {
		s.logger.InfoContext(ctx, "membership changed, discarding availability",
			"collection", r.id.String(),
			"previous", len(st.Items),
			"current", len(listing.Items),
		)
		s.unsubscribeAll(ctx, r)
		st.Availability = nil
		st.Catalog = ""
	}
	refreshed := s.now()
	st.Title = listing.Title
	st.Items = listing.Items
	st.LastRefresh = &refreshed
	if err := r.doc.Write(ctx); err != nil {
		return err
	}
	r.reindex()
	r.publish()
	s.logger.DebugContext(ctx, "collection items loaded", "collection", r.id.String(), "items", len(st.Items))
	return nil
}

func (s *Service) loadAvailability(ctx context.Context, r *resolver, catalog string) (domain.Vector, error) {
	catalog = strings.ToLower(strings.TrimSpace(catalog))
	if !s.catalogs.Has(catalog) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown catalog %q", catalog))
	}
	if err := s.loadItems(ctx, r, false); err != nil {
		return nil, err
	}

	st := &r.doc.State
	retry := false
	if st.Availability != nil {
		switch {
		case st.Catalog != catalog:
			s.unsubscribeAll(ctx, r)
			st.Availability = nil
		case st.Availability.Pending() == 0:
			return st.Availability.Clone(), nil
		default:
			// Requests for these slots may have failed; ask again.
			retry = true
		}
	}

	ctx, span := tracer.Start(ctx, "collection.LoadAvailability")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", r.id.String()),
		attribute.String("catalog", catalog),
		attribute.Int("items", len(st.Items)),
		attribute.Bool("retry", retry),
	)

	if !retry {
		vec := domain.NewVector(len(st.Items))
		if err := s.readLookups(ctx, catalog, st.Items, vec, nil); err != nil {
			return nil, err
		}
		st.Catalog = catalog
		st.Availability = vec
	}

	if st.Availability.Pending() > 0 {
		if err := s.requestMissing(ctx, r, catalog); err != nil {
			s.unsubscribeAll(ctx, r)
			st.Availability = nil
			st.Catalog = ""
			if werr := r.doc.Write(ctx); werr != nil {
				s.logger.ErrorContext(ctx, "failed to persist reset availability", "collection", r.id.String(), "error", werr)
			}
			r.publish()
			return nil, err
		}
	}

	if err := r.doc.Write(ctx); err != nil {
		return nil, err
	}
	r.publish()
	pending := st.Availability.Pending()
	span.SetAttributes(attribute.Int("pending", pending))
	s.logger.InfoContext(ctx, "availability loaded",
		"collection", r.id.String(),
		"catalog", catalog,
		"items", len(st.Items),
		"pending", pending,
	)
	r.observers.Notify(ctx, Notification{Updates: resolvedSlots(st.Items, st.Availability), Pending: pending})
	return st.Availability.Clone(), nil
}

// requestMissing subscribes to results unless a subscription is already
// held, then catches up on anything resolved since the first read, then
// publishes what is still missing. The subscription is persisted before any
// request leaves.
func (s *Service) requestMissing(ctx context.Context, r *resolver, catalog string) error {
	st := &r.doc.State
	if len(st.Subscriptions) == 0 {
		h, err := s.channels.SubscribeResults(ctx, catalog, s.resultHandler(r.id.String()))
		if err != nil {
			return err
		}
		st.Subscriptions = append(st.Subscriptions, h)
		if err := r.doc.Write(ctx); err != nil {
			return err
		}
	}

	pending := make([]int, 0, st.Availability.Pending())
	for i, slot := range st.Availability {
		if slot == nil {
			pending = append(pending, i)
		}
	}
	if err := s.readLookups(ctx, catalog, st.Items, st.Availability, pending); err != nil {
		return err
	}
	if st.Availability.Pending() == 0 {
		s.unsubscribeAll(ctx, r)
		return nil
	}

	for batch := range slices.Chunk(r.missingTitles(), requestBatchSize) {
		if err := s.channels.PublishRequests(ctx, catalog, batch); err != nil {
			return err
		}
		titlesRequested.WithLabelValues(catalog).Add(float64(len(batch)))
	}
	return nil
}

// readLookups fills vec from cached lookup results. indexes restricts the
// read to those positions; nil reads every item.
func (s *Service) readLookups(ctx context.Context, catalog string, items []domain.Item, vec domain.Vector, indexes []int) error {
	if indexes == nil {
		indexes = make([]int, len(items))
		for i := range items {
			indexes[i] = i
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupReadConcurrency)
	for _, i := range indexes {
		g.Go(func() error {
			tags, ok, err := s.lookups.Result(gctx, domain.NewLookupKey(catalog, items[i].Title))
			if err != nil {
				return err
			}
			if ok {
				vec[i] = tags
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) applyResults(ctx context.Context, r *resolver, events []pubsub.LookupCompleted) error {
	st := &r.doc.State
	if st.Availability == nil {
		return nil
	}

	prev := st.Availability.Clone()
	var updates []SlotUpdate
	for _, ev := range events {
		if !strings.EqualFold(ev.Catalog, st.Catalog) {
			continue
		}
		tags := ev.Tags
		if tags == nil {
			tags = domain.Resolved()
		}
		for _, i := range r.index[domain.NormalizeTitle(ev.Title)] {
			if i >= len(st.Availability) || st.Availability[i] != nil {
				continue
			}
			st.Availability[i] = tags.Clone()
			updates = append(updates, SlotUpdate{Index: i, Title: st.Items[i].Title, Tags: tags.Clone()})
		}
	}
	if len(updates) == 0 {
		return nil
	}
	if err := r.doc.Write(ctx); err != nil {
		st.Availability = prev
		return err
	}
	r.publish()
	slotsResolved.WithLabelValues(st.Catalog).Add(float64(len(updates)))

	pending := st.Availability.Pending()
	r.observers.Notify(ctx, Notification{Updates: updates, Pending: pending})

	if pending == 0 && len(st.Subscriptions) > 0 {
		s.unsubscribeAll(ctx, r)
		if err := r.doc.Write(ctx); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "availability resolved", "collection", r.id.String(), "catalog", st.Catalog)
	}
	return nil
}

// unsubscribeAll drops every result subscription. Failures are logged; a
// stale subscription only delivers events that are ignored.
func (s *Service) unsubscribeAll(ctx context.Context, r *resolver) {
	for _, h := range r.doc.State.Subscriptions {
		if err := s.channels.Unsubscribe(ctx, h); err != nil {
			s.logger.WarnContext(ctx, "failed to unsubscribe", "collection", r.id.String(), "handle", h.ID, "error", err)
		}
	}
	r.doc.State.Subscriptions = nil
}

func resolvedSlots(items []domain.Item, vec domain.Vector) []SlotUpdate {
	var out []SlotUpdate
	for i, slot := range vec {
		if slot != nil {
			out = append(out, SlotUpdate{Index: i, Title: items[i].Title, Tags: slot.Clone()})
		}
	}
	return out
}
