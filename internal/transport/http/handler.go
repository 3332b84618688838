// Package httptransport exposes collections over HTTP and streams
// availability as Server-Sent Events.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shelfcheck/internal/collection"
	"shelfcheck/internal/observer"
	"shelfcheck/internal/platform/metrics"
	"shelfcheck/internal/platform/middleware"
	"shelfcheck/pkg/domain"
	dErrors "shelfcheck/pkg/domain-errors"
	"shelfcheck/pkg/platform/httputil"
	"shelfcheck/pkg/platform/sse"
)

// CollectionService is the resolver surface the handlers drive.
type CollectionService interface {
	LoadItems(ctx context.Context, id domain.CollectionID, refresh bool) error
	LoadAvailability(ctx context.Context, id domain.CollectionID, catalog string) (domain.Vector, error)
	Snapshot(ctx context.Context, id domain.CollectionID) (collection.Snapshot, error)
	Subscribe(ctx context.Context, id domain.CollectionID, observerID string, sink observer.Sink[collection.Notification]) error
	Unsubscribe(ctx context.Context, id domain.CollectionID, observerID string) error
}

// Handler serves the /lists routes.
type Handler struct {
	collections    CollectionService
	logger         *slog.Logger
	metrics        *metrics.Metrics
	defaultCatalog string
	keepAlive      time.Duration
	deliverTimeout time.Duration
	throttle       func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithKeepAlive sets the interval between stream keep-alives. Each keep-alive
// also renews the stream's observer subscription.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithDeliverTimeout bounds how long a notification may wait on a slow stream
// before the stream's observer is dropped.
func WithDeliverTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.deliverTimeout = d
		}
	}
}

// WithThrottle wraps every collection route, typically with a per-client rate limit.
func WithThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.throttle = mw
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(collections CollectionService, defaultCatalog string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		collections:    collections,
		logger:         logger,
		defaultCatalog: defaultCatalog,
		keepAlive:      30 * time.Second,
		deliverTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the collection routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/lists/{owner}/{list}", func(r chi.Router) {
		if h.throttle != nil {
			r.Use(h.throttle)
		}
		r.Get("/", h.handleGet)
		r.Post("/load", h.handleLoad)
		r.Post("/availability", h.handleAvailability)
		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) collectionID(r *http.Request) (domain.CollectionID, error) {
	return domain.NewCollectionID(chi.URLParam(r, "owner"), chi.URLParam(r, "list"))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.collectionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snap, err := h.collections.Snapshot(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to read collection", id, err)
		return
	}
	if !snap.Loaded {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "collection has not been loaded"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(id, snap))
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.collectionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		refresh, err = strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "refresh must be a boolean"))
			return
		}
	}

	if err := h.collections.LoadItems(ctx, id, refresh); err != nil {
		h.fail(ctx, w, "failed to load collection items", id, err)
		return
	}
	snap, err := h.collections.Snapshot(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to read collection", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(id, snap))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.collectionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	catalog := r.URL.Query().Get("catalog")
	if catalog == "" {
		catalog = h.defaultCatalog
	}

	if _, err := h.collections.LoadAvailability(ctx, id, catalog); err != nil {
		h.fail(ctx, w, "failed to load availability", id, err)
		return
	}
	snap, err := h.collections.Snapshot(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to read collection", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(id, snap))
}

// handleEvents subscribes before reading the snapshot so no notification
// falls between the two. Slots may therefore be sent twice; clients apply
// them by index.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.collectionID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	observerID := uuid.NewString()
	sink := newStreamSink(ctx.Done(), h.deliverTimeout)
	if err := h.collections.Subscribe(ctx, id, observerID, sink); err != nil {
		h.fail(ctx, w, "failed to subscribe to collection", id, err)
		return
	}
	defer func() {
		if err := h.collections.Unsubscribe(context.WithoutCancel(ctx), id, observerID); err != nil {
			h.logger.WarnContext(ctx, "failed to unsubscribe stream", "collection", id.String(), "error", err)
		}
	}()

	snap, err := h.collections.Snapshot(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to read collection", id, err)
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		h.logger.ErrorContext(ctx, "event stream unavailable", "request_id", middleware.GetRequestID(ctx), "error", err)
		return
	}
	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	if snap.Availability != nil {
		for i, tags := range snap.Availability {
			if tags == nil {
				continue
			}
			if err := stream.Event("item", collection.SlotUpdate{Index: i, Title: snap.Items[i].Title, Tags: tags}); err != nil {
				return
			}
		}
		pending := snap.Availability.Pending()
		if err := stream.Event("pending", pendingEvent{Pending: pending}); err != nil || pending == 0 {
			return
		}
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sink.updates:
			for _, u := range n.Updates {
				if err := stream.Event("item", u); err != nil {
					return
				}
			}
			if err := stream.Event("pending", pendingEvent{Pending: n.Pending}); err != nil || n.Pending == 0 {
				return
			}
		case <-ticker.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
			if err := h.collections.Subscribe(ctx, id, observerID, sink); err != nil {
				h.logger.WarnContext(ctx, "failed to renew stream subscription", "collection", id.String(), "error", err)
				return
			}
		}
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, id domain.CollectionID, err error) {
	log := h.logger.WarnContext
	if httputil.StatusOf(err) >= http.StatusInternalServerError {
		log = h.logger.ErrorContext
	}
	log(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"collection", id.String(),
		"error", err,
	)
	httputil.WriteError(w, err)
}
