package httptransport

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks CollectionService

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"shelfcheck/internal/collection"
	"shelfcheck/internal/observer"
	"shelfcheck/internal/transport/http/mocks"
	"shelfcheck/pkg/domain"
	dErrors "shelfcheck/pkg/domain-errors"
	"shelfcheck/pkg/platform/sentinel"
	"shelfcheck/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	collections *mocks.MockCollectionService
	router      http.Handler
	id          domain.CollectionID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.collections = mocks.NewMockCollectionService(s.ctrl)
	h := New(s.collections, "www.richlandlibrary.com", slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithKeepAlive(time.Hour),
		WithDeliverTimeout(time.Second),
	)
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
	s.id = domain.CollectionID{Owner: "alice", List: "noir"}
}

func loadedSnapshot(vec domain.Vector) collection.Snapshot {
	return collection.Snapshot{
		Title:        "Noir",
		Items:        []domain.Item{{ID: "1", Title: "Laura"}, {ID: "2", Title: "Gilda"}},
		Loaded:       true,
		Catalog:      "www.richlandlibrary.com",
		Availability: vec,
	}
}

func (s *HandlerSuite) TestGet() {
	s.Run("returns the snapshot of a loaded collection", func() {
		vec := domain.Vector{domain.Resolved(domain.TagDVD), nil}
		s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(loadedSnapshot(vec), nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/lists/Alice/Noir"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Equal("Noir", resp.Title)
		s.Len(resp.Items, 2)
		s.Require().NotNil(resp.Pending)
		s.Equal(1, *resp.Pending)
		s.Equal(domain.Tags{domain.TagDVD}, resp.Availability[0])
		s.Nil(resp.Availability[1])
	})

	s.Run("unknown collection is not found", func() {
		s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(collection.Snapshot{}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/lists/alice/noir/"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

func (s *HandlerSuite) TestRejectsBlankSegments() {
	h := New(s.collections, "www.richlandlibrary.com", slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := testutil.WithURLParams(testutil.NewRequest(s.T(), http.MethodGet, "/"), map[string]string{"owner": " ", "list": "noir"})

	rr := testutil.DoRequest(http.HandlerFunc(h.handleGet), req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func (s *HandlerSuite) TestLoad() {
	s.Run("passes refresh through", func() {
		gomock.InOrder(
			s.collections.EXPECT().LoadItems(gomock.Any(), s.id, true).Return(nil),
			s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(loadedSnapshot(nil), nil),
		)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/load?refresh=true"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Nil(resp.Pending)
		s.Nil(resp.Availability)
	})

	s.Run("rejects a malformed refresh flag", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/load?refresh=maybe"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("upstream not found maps to 404", func() {
		s.collections.EXPECT().LoadItems(gomock.Any(), s.id, false).
			Return(dErrors.New(dErrors.CodeNotFound, "list not found"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/load"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("unexpected failures hide their cause", func() {
		s.collections.EXPECT().LoadItems(gomock.Any(), s.id, false).Return(errors.New("disk on fire"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/load"))

		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "disk on fire")
	})
}

func (s *HandlerSuite) TestAvailability() {
	s.Run("defaults the catalog", func() {
		vec := domain.Vector{nil, nil}
		gomock.InOrder(
			s.collections.EXPECT().LoadAvailability(gomock.Any(), s.id, "www.richlandlibrary.com").Return(vec, nil),
			s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(loadedSnapshot(vec), nil),
		)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/availability"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().NotNil(resp.Pending)
		s.Equal(2, *resp.Pending)
	})

	s.Run("honours an explicit catalog", func() {
		s.collections.EXPECT().LoadAvailability(gomock.Any(), s.id, "other.example.org").
			Return(nil, dErrors.New(dErrors.CodeInvalidInput, "unknown catalog"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/availability?catalog=other.example.org"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("unavailable broker maps to 503", func() {
		s.collections.EXPECT().LoadAvailability(gomock.Any(), s.id, "www.richlandlibrary.com").
			Return(nil, sentinel.ErrUnavailable)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/lists/alice/noir/availability"))

		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	})
}

func (s *HandlerSuite) TestEventsReplaySnapshotThenStreamUntilResolved() {
	vec := domain.Vector{domain.Resolved(domain.TagBluRay), nil}
	sinks := make(chan observer.Sink[collection.Notification], 1)

	s.collections.EXPECT().Subscribe(gomock.Any(), s.id, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.CollectionID, _ string, sink observer.Sink[collection.Notification]) error {
			sinks <- sink
			return nil
		})
	s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(loadedSnapshot(vec), nil)
	s.collections.EXPECT().Unsubscribe(gomock.Any(), s.id, gomock.Any()).Return(nil)

	req := testutil.NewRequest(s.T(), http.MethodGet, "/lists/alice/noir/events")
	done := make(chan struct{})
	var body string
	go func() {
		defer close(done)
		rr := testutil.DoRequest(s.router, req)
		body = rr.Body.String()
	}()

	sink := <-sinks
	require.NoError(s.T(), sink.Deliver(context.Background(), []collection.Notification{{
		Updates: []collection.SlotUpdate{{Index: 1, Title: "Gilda", Tags: domain.Resolved()}},
		Pending: 0,
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("stream did not end after the last slot resolved")
	}

	events := strings.Split(strings.TrimSpace(body), "\n\n")
	s.Require().Len(events, 4)
	s.Equal("event: item\ndata: {\"index\":0,\"title\":\"Laura\",\"tags\":[\"bluray\"]}", events[0])
	s.Equal("event: pending\ndata: {\"pending\":1}", events[1])
	s.Equal("event: item\ndata: {\"index\":1,\"title\":\"Gilda\",\"tags\":[]}", events[2])
	s.Equal("event: pending\ndata: {\"pending\":0}", events[3])
}

func (s *HandlerSuite) TestEventsEndImmediatelyWhenNothingPending() {
	vec := domain.Vector{domain.Resolved(), domain.Resolved(domain.TagDVD)}
	s.collections.EXPECT().Subscribe(gomock.Any(), s.id, gomock.Any(), gomock.Any()).Return(nil)
	s.collections.EXPECT().Snapshot(gomock.Any(), s.id).Return(loadedSnapshot(vec), nil)
	s.collections.EXPECT().Unsubscribe(gomock.Any(), s.id, gomock.Any()).Return(nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/lists/alice/noir/events"))

	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("text/event-stream", rr.Header().Get("Content-Type"))
	s.Contains(rr.Body.String(), "event: pending\ndata: {\"pending\":0}")
}

func (s *HandlerSuite) TestEventsSubscribeFailure() {
	s.collections.EXPECT().Subscribe(gomock.Any(), s.id, gomock.Any(), gomock.Any()).Return(sentinel.ErrClosed)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/lists/alice/noir/events"))

	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
}

func TestStreamSinkGivesUpOnSlowReader(t *testing.T) {
	sink := newStreamSink(make(chan struct{}), 20*time.Millisecond)
	notes := make([]collection.Notification, cap(sink.updates)+1)

	err := sink.Deliver(context.Background(), notes)

	assert.ErrorIs(t, err, errStreamStalled)
}

func TestStreamSinkStopsWhenClientLeaves(t *testing.T) {
	gone := make(chan struct{})
	close(gone)
	sink := newStreamSink(gone, time.Second)
	for range cap(sink.updates) {
		sink.updates <- collection.Notification{}
	}

	err := sink.Deliver(context.Background(), []collection.Notification{{}})

	assert.ErrorIs(t, err, errStreamClosed)
}

func TestHealthz(t *testing.T) {
	checks := []HealthCheck{
		{Name: "state", Check: func(context.Context) error { return nil }},
		{Name: "broker", Check: func(context.Context) error { return errors.New("no brokers") }},
	}
	router := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, checks)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["state"])
	assert.Equal(t, "no brokers", resp.Checks["broker"])
}
