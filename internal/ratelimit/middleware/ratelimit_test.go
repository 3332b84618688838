package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"shelfcheck/internal/ratelimit/models"
	"shelfcheck/internal/ratelimit/ports/mocks"
	"shelfcheck/internal/ratelimit/store/bucket"
	"shelfcheck/pkg/platform/middleware/metadata"
	"shelfcheck/pkg/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fromIP(t *testing.T, ip string) *http.Request {
	req := testutil.NewRequest(t, http.MethodPost, "/lists/jane/noir/load")
	return testutil.WithClient(req, metadata.Client{IP: ip})
}

func TestRateLimitPerClient(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := bucket.NewInMemoryBucketStore(bucket.WithClock(func() time.Time { return now }))
	h := New(store, 2, time.Minute, discard).RateLimit(okHandler())

	for range 2 {
		rr := testutil.DoRequest(h, fromIP(t, "2001:db8::1"))
		testutil.AssertStatusOK(t, rr)
	}

	rr := testutil.DoRequest(h, fromIP(t, "2001:db8::1"))
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = testutil.DoRequest(h, fromIP(t, "192.0.2.7"))
	testutil.AssertStatusOK(t, rr)
}

func TestRateLimitFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockWindowStore(ctrl)
	store.EXPECT().AllowN(gomock.Any(), "api:ip:2001_db8__1", 1, 5, time.Minute).
		Return(nil, errors.New("redis down"))
	h := New(store, 5, time.Minute, discard).RateLimit(okHandler())

	rr := testutil.DoRequest(h, fromIP(t, "2001:db8::1"))

	testutil.AssertStatusOK(t, rr)
}

func TestRateLimitDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockWindowStore(ctrl)
	h := New(store, 0, time.Minute, discard).RateLimit(okHandler())

	rr := testutil.DoRequest(h, fromIP(t, "192.0.2.7"))

	testutil.AssertStatusOK(t, rr)
}

func TestRetryAfterRoundsUp(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimitExceeded(rr, &models.Result{RetryAfter: 1500 * time.Millisecond})

	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}
