package httptransport

import (
	"context"
	"errors"
	"time"

	"shelfcheck/internal/collection"
)

var (
	errStreamClosed  = errors.New("event stream closed")
	errStreamStalled = errors.New("event stream stalled")
)

// streamSink hands notifications to one event stream's write loop.
type streamSink struct {
	updates chan collection.Notification
	done    <-chan struct{}
	timeout time.Duration
}

func newStreamSink(done <-chan struct{}, timeout time.Duration) *streamSink {
	return &streamSink{
		updates: make(chan collection.Notification, 64),
		done:    done,
		timeout: timeout,
	}
}

func (s *streamSink) Deliver(ctx context.Context, notes []collection.Notification) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for _, n := range notes {
		select {
		case s.updates <- n:
		case <-s.done:
			return errStreamClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errStreamStalled
		}
	}
	return nil
}
