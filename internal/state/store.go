// Package state persists actor state as versioned JSON documents. Writes are
// optimistic: a write names the version it read and fails with
// sentinel.ErrConflict when another writer got there first.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shelfcheck/pkg/platform/sentinel"
)

var writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shelfcheck_state_write_conflicts_total",
	Help: "Optimistic state writes rejected because the stored version moved",
}, []string{"kind"})

// Store is a key-value document store with a monotonically increasing version
// per document. Version 0 means "absent".
type Store interface {
	// Read returns sentinel.ErrNotFound when nothing is stored under kind/key.
	Read(ctx context.Context, kind, key string) (data []byte, version int64, err error)
	// Write stores data if the current version equals expected and returns the new version.
	Write(ctx context.Context, kind, key string, data []byte, expected int64) (int64, error)
}

// Persistent binds a typed state value to one document.
type Persistent[T any] struct {
	store   Store
	kind    string
	key     string
	version int64

	State T
}

// NewPersistent returns an unloaded handle with the zero State.
func NewPersistent[T any](store Store, kind, key string) *Persistent[T] {
	return &Persistent[T]{store: store, kind: kind, key: key}
}

// Load reads the stored document. A missing document leaves the zero State in place.
func (p *Persistent[T]) Load(ctx context.Context) error {
	data, version, err := p.store.Read(ctx, p.kind, p.key)
	if errors.Is(err, sentinel.ErrNotFound) {
		var zero T
		p.State = zero
		p.version = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s state %s: %w", p.kind, p.key, err)
	}
	var st T
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode %s state %s: %w", p.kind, p.key, err)
	}
	p.State = st
	p.version = version
	return nil
}

// Write persists State at the next version.
func (p *Persistent[T]) Write(ctx context.Context) error {
	data, err := json.Marshal(p.State)
	if err != nil {
		return fmt.Errorf("encode %s state %s: %w", p.kind, p.key, err)
	}
	version, err := p.store.Write(ctx, p.kind, p.key, data, p.version)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			writeConflicts.WithLabelValues(p.kind).Inc()
		}
		return fmt.Errorf("write %s state %s: %w", p.kind, p.key, err)
	}
	p.version = version
	return nil
}

// Version is the version last read or written.
func (p *Persistent[T]) Version() int64 { return p.version }

// Key is the document key.
func (p *Persistent[T]) Key() string { return p.key }
