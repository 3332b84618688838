package collection

import (
	"time"

	"shelfcheck/internal/pubsub"
	"shelfcheck/pkg/domain"
)

// State is the persisted resolver document.
type State struct {
	Title string        `json:"title"`
	Items []domain.Item `json:"items"`
	// LastRefresh is when membership was last fetched; nil until the first fetch.
	LastRefresh *time.Time `json:"last_refresh,omitempty"`

	Catalog string `json:"catalog,omitempty"`
	// Availability is nil until built for Catalog.
	Availability domain.Vector `json:"availability"`
	// Subscriptions are result subscriptions to resume on activation.
	Subscriptions []pubsub.Handle `json:"subscriptions,omitempty"`
}

// Snapshot is the read view published after every mutation.
type Snapshot struct {
	Title        string
	Items        []domain.Item
	Loaded       bool
	Catalog      string
	Availability domain.Vector
}

// SlotUpdate reports the resolution of one item.
type SlotUpdate struct {
	Index int         `json:"index"`
	Title string      `json:"title"`
	Tags  domain.Tags `json:"tags"`
}

// Notification is delivered to observers after each applied batch.
type Notification struct {
	Updates []SlotUpdate
	Pending int
}
