package domain

import (
	"slices"
	"strings"
)

// Tag is a physical-media format classification.
type Tag string

const (
	TagDVD    Tag = "dvd"
	TagBluRay Tag = "bluray"
)

// AllTags lists every classification a catalog can report.
var AllTags = []Tag{TagBluRay, TagDVD}

// TagFromFormat maps a catalog format class name to a Tag.
func TagFromFormat(format string) (Tag, bool) {
	f := strings.ToLower(format)
	switch {
	case strings.Contains(f, "blu"):
		return TagBluRay, true
	case strings.Contains(f, "dvd"):
		return TagDVD, true
	default:
		return "", false
	}
}

// Tags is the resolved format set for a title. A nil Tags means "not yet
// resolved"; an empty non-nil Tags means "resolved, nothing on the shelf".
type Tags []Tag

// Resolved returns an empty, non-nil set.
func Resolved(tags ...Tag) Tags {
	out := make(Tags, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func (t Tags) IsResolved() bool { return t != nil }

func (t Tags) Has(tag Tag) bool { return slices.Contains(t, tag) }

func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	return append(Tags{}, t...)
}

// Vector holds one slot per collection item, nil while pending.
type Vector []Tags

// NewVector returns an all-pending vector of length n.
func NewVector(n int) Vector {
	return make(Vector, n)
}

// Pending counts unresolved slots.
func (v Vector) Pending() int {
	n := 0
	for _, slot := range v {
		if slot == nil {
			n++
		}
	}
	return n
}

func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	for i, slot := range v {
		out[i] = slot.Clone()
	}
	return out
}

// Item is one entry of a collection. Title is the lookup key.
type Item struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Year  *int   `json:"year,omitempty"`
}

// Listing is a fetched collection: its display title and ordered items.
type Listing struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}
