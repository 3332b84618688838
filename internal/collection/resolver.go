package collection

import (
	"sync/atomic"

	"shelfcheck/internal/observer"
	"shelfcheck/internal/state"
	"shelfcheck/pkg/domain"
	pstrings "shelfcheck/pkg/platform/strings"
)

// resolver is one collection's live instance. doc and index are only touched
// on the actor goroutine; snapshot and observers are safe from anywhere.
type resolver struct {
	id        domain.CollectionID
	doc       *state.Persistent[State]
	index     map[string][]int
	snapshot  atomic.Pointer[Snapshot]
	observers *observer.Registry[Notification]
}

func (r *resolver) reindex() {
	r.index = make(map[string][]int, len(r.doc.State.Items))
	for i, item := range r.doc.State.Items {
		t := domain.NormalizeTitle(item.Title)
		r.index[t] = append(r.index[t], i)
	}
}

func (r *resolver) publish() {
	st := r.doc.State
	r.snapshot.Store(&Snapshot{
		Title:        st.Title,
		Items:        append([]domain.Item(nil), st.Items...),
		Loaded:       st.LastRefresh != nil,
		Catalog:      st.Catalog,
		Availability: st.Availability.Clone(),
	})
}

// missingTitles returns the first-seen spelling of every distinct title
// whose slot is still pending.
func (r *resolver) missingTitles() []string {
	st := r.doc.State
	var titles []string
	for i, slot := range st.Availability {
		if slot == nil {
			titles = append(titles, st.Items[i].Title)
		}
	}
	return pstrings.DedupeBy(titles, domain.NormalizeTitle)
}

func sameMembership(a, b []domain.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if domain.NormalizeTitle(a[i].Title) != domain.NormalizeTitle(b[i].Title) {
			return false
		}
	}
	return true
}
