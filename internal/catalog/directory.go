package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dErrors "shelfcheck/pkg/domain-errors"
)

// Querier searches a catalog by title.
type Querier interface {
	Query(ctx context.Context, title string) ([]Row, error)
}

// Directory resolves catalog ids to queriers.
type Directory struct {
	catalogs map[string]Querier
}

func NewDirectory() *Directory {
	return &Directory{catalogs: make(map[string]Querier)}
}

// Register adds or replaces the querier for id.
func (d *Directory) Register(id string, q Querier) {
	d.catalogs[strings.ToLower(id)] = q
}

// Get returns the querier for id.
func (d *Directory) Get(id string) (Querier, error) {
	q, ok := d.catalogs[strings.ToLower(id)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown catalog %q", id))
	}
	return q, nil
}

// Has reports whether id is registered.
func (d *Directory) Has(id string) bool {
	_, ok := d.catalogs[strings.ToLower(id)]
	return ok
}

// IDs lists registered catalogs in sorted order.
func (d *Directory) IDs() []string {
	ids := make([]string, 0, len(d.catalogs))
	for id := range d.catalogs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
