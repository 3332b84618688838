package httptransport

import (
	"shelfcheck/internal/collection"
	"shelfcheck/pkg/domain"
)

// ListResponse is the JSON view of a collection.
type ListResponse struct {
	Owner        string        `json:"owner"`
	List         string        `json:"list"`
	Title        string        `json:"title"`
	Items        []domain.Item `json:"items"`
	Catalog      string        `json:"catalog,omitempty"`
	Availability domain.Vector `json:"availability"`
	Pending      *int          `json:"pending,omitempty"`
}

type pendingEvent struct {
	Pending int `json:"pending"`
}

func toListResponse(id domain.CollectionID, snap collection.Snapshot) ListResponse {
	resp := ListResponse{
		Owner:        id.Owner,
		List:         id.List,
		Title:        snap.Title,
		Items:        snap.Items,
		Catalog:      snap.Catalog,
		Availability: snap.Availability,
	}
	if resp.Items == nil {
		resp.Items = []domain.Item{}
	}
	if snap.Availability != nil {
		pending := snap.Availability.Pending()
		resp.Pending = &pending
	}
	return resp
}
