package catalog

import (
	"bytes"
	"encoding/json"
	"strings"

	"shelfcheck/pkg/domain"
)

// Row is one undecoded search result. Rows are decoded lazily so a single
// malformed row cannot fail the whole response.
type Row json.RawMessage

// Record is a decoded row.
type Record struct {
	Type string
	// Full is nil when the row carries no bibliographic record.
	Full     *Entry
	Children []Entry
}

// Entry is a bibliographic record or a grouping child.
type Entry struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Format   struct {
		ClassName string `json:"className"`
	} `json:"format"`
}

// IsGrouping reports whether the row groups several editions.
func (r Record) IsGrouping() bool {
	return r.Type == "grouping"
}

type rawRecord struct {
	Type     string          `json:"type"`
	Full     json.RawMessage `json:"full"`
	Children []Entry         `json:"children"`
}

// Decode parses the row.
func (r Row) Decode() (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(r, &raw); err != nil {
		return Record{}, err
	}
	rec := Record{Type: raw.Type, Children: raw.Children}
	if full := bytes.TrimSpace(raw.Full); len(full) > 0 && full[0] == '{' {
		var e Entry
		if err := json.Unmarshal(full, &e); err != nil {
			return Record{}, err
		}
		rec.Full = &e
	}
	return rec, nil
}

// FullTitle joins title and subtitle the way the catalog displays them,
// without trailing periods.
func (e Entry) FullTitle() string {
	title := strings.TrimRight(e.Title, ".")
	subtitle := strings.TrimRight(e.Subtitle, ".")
	if subtitle == "" {
		return title
	}
	return title + ": " + subtitle
}

// Tag classifies the entry's format.
func (e Entry) Tag() (domain.Tag, bool) {
	return domain.TagFromFormat(e.Format.ClassName)
}
