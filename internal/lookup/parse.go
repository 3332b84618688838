package lookup

import (
	"context"
	"log/slog"
	"strings"

	"shelfcheck/internal/catalog"
	"shelfcheck/pkg/domain"
)

// parseTags classifies the rows that describe title. A grouping row
// contributes the format of every child.
func parseTags(ctx context.Context, logger *slog.Logger, title string, rows []catalog.Row) domain.Tags {
	want := strings.TrimSpace(title)
	tags := domain.Resolved()
	add := func(e catalog.Entry) {
		if tag, ok := e.Tag(); ok && !tags.Has(tag) {
			tags = append(tags, tag)
		}
	}

	for i, row := range rows {
		rec, err := row.Decode()
		if err != nil {
			logger.WarnContext(ctx, "skipping malformed catalog row",
				"title", title,
				"row", i,
				"error", err,
			)
			continue
		}
		if rec.Full == nil {
			continue
		}
		if strings.EqualFold(rec.Full.FullTitle(), want) {
			add(*rec.Full)
		}
		if rec.IsGrouping() {
			for _, child := range rec.Children {
				add(child)
			}
		}
		if len(tags) == len(domain.AllTags) {
			break
		}
	}
	return tags
}
