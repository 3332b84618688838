package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"shelfcheck/pkg/domain"
)

func renderAvailability(items []domain.Item, vec domain.Vector) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Title", "Year", "Blu-ray", "DVD"})

	for i, item := range items {
		year := ""
		if item.Year != nil {
			year = strconv.Itoa(*item.Year)
		}
		var tags domain.Tags
		if i < len(vec) {
			tags = vec[i]
		}
		tw.AppendRow(table.Row{i + 1, item.Title, year, mark(tags, domain.TagBluRay), mark(tags, domain.TagDVD)})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignCenter},
		{Number: 5, Align: text.AlignCenter},
	})
	return tw.Render()
}

func mark(tags domain.Tags, tag domain.Tag) string {
	switch {
	case !tags.IsResolved():
		return "?"
	case tags.Has(tag):
		return "yes"
	default:
		return ""
	}
}
