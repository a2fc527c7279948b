package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// column is one table column: its header and how cells line up.
type column struct {
	header string
	align  columnAlignment
}

func col(header string) column { return column{header: header} }

func numCol(header string) column { return column{header: header, align: alignRight} }

// renderTable draws rows under columns with the rounded style. Missing cells
// render empty; with no rows the empty message is returned instead.
func renderTable(columns []column, rows [][]string, empty string) string {
	if len(columns) == 0 {
		return ""
	}
	if len(rows) == 0 && empty != "" {
		return empty
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.header
		align := text.AlignLeft
		if c.align == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
