package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type tableColumn struct {
	title    string
	numeric  bool
	maxWidth int
}

func textColumn(title string) tableColumn   { return tableColumn{title: title} }
func numberColumn(title string) tableColumn { return tableColumn{title: title, numeric: true} }

// listTable renders a rounded go-pretty table with a row-count footer.
type listTable struct {
	noun    string
	columns []tableColumn
	rows    [][]string
}

func newListTable(noun string, columns ...tableColumn) *listTable {
	return &listTable{noun: noun, columns: columns}
}

// limit caps the rendered width of the named column; longer cells are trimmed.
func (l *listTable) limit(title string, width int) *listTable {
	for i := range l.columns {
		if l.columns[i].title == title {
			l.columns[i].maxWidth = width
		}
	}
	return l
}

func (l *listTable) add(cells ...string) {
	l.rows = append(l.rows, cells)
}

func (l *listTable) render() string {
	if len(l.columns) == 0 {
		return ""
	}
	if len(l.rows) == 0 {
		return fmt.Sprintf("No %s.", l.noun)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, len(l.columns))
	configs := make([]table.ColumnConfig, len(l.columns))
	for i, col := range l.columns {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if col.numeric {
			configs[i].Align = text.AlignRight
		}
		if col.maxWidth > 0 {
			configs[i].WidthMax = col.maxWidth
			configs[i].WidthMaxEnforcer = text.Trim
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, cells := range l.rows {
		row := blankRow(len(l.columns))
		for i := range row {
			if i < len(cells) {
				row[i] = cells[i]
			}
		}
		tw.AppendRow(row)
	}

	footer := blankRow(len(l.columns))
	footer[0] = fmt.Sprintf("%d %s", len(l.rows), l.noun)
	tw.AppendFooter(footer)
	return tw.Render()
}

func blankRow(width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
	}
	return row
}
