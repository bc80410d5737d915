// Package export renders the visible rows of a tree grid as Markdown, JSON,
// an indented text tree, or an SVG/PNG picture.
package export

import (
	"fmt"
	"time"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

// RowSource is the part of a grid an export reads. A treegrid.Grid
// satisfies it.
type RowSource interface {
	TotalRows() int
	Rows(first, count int) ([]rowsync.Row, error)
	Columns() (string, string)
}

// Snapshot is a frozen copy of the visible rows.
type Snapshot struct {
	Title     string        `json:"title"`
	Primary   string        `json:"primary_column"`
	Secondary string        `json:"secondary_column,omitempty"`
	Generated time.Time     `json:"generated_at"`
	Rows      []rowsync.Row `json:"rows"`
}

// Capture copies every visible row of src.
func Capture(src RowSource, title string) (Snapshot, error) {
	rows, err := src.Rows(0, src.TotalRows())
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading rows: %w", err)
	}
	primary, secondary := src.Columns()
	return Snapshot{
		Title:     title,
		Primary:   primary,
		Secondary: secondary,
		Generated: time.Now().UTC(),
		Rows:      rows,
	}, nil
}

// Summary counts what a snapshot shows.
type Summary struct {
	Rows     int `json:"rows"`
	TopLevel int `json:"top_level"`
	Expanded int `json:"expanded"`
	MaxDepth int `json:"max_depth"`
}

// Summary computes the counters of s.
func (s Snapshot) Summary() Summary {
	sum := Summary{Rows: len(s.Rows)}
	for _, r := range s.Rows {
		if r.Level == 1 {
			sum.TopLevel++
		}
		if r.Expanded {
			sum.Expanded++
		}
		sum.MaxDepth = max(sum.MaxDepth, r.Level)
	}
	return sum
}
