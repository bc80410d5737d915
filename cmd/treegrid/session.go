package main

import (
	"context"
	"sync"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
	"github.com/vanderheijden86/treegrid/pkg/source"
	"github.com/vanderheijden86/treegrid/pkg/treegrid"
)

// newGrid builds a string grid over src with the source's columns.
func newGrid(src source.Source, sink rowsync.Sink, fetchLimit int) *treegrid.Grid[string] {
	primary, secondary := src.Headers()
	opts := []treegrid.Option[string]{
		treegrid.WithHierarchyColumn(primary, src.Label),
	}
	if secondary != "" {
		opts = append(opts, treegrid.WithSecondaryColumn(secondary, src.Detail))
	}
	if fetchLimit > 0 {
		opts = append(opts, treegrid.WithFetchLimit[string](fetchLimit))
	}
	return treegrid.New[string](src, sink, opts...)
}

// gatedSink drops commands until opened. Expansions made during startup are
// covered by the initial window, so their deltas are not worth sending.
type gatedSink struct {
	next rowsync.Sink

	mu   sync.Mutex
	open bool
}

func (g *gatedSink) isOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *gatedSink) SetRows(firstRow int, rows []rowsync.Row, totalSize int) {
	if g.isOpen() {
		g.next.SetRows(firstRow, rows, totalSize)
	}
}

func (g *gatedSink) InsertRows(index, count int) {
	if g.isOpen() {
		g.next.InsertRows(index, count)
	}
}

func (g *gatedSink) RemoveRows(index, count int) {
	if g.isOpen() {
		g.next.RemoveRows(index, count)
	}
}

func (g *gatedSink) openGate() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
}

// session is a grid that expands the first levels while initializing.
type session struct {
	*treegrid.Grid[string]
	gate        *gatedSink
	expandDepth int
}

// sessionFactory returns the per-viewer session constructor used by the hub
// and the local backend.
func sessionFactory(src source.Source, fetchLimit, expandDepth int) rowsync.SessionFactory {
	return func(sink rowsync.Sink) rowsync.Session {
		gate := &gatedSink{next: sink}
		return &session{
			Grid:        newGrid(src, gate, fetchLimit),
			gate:        gate,
			expandDepth: expandDepth,
		}
	}
}

func (s *session) Initialize(ctx context.Context) error {
	if err := s.Grid.Initialize(ctx); err != nil {
		return err
	}
	if s.expandDepth > 0 {
		return s.Grid.ExpandToLevel(ctx, s.expandDepth)
	}
	return nil
}

func (s *session) SendInitial() error {
	s.gate.openGate()
	return s.Grid.SendInitial()
}
