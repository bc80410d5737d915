// Package treegrid is the expansion controller of a lazily loaded tree grid.
//
// A Grid owns one flattened tree index and one key mapper. It fetches
// children from a hierarchy.DataSource when a row is expanded, grafts or
// prunes the index, and pushes the minimal row deltas to a rowsync.Sink:
//
//	expand   insert_rows(i+1, n), set_rows(i+1, n rows), set_rows(i, toggled row)
//	collapse remove_rows(i+1, n), set_rows(i, toggled row)
//
// All methods are safe for concurrent use. Data source fetches run without
// the lock held; the structural mutation is applied atomically once the fetch
// returns and the row is re-validated. While a fetch is in flight the row is
// "expanding" and further toggles of it fail with ErrToggleInProgress.
package treegrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/vanderheijden86/treegrid/pkg/debug"
	"github.com/vanderheijden86/treegrid/pkg/flattree"
	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/keymap"
	"github.com/vanderheijden86/treegrid/pkg/metrics"
	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

// Errors returned by Grid operations. A failed operation leaves the grid
// unchanged.
var (
	ErrUnknownKey       = errors.New("unknown row key")
	ErrAlreadyExpanded  = errors.New("row already expanded")
	ErrNotExpanded      = errors.New("row not expanded")
	ErrNotExpandable    = errors.New("row cannot be expanded")
	ErrToggleInProgress = errors.New("toggle already in progress")
	ErrNotInitialized   = errors.New("grid not initialized")
	ErrRowOutOfRange    = errors.New("row range out of bounds")
)

// FetchError wraps a data source failure. Key is empty for top-level rows.
type FetchError struct {
	Key   string
	Cause error
}

func (e *FetchError) Error() string {
	if e.Key == flattree.RootKey {
		return fmt.Sprintf("fetching top-level rows: %v", e.Cause)
	}
	return fmt.Sprintf("fetching children of %q: %v", e.Key, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Stats summarizes the grid for status lines and robot output.
type Stats struct {
	VisibleRows int `json:"visible_rows"`
	LiveKeys    int `json:"live_keys"`
	Expanded    int `json:"expanded"`
	Pending     int `json:"pending"`
}

// Grid is the expansion controller for payloads of type T.
type Grid[T comparable] struct {
	mu    sync.Mutex
	src   hierarchy.DataSource[T]
	sink  rowsync.Sink
	keys  *keymap.KeyMapper[T]
	index *flattree.Index
	busy  map[string]struct{} // rows with a fetch in flight
	ready bool

	column1     func(T) string
	column2     func(T) string
	column1Name string
	column2Name string
	fetchLimit  int
}

// Option configures a Grid.
type Option[T comparable] func(*Grid[T])

// WithHierarchyColumn sets the value rendered in the indented first column.
func WithHierarchyColumn[T comparable](name string, fn func(T) string) Option[T] {
	return func(g *Grid[T]) {
		g.column1Name = name
		g.column1 = fn
	}
}

// WithSecondaryColumn sets the second column.
func WithSecondaryColumn[T comparable](name string, fn func(T) string) Option[T] {
	return func(g *Grid[T]) {
		g.column2Name = name
		g.column2 = fn
	}
}

// WithFetchLimit pages child fetches by n items. Zero fetches everything in
// one call.
func WithFetchLimit[T comparable](n int) Option[T] {
	return func(g *Grid[T]) {
		if n >= 0 {
			g.fetchLimit = n
		}
	}
}

// New creates a Grid. Call Initialize before anything else. A nil sink
// discards every command.
func New[T comparable](src hierarchy.DataSource[T], sink rowsync.Sink, opts ...Option[T]) *Grid[T] {
	if sink == nil {
		sink = rowsync.Discard
	}
	g := &Grid[T]{
		src:         src,
		sink:        sink,
		keys:        keymap.New[T](),
		index:       flattree.New(),
		busy:        make(map[string]struct{}),
		column1:     func(item T) string { return fmt.Sprint(item) },
		column2:     func(T) string { return "" },
		column1Name: "Name",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Columns returns the header names of the two columns.
func (g *Grid[T]) Columns() (string, string) {
	return g.column1Name, g.column2Name
}

// Initialize fetches the top-level rows and (re)builds the index. Keys of
// payloads that stay visible are kept; everything else is released and every
// row starts collapsed. Nothing is sent; follow with SendInitial.
func (g *Grid[T]) Initialize(ctx context.Context) error {
	defer debug.LogEnterExit("Grid.Initialize")()

	g.mu.Lock()
	if _, busy := g.busy[flattree.RootKey]; busy {
		g.mu.Unlock()
		return ErrToggleInProgress
	}
	g.busy[flattree.RootKey] = struct{}{}
	g.mu.Unlock()

	items, err := g.fetch(ctx, hierarchy.TopLevel(g.src))

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, flattree.RootKey)
	if err != nil {
		return &FetchError{Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := flattree.New()
	keys, rollback := g.register(items)
	if err := next.SetChildren(flattree.RootKey, keys); err != nil {
		rollback()
		return fmt.Errorf("building top level: %w", err)
	}
	if seq, err := g.index.Descendants(flattree.RootKey); err == nil {
		for k := range seq {
			if !next.Contains(k) {
				g.keys.RemoveKey(k)
			}
		}
	}
	g.index = next
	g.ready = true
	g.check("Initialize")
	debug.Log("grid initialized with %d top-level rows", len(keys))
	return nil
}

// SetExpanded expands or collapses the row identified by key.
func (g *Grid[T]) SetExpanded(ctx context.Context, key string, expanded bool) error {
	op, fn := "collapse", g.collapse
	if expanded {
		op, fn = "expand", g.expand
	}
	err := fn(ctx, key)
	metrics.Toggles.WithLabelValues(op, outcome(err)).Inc()
	return err
}

// Toggle flips the expansion state of key.
func (g *Grid[T]) Toggle(ctx context.Context, key string) error {
	g.mu.Lock()
	expanded := g.index.IsExpanded(key)
	g.mu.Unlock()
	return g.SetExpanded(ctx, key, !expanded)
}

func (g *Grid[T]) expand(ctx context.Context, key string) error {
	defer debug.LogEnterExit("Grid.expand " + key)()

	g.mu.Lock()
	item, err := g.checkExpand(key)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.busy[key] = struct{}{}
	g.mu.Unlock()

	children, err := g.fetch(ctx, hierarchy.ChildQuery(item))

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, key)
	if err != nil {
		return &FetchError{Key: key, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// The row may have been released by an ancestor collapse meanwhile.
	if _, err := g.checkExpand(key); err != nil {
		return err
	}

	children = g.detachMoved(key, children)
	row, err := g.index.IndexOf(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	keys, rollback := g.register(children)
	if err := g.index.Expand(key, keys); err != nil {
		rollback()
		return fmt.Errorf("expanding %q: %w", key, err)
	}
	if n := len(keys); n > 0 {
		g.sink.InsertRows(row+1, n)
		metrics.RowDeltas.WithLabelValues("insert").Inc()
		g.sendRows(row+1, n)
	}
	g.sendRows(row, 1)
	g.check("expand")
	return nil
}

func (g *Grid[T]) checkExpand(key string) (T, error) {
	var zero T
	item, err := g.lookup(key)
	if err != nil {
		return zero, err
	}
	if _, busy := g.busy[key]; busy {
		return zero, fmt.Errorf("%w: %q", ErrToggleInProgress, key)
	}
	if g.index.IsExpanded(key) {
		return zero, fmt.Errorf("%w: %q", ErrAlreadyExpanded, key)
	}
	if !g.src.IsExpandable(item) {
		return zero, fmt.Errorf("%w: %q", ErrNotExpandable, key)
	}
	return item, nil
}

func (g *Grid[T]) collapse(_ context.Context, key string) error {
	defer debug.LogEnterExit("Grid.collapse " + key)()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.lookup(key); err != nil {
		return err
	}
	if _, busy := g.busy[key]; busy {
		return fmt.Errorf("%w: %q", ErrToggleInProgress, key)
	}
	if !g.index.IsExpanded(key) {
		return fmt.Errorf("%w: %q", ErrNotExpanded, key)
	}

	row, err := g.index.IndexOf(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	removed, err := g.index.Collapse(key, g.keys.RemoveKey)
	if err != nil {
		return fmt.Errorf("collapsing %q: %w", key, err)
	}
	if removed > 0 {
		g.sink.RemoveRows(row+1, removed)
		metrics.RowDeltas.WithLabelValues("remove").Inc()
	}
	g.sendRows(row, 1)
	g.check("collapse")
	return nil
}

// lookup returns the payload of a live row. Callers hold g.mu.
func (g *Grid[T]) lookup(key string) (T, error) {
	var zero T
	if !g.ready {
		return zero, ErrNotInitialized
	}
	if !g.keys.Has(key) || !g.index.Contains(key) {
		return zero, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	item, _ := g.keys.Get(key)
	return item, nil
}

// register assigns keys to items. Payloads already registered keep their
// key. rollback releases only the keys created by this call.
func (g *Grid[T]) register(items []T) (keys []string, rollback func()) {
	keys = make([]string, len(items))
	var fresh []T
	for i, item := range items {
		if k, ok := g.keys.Lookup(item); ok {
			keys[i] = k
			continue
		}
		keys[i] = g.keys.Key(item)
		fresh = append(fresh, item)
	}
	return keys, func() {
		for _, item := range fresh {
			g.keys.Remove(item)
		}
	}
}

// detachMoved prepares items to become the children of parent. A payload
// that is still live under another parent is removed from there first, with
// its subtree released, so register hands it a fresh key. A payload that is
// parent itself or one of its ancestors cannot move below it and is left
// out. Lists with duplicates are returned as they are for the index to
// reject before anything moved. Callers hold g.mu.
func (g *Grid[T]) detachMoved(parent string, items []T) []T {
	seen := make(map[T]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item]; dup {
			return items
		}
		seen[item] = struct{}{}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		k, ok := g.keys.Lookup(item)
		if !ok || !g.index.Contains(k) {
			out = append(out, item)
			continue
		}
		old, err := g.index.Parent(k)
		if err != nil || old == parent {
			out = append(out, item)
			continue
		}
		if g.encloses(k, parent) {
			debug.Log("skipping %q below its own descendant %q", k, parent)
			continue
		}
		g.detach(k, old)
		out = append(out, item)
	}
	return out
}

// encloses reports whether ancestor is key or one of its ancestors.
func (g *Grid[T]) encloses(ancestor, key string) bool {
	for k := key; k != flattree.RootKey; {
		if k == ancestor {
			return true
		}
		p, err := g.index.Parent(k)
		if err != nil {
			return false
		}
		k = p
	}
	return false
}

// detach removes key and its subtree from parent and releases their keys.
// A parent left without children collapses.
func (g *Grid[T]) detach(key, parent string) {
	row, err := g.index.IndexOf(key)
	if err != nil {
		return
	}
	size, _ := g.index.TotalSize(key)
	gone := []string{key}
	if seq, err := g.index.Descendants(key); err == nil {
		for k := range seq {
			gone = append(gone, k)
		}
	}
	siblings, _ := g.index.Children(parent)
	siblings = slices.DeleteFunc(siblings, func(k string) bool { return k == key })
	if len(siblings) == 0 && parent != flattree.RootKey {
		_, err = g.index.Collapse(parent, nil)
	} else {
		err = g.index.SetChildren(parent, siblings)
	}
	if err != nil {
		debug.AssertNoError(err, "Grid.detach")
		return
	}
	for _, k := range gone {
		g.keys.RemoveKey(k)
	}
	g.sink.RemoveRows(row, size)
	metrics.RowDeltas.WithLabelValues("remove").Inc()
	if parent != flattree.RootKey {
		if prow, err := g.index.IndexOf(parent); err == nil {
			g.sendRows(prow, 1)
		}
	}
	debug.Log("detached %q (%d rows) from %q", key, size, parent)
}

func (g *Grid[T]) fetch(ctx context.Context, q hierarchy.Query[T]) ([]T, error) {
	defer metrics.Timer(metrics.FetchDuration)()
	start := time.Now()
	defer func() { debug.LogTiming("Grid.fetch", time.Since(start)) }()
	return hierarchy.FetchAll(ctx, g.src, q, g.fetchLimit)
}

// RequestRows sends one set_rows for the window [first, first+count), clamped
// to the visible rows.
func (g *Grid[T]) RequestRows(first, count int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	first, count, err := g.clamp(first, count)
	if err != nil {
		return err
	}
	g.sendRows(first, count)
	return nil
}

// SendInitial sends every visible row with the total row count.
func (g *Grid[T]) SendInitial() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ready {
		return ErrNotInitialized
	}
	g.sendRows(0, g.index.VisibleRows())
	return nil
}

// Rows resolves the window [first, first+count) without sending anything.
func (g *Grid[T]) Rows(first, count int) ([]rowsync.Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	first, count, err := g.clamp(first, count)
	if err != nil {
		return nil, err
	}
	return g.resolve(first, count)
}

func (g *Grid[T]) clamp(first, count int) (int, int, error) {
	if !g.ready {
		return 0, 0, ErrNotInitialized
	}
	if first < 0 || count < 0 {
		return 0, 0, fmt.Errorf("%w: first %d count %d", ErrRowOutOfRange, first, count)
	}
	total := g.index.VisibleRows()
	first = min(first, total)
	count = min(count, total-first)
	return first, count, nil
}

// TotalRows returns the number of visible rows.
func (g *Grid[T]) TotalRows() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index.VisibleRows()
}

// Item returns the payload registered under key.
func (g *Grid[T]) Item(key string) (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys.Get(key)
}

// KeyOf returns the key of a visible payload.
func (g *Grid[T]) KeyOf(item T) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys.Lookup(item)
}

// IndexOf returns the current row index of key.
func (g *Grid[T]) IndexOf(key string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.lookup(key); err != nil {
		return 0, err
	}
	return g.index.IndexOf(key)
}

// IsExpanded reports whether key is expanded.
func (g *Grid[T]) IsExpanded(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index.IsExpanded(key)
}

// Expanded returns the sorted keys of every expanded row.
func (g *Grid[T]) Expanded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index.Expanded()
}

// Stats returns current counters.
func (g *Grid[T]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		VisibleRows: g.index.VisibleRows(),
		LiveKeys:    g.keys.Len(),
		Expanded:    g.index.ExpandedCount(),
		Pending:     len(g.busy),
	}
}

// sendRows resolves and pushes a window. Callers hold g.mu.
func (g *Grid[T]) sendRows(first, count int) {
	rows, err := g.resolve(first, count)
	if err != nil {
		log.Printf("warning: resolving rows [%d, %d): %v", first, first+count, err)
		debug.AssertNoError(err, "Grid.sendRows")
		return
	}
	g.sink.SetRows(first, rows, g.index.VisibleRows())
	metrics.RowsSent.Add(float64(len(rows)))
}

func (g *Grid[T]) resolve(first, count int) ([]rowsync.Row, error) {
	rows := make([]rowsync.Row, 0, count)
	for i := first; i < first+count; i++ {
		key, err := g.index.NodeAt(i)
		if err != nil {
			return nil, err
		}
		row, err := g.describe(key)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *Grid[T]) describe(key string) (rowsync.Row, error) {
	item, ok := g.keys.Get(key)
	if !ok {
		return rowsync.Row{}, fmt.Errorf("%w: live row %q has no payload", ErrUnknownKey, key)
	}
	level, err := g.index.Level(key)
	if err != nil {
		return rowsync.Row{}, err
	}
	return rowsync.Row{
		Level:      level,
		Key:        key,
		Column1:    g.column1(item),
		Column2:    g.column2(item),
		Expanded:   g.index.IsExpanded(key),
		Expandable: g.src.IsExpandable(item),
	}, nil
}

// check verifies the key mapper and the index agree. Only active when debug
// is enabled.
func (g *Grid[T]) check(op string) {
	if !debug.Enabled() {
		return
	}
	if g.keys.Len() != g.index.Len() {
		debug.AssertNoError(fmt.Errorf("%d keys registered for %d live rows", g.keys.Len(), g.index.Len()), "Grid."+op)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, new(*FetchError)):
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeRejected
	}
}
