package treegrid

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanderheijden86/treegrid/pkg/debug"
	"github.com/vanderheijden86/treegrid/pkg/flattree"
	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/metrics"
)

// Refresh re-fetches the children of an expanded row, or of the top level
// when key is flattree.RootKey. Children present before and after keep their
// subtrees and expansion state; the rest are released. A child that is still
// shown under another parent is removed from there first and gets a new key.
// A row left without children collapses. The viewer receives remove_rows for
// the old subtree, insert_rows plus set_rows for the new one and a refresh of
// the row itself.
func (g *Grid[T]) Refresh(ctx context.Context, key string) error {
	err := g.refresh(ctx, key)
	metrics.Refreshes.WithLabelValues(outcome(err)).Inc()
	return err
}

func (g *Grid[T]) refresh(ctx context.Context, key string) error {
	defer debug.LogEnterExit("Grid.refresh " + key)()

	g.mu.Lock()
	q, err := g.checkRefresh(key)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.busy[key] = struct{}{}
	g.mu.Unlock()

	children, err := g.fetch(ctx, q)

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, key)
	if err != nil {
		return &FetchError{Key: key, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.checkRefresh(key); err != nil {
		return err
	}

	children = g.detachMoved(key, children)
	row, err := g.index.IndexOf(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	before, err := g.index.TotalSize(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	seq, err := g.index.Descendants(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	var previous []string
	for k := range seq {
		previous = append(previous, k)
	}

	keys, rollback := g.register(children)
	if err := g.index.SetChildren(key, keys); err != nil {
		rollback()
		return fmt.Errorf("refreshing %q: %w", key, err)
	}
	if len(keys) == 0 && key != flattree.RootKey {
		if _, err := g.index.Collapse(key, nil); err != nil {
			return fmt.Errorf("refreshing %q: %w", key, err)
		}
	}
	for _, k := range previous {
		if !g.index.Contains(k) {
			g.keys.RemoveKey(k)
		}
	}

	after, _ := g.index.TotalSize(key)
	if n := before - 1; n > 0 {
		g.sink.RemoveRows(row+1, n)
		metrics.RowDeltas.WithLabelValues("remove").Inc()
	}
	if n := after - 1; n > 0 {
		g.sink.InsertRows(row+1, n)
		metrics.RowDeltas.WithLabelValues("insert").Inc()
		g.sendRows(row+1, n)
	} else if key == flattree.RootKey {
		g.sendRows(0, 0)
	}
	if key != flattree.RootKey {
		g.sendRows(row, 1)
	}
	g.check("refresh")
	return nil
}

// checkRefresh returns the query that lists the current children of key.
// Callers hold g.mu.
func (g *Grid[T]) checkRefresh(key string) (hierarchy.Query[T], error) {
	if key == flattree.RootKey {
		if !g.ready {
			return hierarchy.Query[T]{}, ErrNotInitialized
		}
		if _, busy := g.busy[key]; busy {
			return hierarchy.Query[T]{}, ErrToggleInProgress
		}
		return hierarchy.TopLevel(g.src), nil
	}
	item, err := g.lookup(key)
	if err != nil {
		return hierarchy.Query[T]{}, err
	}
	if _, busy := g.busy[key]; busy {
		return hierarchy.Query[T]{}, fmt.Errorf("%w: %q", ErrToggleInProgress, key)
	}
	if !g.index.IsExpanded(key) {
		return hierarchy.Query[T]{}, fmt.Errorf("%w: %q", ErrNotExpanded, key)
	}
	return hierarchy.ChildQuery(item), nil
}

// RefreshAll refreshes the top level and then every expanded row, parents
// before children. Rows that disappear while walking are skipped.
func (g *Grid[T]) RefreshAll(ctx context.Context) error {
	defer debug.LogEnterExit("Grid.RefreshAll")()

	if err := g.Refresh(ctx, flattree.RootKey); err != nil {
		return err
	}

	g.mu.Lock()
	var expanded []string
	if seq, err := g.index.Descendants(flattree.RootKey); err == nil {
		for k := range seq {
			if g.index.IsExpanded(k) {
				expanded = append(expanded, k)
			}
		}
	}
	g.mu.Unlock()

	var errs []error
	for _, k := range expanded {
		err := g.Refresh(ctx, k)
		switch {
		case err == nil, errors.Is(err, ErrUnknownKey), errors.Is(err, ErrNotExpanded):
		case ctx.Err() != nil:
			return errors.Join(append(errs, err)...)
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExpandToLevel expands every expandable collapsed row from the top level down
// to depth (1 expands the top-level rows). Each expansion is a regular toggle,
// so the viewer receives every delta.
func (g *Grid[T]) ExpandToLevel(ctx context.Context, depth int) error {
	defer debug.LogEnterExit("Grid.ExpandToLevel")()

	g.mu.Lock()
	frontier, err := g.index.Children(flattree.RootKey)
	ready := g.ready
	g.mu.Unlock()
	if !ready {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}

	var errs []error
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, k := range frontier {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			err := g.SetExpanded(ctx, k, true)
			switch {
			case err == nil, errors.Is(err, ErrAlreadyExpanded):
			case errors.Is(err, ErrNotExpandable), errors.Is(err, ErrUnknownKey), errors.Is(err, ErrToggleInProgress):
				continue
			default:
				errs = append(errs, err)
				continue
			}
			g.mu.Lock()
			children, err := g.index.Children(k)
			g.mu.Unlock()
			if err == nil {
				next = append(next, children...)
			}
		}
		frontier = next
	}
	return errors.Join(errs...)
}
