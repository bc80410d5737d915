package treegrid

import (
	"context"
	"errors"

	"github.com/vanderheijden86/treegrid/pkg/debug"
	"github.com/vanderheijden86/treegrid/pkg/flattree"
)

// ExpandedItems returns the payloads of every expanded row in pre-order, so
// parents come before their children.
func (g *Grid[T]) ExpandedItems() []T {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []T
	seq, err := g.index.Descendants(flattree.RootKey)
	if err != nil {
		return nil
	}
	for k := range seq {
		if !g.index.IsExpanded(k) {
			continue
		}
		if item, ok := g.keys.Get(k); ok {
			out = append(out, item)
		}
	}
	return out
}

// ExpandItems expands the rows of items that are visible, repeating until a
// pass makes no progress so that children listed before their parents are
// still reached. Items that never become visible or cannot be expanded are
// skipped. It returns the number of rows expanded.
func (g *Grid[T]) ExpandItems(ctx context.Context, items []T) (int, error) {
	defer debug.LogEnterExit("Grid.ExpandItems")()

	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	if !ready {
		return 0, ErrNotInitialized
	}

	todo := append([]T(nil), items...)
	expanded := 0
	var errs []error
	for len(todo) > 0 {
		var rest []T
		progress := false
		for _, item := range todo {
			if err := ctx.Err(); err != nil {
				return expanded, errors.Join(append(errs, err)...)
			}
			key, ok := g.KeyOf(item)
			if !ok {
				rest = append(rest, item)
				continue
			}
			err := g.SetExpanded(ctx, key, true)
			switch {
			case err == nil:
				expanded++
				progress = true
			case errors.Is(err, ErrAlreadyExpanded), errors.Is(err, ErrNotExpandable):
			default:
				errs = append(errs, err)
			}
		}
		if !progress {
			break
		}
		todo = rest
	}
	return expanded, errors.Join(errs...)
}
