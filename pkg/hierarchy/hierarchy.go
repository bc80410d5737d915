// Package hierarchy defines the data source boundary consumed by the tree grid
// controller: something that lists the children of a payload (or of the
// invisible root) and says whether a payload can have children at all.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidQuery is returned for negative offsets or limits.
var ErrInvalidQuery = errors.New("invalid child query")

// Query selects a page of children. When Root is set Parent is ignored and
// the top-level items are listed. A Limit of 0 means "no limit".
type Query[T any] struct {
	Parent T
	Root   bool
	Offset int
	Limit  int
}

// RootQuery returns a query for every top-level item.
func RootQuery[T any]() Query[T] {
	return Query[T]{Root: true}
}

// ChildQuery returns a query for every child of parent.
func ChildQuery[T any](parent T) Query[T] {
	return Query[T]{Parent: parent}
}

// Validate rejects negative paging arguments.
func (q Query[T]) Validate() error {
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: offset %d, limit %d", ErrInvalidQuery, q.Offset, q.Limit)
	}
	return nil
}

// Window applies the query's paging to an already materialized slice.
func Window[T any](items []T, q Query[T]) []T {
	if q.Offset >= len(items) {
		return nil
	}
	items = items[q.Offset:]
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items
}

// DataSource supplies children on demand. FetchChildren must return a stable
// order for the same parent absent external changes.
type DataSource[T any] interface {
	FetchChildren(ctx context.Context, q Query[T]) ([]T, error)
	IsExpandable(item T) bool
}

// ChildCounter is implemented by sources that can count children without
// listing them.
type ChildCounter[T any] interface {
	CountChildren(ctx context.Context, q Query[T]) (int, error)
}

// RootProvider is implemented by sources that expose a single synthetic root
// payload. Top-level items are then fetched as children of that payload.
type RootProvider[T any] interface {
	RootPayload() (T, bool)
}

// FetchAll lists every child matched by q, paging by pageSize when it is
// positive. The Offset and Limit of q are ignored.
func FetchAll[T any](ctx context.Context, src DataSource[T], q Query[T], pageSize int) ([]T, error) {
	if pageSize <= 0 {
		q.Offset, q.Limit = 0, 0
		return src.FetchChildren(ctx, q)
	}

	var out []T
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.Offset, q.Limit = offset, pageSize
		page, err := src.FetchChildren(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetching children at offset %d: %w", offset, err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// TopLevel returns the query used for top-level rows: children of the
// source's root payload when it has one, otherwise a Root query.
func TopLevel[T any](src DataSource[T]) Query[T] {
	if rp, ok := src.(RootProvider[T]); ok {
		if root, ok := rp.RootPayload(); ok {
			return ChildQuery(root)
		}
	}
	return RootQuery[T]()
}
