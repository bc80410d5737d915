package source

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
)

const (
	// SyntheticRoots is the number of top-level synthetic nodes.
	SyntheticRoots = 32
	// DefaultSyntheticDepth bounds the synthetic tree when no depth is given.
	DefaultSyntheticDepth = 6
)

// Synthetic is a deterministic generated tree. Top-level IDs are "0".."31";
// the children of "a.b" are "a.b.0", "a.b.1", ... and every node has between
// 1 and 9 children derived from a hash of its ID. Nodes at the depth limit
// are leaves.
type Synthetic struct {
	depth int
}

// NewSynthetic creates a synthetic tree with depth levels.
func NewSynthetic(depth int) *Synthetic {
	if depth <= 0 {
		depth = DefaultSyntheticDepth
	}
	return &Synthetic{depth: depth}
}

// ChildCount returns the number of children id has ignoring the depth limit.
func ChildCount(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32()%9) + 1
}

func level(id string) int {
	return strings.Count(id, ".") + 1
}

func (s *Synthetic) FetchChildren(ctx context.Context, q hierarchy.Query[string]) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, prefix := SyntheticRoots, ""
	if !q.Root {
		if !s.IsExpandable(q.Parent) {
			return nil, nil
		}
		n, prefix = ChildCount(q.Parent), q.Parent+"."
	}

	end := n
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	var out []string
	for i := q.Offset; i < end; i++ {
		out = append(out, prefix+strconv.Itoa(i))
	}
	return out, nil
}

func (s *Synthetic) CountChildren(_ context.Context, q hierarchy.Query[string]) (int, error) {
	if q.Root {
		return SyntheticRoots, nil
	}
	if !s.IsExpandable(q.Parent) {
		return 0, nil
	}
	return ChildCount(q.Parent), nil
}

func (s *Synthetic) IsExpandable(id string) bool {
	return id != "" && level(id) < s.depth
}

func (s *Synthetic) Headers() (string, string) { return "Node", "Children" }

func (s *Synthetic) Label(id string) string { return "Node " + id }

func (s *Synthetic) Detail(id string) string {
	if !s.IsExpandable(id) {
		return "0"
	}
	return strconv.Itoa(ChildCount(id))
}

func (s *Synthetic) Close() error { return nil }
