// Package flattree maps a lazily materialized hierarchy onto a flat list of
// rows.
//
// Every node records the size of its own subtree (itself plus all
// descendants). The flat row index of a node is the number of nodes that
// precede it in a pre-order walk from the invisible root, minus one for the
// root itself. Both directions of the translation cost O(depth × fan-out):
//
//	IndexOf(key)  sums the subtree sizes of earlier siblings at every level
//	NodeAt(index) descends from the root, skipping whole sibling subtrees
//
// Nodes live in an arena addressed by handles. Parent links are plain handles,
// so the graph has no owning cycles; the key -> handle map is the only way in
// from the outside.
//
// An Index is not safe for concurrent use. All reads and writes on one Index
// must be serialized by the caller.
package flattree

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/vanderheijden86/treegrid/pkg/debug"
)

// RootKey addresses the invisible root. It is never a row.
const RootKey = ""

// Errors returned by Index operations. An operation that returns an error
// has not changed the Index.
var (
	ErrNotFound        = errors.New("key not found")
	ErrInvalidKey      = errors.New("invalid key")
	ErrDuplicateKey    = errors.New("duplicate key in child list")
	ErrKeyInUse        = errors.New("key is live under another parent")
	ErrOutOfRange      = errors.New("row index out of range")
	ErrAlreadyExpanded = errors.New("node already expanded")
	ErrNotExpanded     = errors.New("node not expanded")
	ErrCorrupt         = errors.New("index corrupt")
)

// State is the expansion state of a node.
type State int

const (
	// Collapsed nodes have no materialized children.
	Collapsed State = iota
	// Expanded nodes have a materialized (possibly empty) child list.
	Expanded
)

func (s State) String() string {
	if s == Expanded {
		return "expanded"
	}
	return "collapsed"
}

type handle int32

const (
	noHandle   handle = -1
	rootHandle handle = 0
)

type node struct {
	key      string
	parent   handle
	children []handle
	size     int
	state    State
}

// Index is the flattened tree.
type Index struct {
	nodes    []node
	byKey    map[string]handle
	free     []handle
	expanded int // expanded non-root nodes
}

// New returns an Index holding only the invisible root.
func New() *Index {
	idx := &Index{byKey: make(map[string]handle)}
	idx.nodes = append(idx.nodes, node{
		key:    RootKey,
		parent: noHandle,
		size:   1,
		state:  Expanded,
	})
	idx.byKey[RootKey] = rootHandle
	return idx
}

func (idx *Index) lookup(key string) (handle, error) {
	h, ok := idx.byKey[key]
	if !ok {
		return noHandle, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return h, nil
}

// Contains reports whether key is live. The root is always live.
func (idx *Index) Contains(key string) bool {
	_, ok := idx.byKey[key]
	return ok
}

// Len returns the number of live nodes excluding the root.
func (idx *Index) Len() int {
	return len(idx.byKey) - 1
}

// SetChildren replaces the child list of parent.
//
// Children present in both the old and the new list keep their subtrees and
// expansion state. Old children missing from the new list are destroyed with
// their whole subtree. New keys become collapsed leaves. The resulting size
// delta is applied to every ancestor.
//
// A non-empty list promotes a collapsed node to Expanded; an empty list
// leaves the state alone.
func (idx *Index) SetChildren(parent string, children []string) error {
	p, err := idx.lookup(parent)
	if err != nil {
		return err
	}
	if err := idx.checkChildren(p, children); err != nil {
		return err
	}
	idx.replaceChildren(p, children)
	if len(children) > 0 && idx.nodes[p].state == Collapsed {
		idx.setState(p, Expanded)
	}
	idx.assertValid("SetChildren")
	return nil
}

// Expand materializes the children of a collapsed node.
func (idx *Index) Expand(key string, children []string) error {
	h, err := idx.lookup(key)
	if err != nil {
		return err
	}
	if h == rootHandle {
		return fmt.Errorf("%w: the root cannot be toggled", ErrInvalidKey)
	}
	if idx.nodes[h].state == Expanded {
		return fmt.Errorf("%w: %q", ErrAlreadyExpanded, key)
	}
	if err := idx.checkChildren(h, children); err != nil {
		return err
	}
	idx.replaceChildren(h, children)
	idx.setState(h, Expanded)
	idx.assertValid("Expand")
	return nil
}

// Collapse discards the children of an expanded node and returns how many
// rows disappeared. release, when non-nil, is called with every descendant
// key (pre-order) before the nodes are destroyed.
func (idx *Index) Collapse(key string, release func(key string)) (int, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return 0, err
	}
	if h == rootHandle {
		return 0, fmt.Errorf("%w: the root cannot be toggled", ErrInvalidKey)
	}
	if idx.nodes[h].state != Expanded {
		return 0, fmt.Errorf("%w: %q", ErrNotExpanded, key)
	}

	removed := idx.nodes[h].size - 1
	if release != nil {
		for k := range idx.walk(h) {
			release(k)
		}
	}
	idx.replaceChildren(h, nil)
	idx.setState(h, Collapsed)
	idx.assertValid("Collapse")
	return removed, nil
}

// checkChildren validates a replacement child list for p without touching
// the Index.
func (idx *Index) checkChildren(p handle, children []string) error {
	seen := make(map[string]struct{}, len(children))
	for _, k := range children {
		if k == RootKey {
			return fmt.Errorf("%w: empty child key", ErrInvalidKey)
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}
		seen[k] = struct{}{}
		if h, ok := idx.byKey[k]; ok && idx.nodes[h].parent != p {
			return fmt.Errorf("%w: %q", ErrKeyInUse, k)
		}
	}
	return nil
}

func (idx *Index) replaceChildren(p handle, children []string) {
	keep := make(map[handle]struct{}, len(children))
	next := make([]handle, 0, len(children))
	delta := 0

	for _, k := range children {
		if h, ok := idx.byKey[k]; ok {
			keep[h] = struct{}{}
			next = append(next, h)
			continue
		}
		next = append(next, idx.alloc(k, p))
		delta++
	}

	for _, h := range idx.nodes[p].children {
		if _, ok := keep[h]; ok {
			continue
		}
		delta -= idx.nodes[h].size
		idx.destroy(h)
	}

	idx.nodes[p].children = next
	idx.adjust(p, delta)
}

func (idx *Index) alloc(key string, parent handle) handle {
	n := node{key: key, parent: parent, size: 1, state: Collapsed}
	var h handle
	if last := len(idx.free) - 1; last >= 0 {
		h = idx.free[last]
		idx.free = idx.free[:last]
		idx.nodes[h] = n
	} else {
		h = handle(len(idx.nodes))
		idx.nodes = append(idx.nodes, n)
	}
	idx.byKey[key] = h
	return h
}

// destroy frees h and its whole subtree without touching ancestor sizes.
func (idx *Index) destroy(h handle) {
	stack := []handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &idx.nodes[cur]
		stack = append(stack, n.children...)
		if n.state == Expanded {
			idx.expanded--
		}
		delete(idx.byKey, n.key)
		*n = node{parent: noHandle}
		idx.free = append(idx.free, cur)
	}
}

func (idx *Index) adjust(h handle, delta int) {
	if delta == 0 {
		return
	}
	for ; h != noHandle; h = idx.nodes[h].parent {
		idx.nodes[h].size += delta
	}
}

func (idx *Index) setState(h handle, s State) {
	if h == rootHandle || idx.nodes[h].state == s {
		return
	}
	if s == Expanded {
		idx.expanded++
	} else {
		idx.expanded--
	}
	idx.nodes[h].state = s
}

// IndexOf returns the flat row index of key, or -1 for the root.
func (idx *Index) IndexOf(key string) (int, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return 0, err
	}

	index := -1
	for h != rootHandle {
		p := idx.nodes[h].parent
		// The parent row sits one before its first child.
		offset := 1
		for _, sibling := range idx.nodes[p].children {
			if sibling == h {
				break
			}
			offset += idx.nodes[sibling].size
		}
		index += offset
		h = p
	}
	return index, nil
}

// NodeAt returns the key occupying flat row index.
func (idx *Index) NodeAt(index int) (string, error) {
	total := idx.nodes[rootHandle].size - 1
	if index < 0 || index >= total {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, total)
	}

	h := rootHandle
	offset := index + 1 // offset within h's subtree, h itself is 0
	for offset > 0 {
		seen := 1
		found := false
		for _, child := range idx.nodes[h].children {
			size := idx.nodes[child].size
			if offset < seen+size {
				offset -= seen
				h = child
				found = true
				break
			}
			seen += size
		}
		if !found {
			return "", fmt.Errorf("%w: subtree sizes do not cover row %d", ErrCorrupt, index)
		}
	}
	return idx.nodes[h].key, nil
}

// TotalSize returns the subtree size of key. For the root this is the visible
// row count plus one.
func (idx *Index) TotalSize(key string) (int, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return 0, err
	}
	return idx.nodes[h].size, nil
}

// VisibleRows returns the number of rows, i.e. TotalSize(RootKey) - 1.
func (idx *Index) VisibleRows() int {
	return idx.nodes[rootHandle].size - 1
}

// ChildCount returns the number of immediate children of key.
func (idx *Index) ChildCount(key string) (int, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return 0, err
	}
	return len(idx.nodes[h].children), nil
}

// Children returns a copy of the ordered child keys of key.
func (idx *Index) Children(key string) ([]string, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(idx.nodes[h].children))
	for i, c := range idx.nodes[h].children {
		out[i] = idx.nodes[c].key
	}
	return out, nil
}

// Parent returns the parent key of key. Top-level rows have RootKey as their
// parent; the root itself has none.
func (idx *Index) Parent(key string) (string, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return "", err
	}
	if h == rootHandle {
		return "", fmt.Errorf("%w: the root has no parent", ErrInvalidKey)
	}
	return idx.nodes[idx.nodes[h].parent].key, nil
}

// Level returns the depth of key: 0 for the root, 1 for top-level rows.
func (idx *Index) Level(key string) (int, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return 0, err
	}
	level := 0
	for h = idx.nodes[h].parent; h != noHandle; h = idx.nodes[h].parent {
		level++
	}
	return level, nil
}

// State returns the expansion state of key. The root is always Expanded.
func (idx *Index) State(key string) (State, error) {
	h, err := idx.lookup(key)
	if err != nil {
		return Collapsed, err
	}
	return idx.nodes[h].state, nil
}

// IsExpanded reports whether key is live and expanded.
func (idx *Index) IsExpanded(key string) bool {
	h, ok := idx.byKey[key]
	return ok && idx.nodes[h].state == Expanded
}

// ExpandedCount returns the number of expanded nodes, not counting the root.
func (idx *Index) ExpandedCount() int {
	return idx.expanded
}

// Expanded returns the sorted keys of every expanded node except the root.
func (idx *Index) Expanded() []string {
	out := make([]string, 0, idx.expanded)
	for k, h := range idx.byKey {
		if h != rootHandle && idx.nodes[h].state == Expanded {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Descendants returns the keys below key in pre-order. The sequence walks the
// Index lazily, so it must not be consumed across a mutation.
func (idx *Index) Descendants(key string) (iter.Seq[string], error) {
	h, err := idx.lookup(key)
	if err != nil {
		return nil, err
	}
	return idx.walk(h), nil
}

func (idx *Index) walk(h handle) iter.Seq[string] {
	return func(yield func(string) bool) {
		stack := make([]handle, 0, len(idx.nodes[h].children))
		pushReversed := func(children []handle) {
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
		pushReversed(idx.nodes[h].children)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(idx.nodes[cur].key) {
				return
			}
			pushReversed(idx.nodes[cur].children)
		}
	}
}

// Validate recomputes every subtree size and checks the links between nodes.
// It is O(n) and meant for tests and debug builds.
func (idx *Index) Validate() error {
	root := idx.nodes[rootHandle]
	if root.parent != noHandle || root.key != RootKey {
		return fmt.Errorf("%w: root slot overwritten", ErrCorrupt)
	}

	reached := 0
	expanded := 0
	var sizeOf func(h handle) (int, error)
	sizeOf = func(h handle) (int, error) {
		reached++
		n := idx.nodes[h]
		if got, ok := idx.byKey[n.key]; !ok || got != h {
			return 0, fmt.Errorf("%w: %q not addressable", ErrCorrupt, n.key)
		}
		if h != rootHandle && n.state == Expanded {
			expanded++
		}
		if n.state == Collapsed && len(n.children) > 0 {
			return 0, fmt.Errorf("%w: collapsed node %q has %d children", ErrCorrupt, n.key, len(n.children))
		}
		size := 1
		for _, c := range n.children {
			if idx.nodes[c].parent != h {
				return 0, fmt.Errorf("%w: %q does not point back to %q", ErrCorrupt, idx.nodes[c].key, n.key)
			}
			s, err := sizeOf(c)
			if err != nil {
				return 0, err
			}
			size += s
		}
		if size != n.size {
			return 0, fmt.Errorf("%w: %q records size %d, counted %d", ErrCorrupt, n.key, n.size, size)
		}
		return size, nil
	}

	if _, err := sizeOf(rootHandle); err != nil {
		return err
	}
	if reached != len(idx.byKey) {
		return fmt.Errorf("%w: %d keys registered, %d reachable", ErrCorrupt, len(idx.byKey), reached)
	}
	if expanded != idx.expanded {
		return fmt.Errorf("%w: expanded count %d, counted %d", ErrCorrupt, idx.expanded, expanded)
	}
	if slices.Contains(idx.free, rootHandle) {
		return fmt.Errorf("%w: root handle on free list", ErrCorrupt)
	}
	return nil
}

func (idx *Index) assertValid(op string) {
	if !debug.Enabled() {
		return
	}
	debug.AssertNoError(idx.Validate(), "flattree."+op)
}
