package source

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/loader"
	"github.com/vanderheijden86/treegrid/pkg/model"
)

// Issues arranges beads issues by their parent-child dependencies. Issues
// whose parent is missing, closed-and-hidden, or part of a cycle become
// top-level rows. Siblings are ordered with model.Compare.
type Issues struct {
	path          string
	includeClosed bool
	warn          func(string)

	mu       sync.RWMutex
	byID     map[string]*model.Issue
	children map[string][]string // "" holds the top level
}

// LoadIssues reads issues from path, which is either a JSONL file or a
// repository containing a .beads directory.
func LoadIssues(path string, includeClosed bool, warn func(string)) (*Issues, error) {
	s := &Issues{path: path, includeClosed: includeClosed, warn: warn}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewIssues arranges an in-memory issue list.
func NewIssues(issues []model.Issue) *Issues {
	s := &Issues{includeClosed: true}
	s.set(issues)
	return s
}

// File returns the JSONL file the issues were read from, if any.
func (s *Issues) File() (string, error) {
	if info, err := os.Stat(s.path); err == nil && !info.IsDir() {
		return s.path, nil
	}
	dir, err := loader.GetBeadsDir(s.path)
	if err != nil {
		return "", err
	}
	return loader.FindJSONLPath(dir, s.warn)
}

// Reload re-reads the issues file.
func (s *Issues) Reload() error {
	file, err := s.File()
	if err != nil {
		return err
	}
	issues, err := loader.LoadIssuesFromFile(file, loader.ParseOptions{
		WarningHandler: s.warn,
		IssueFilter: func(i *model.Issue) bool {
			return !i.Status.IsTombstone() && (s.includeClosed || !i.Status.IsClosed())
		},
	})
	if err != nil {
		return fmt.Errorf("loading issues: %w", err)
	}
	s.set(issues)
	return nil
}

func (s *Issues) set(issues []model.Issue) {
	byID := make(map[string]*model.Issue, len(issues))
	for i := range issues {
		byID[issues[i].ID] = &issues[i]
	}

	children := make(map[string][]string)
	for _, issue := range byID {
		parent := issue.ParentID()
		if _, ok := byID[parent]; !ok || parent == issue.ID {
			parent = ""
		}
		children[parent] = append(children[parent], issue.ID)
	}
	byCompare := func(a, b string) int { return model.Compare(byID[a], byID[b]) }
	for _, ids := range children {
		slices.SortFunc(ids, byCompare)
	}

	for _, id := range breakCycles(byID, children, byCompare) {
		if s.warn != nil {
			s.warn(fmt.Sprintf("issue %s is on a parent cycle, showing it at the top level", id))
		}
		parent := byID[id].ParentID()
		children[parent] = slices.DeleteFunc(children[parent], func(c string) bool { return c == id })
		children[""] = append(children[""], id)
	}
	slices.SortFunc(children[""], byCompare)

	s.mu.Lock()
	s.byID, s.children = byID, children
	s.mu.Unlock()
}

// breakCycles returns one issue per parent cycle, the first in sibling
// order. Every issue unreachable from the top level sits on or below such a
// cycle, so promoting these makes the whole set reachable.
func breakCycles(byID map[string]*model.Issue, children map[string][]string, byCompare func(a, b string) int) []string {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	nodeOf := make(map[string]int64, len(ids))
	g := simple.NewDirectedGraph()
	for i, id := range ids {
		nodeOf[id] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for parent, kids := range children {
		if parent == "" {
			continue
		}
		for _, c := range kids {
			g.SetEdge(g.NewEdge(simple.Node(nodeOf[parent]), simple.Node(nodeOf[c])))
		}
	}

	var out []string
	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		members := make([]string, len(scc))
		for i, n := range scc {
			members[i] = ids[n.ID()]
		}
		out = append(out, slices.MinFunc(members, byCompare))
	}
	slices.SortFunc(out, byCompare)
	return out
}

// Issue returns the issue with id.
func (s *Issues) Issue(id string) (model.Issue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.byID[id]
	if !ok {
		return model.Issue{}, false
	}
	return issue.Clone(), true
}

// Len returns the number of loaded issues.
func (s *Issues) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Issues) FetchChildren(ctx context.Context, q hierarchy.Query[string]) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent := q.Parent
	if q.Root {
		parent = ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(hierarchy.Window(s.children[parent], q)), nil
}

func (s *Issues) CountChildren(_ context.Context, q hierarchy.Query[string]) (int, error) {
	parent := q.Parent
	if q.Root {
		parent = ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children[parent]), nil
}

func (s *Issues) IsExpandable(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id != "" && len(s.children[id]) > 0
}

func (s *Issues) Headers() (string, string) { return "Issue", "Status" }

func (s *Issues) Label(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if issue, ok := s.byID[id]; ok {
		return issue.ID + " " + issue.Title
	}
	return id
}

func (s *Issues) Detail(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if issue, ok := s.byID[id]; ok {
		return issue.Summary()
	}
	return ""
}

func (s *Issues) Close() error { return nil }
