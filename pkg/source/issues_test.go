package source

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/model"
)

func child(id, parent string, priority int) model.Issue {
	i := model.Issue{ID: id, Title: "Issue " + id, Status: model.StatusOpen, IssueType: model.TypeTask, Priority: priority,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	if parent != "" {
		i.Dependencies = []*model.Dependency{{IssueID: id, DependsOnID: parent, Type: model.DepParentChild}}
	}
	return i
}

func fetch(t *testing.T, s *Issues, q hierarchy.Query[string]) []string {
	t.Helper()
	ids, err := s.FetchChildren(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchChildren: %v", err)
	}
	return ids
}

// TestIssuesHierarchy verifies parent links, orphans and sibling order
func TestIssuesHierarchy(t *testing.T) {
	s := NewIssues([]model.Issue{
		child("epic", "", 1),
		child("t2", "epic", 2),
		child("t1", "epic", 0),
		child("sub", "t1", 3),
		child("orphan", "gone", 4),
		child("urgent", "", 0),
	})

	if got := fetch(t, s, hierarchy.RootQuery[string]()); !slices.Equal(got, []string{"urgent", "epic", "orphan"}) {
		t.Errorf("top = %v", got)
	}
	if got := fetch(t, s, hierarchy.ChildQuery("epic")); !slices.Equal(got, []string{"t1", "t2"}) {
		t.Errorf("epic children = %v", got)
	}
	if !s.IsExpandable("t1") || s.IsExpandable("sub") {
		t.Error("IsExpandable mismatch")
	}
	if n, _ := s.CountChildren(context.Background(), hierarchy.ChildQuery("epic")); n != 2 {
		t.Errorf("CountChildren = %d", n)
	}
	if s.Label("t1") != "t1 Issue t1" || s.Detail("t1") != "P0 open task" {
		t.Errorf("Label=%q Detail=%q", s.Label("t1"), s.Detail("t1"))
	}
	if issue, ok := s.Issue("sub"); !ok || issue.ParentID() != "t1" {
		t.Errorf("Issue(sub) = %+v, %v", issue, ok)
	}
}

// TestIssuesCycleBecomesReachable verifies cyclic parents are promoted
func TestIssuesCycleBecomesReachable(t *testing.T) {
	s := NewIssues([]model.Issue{
		child("a", "b", 1),
		child("b", "a", 2),
		child("c", "", 3),
	})

	seen := map[string]bool{}
	var walk func(q hierarchy.Query[string])
	walk = func(q hierarchy.Query[string]) {
		for _, id := range fetch(t, s, q) {
			if seen[id] {
				t.Fatalf("%s reached twice", id)
			}
			seen[id] = true
			walk(hierarchy.ChildQuery(id))
		}
	}
	walk(hierarchy.RootQuery[string]())
	if len(seen) != s.Len() {
		t.Errorf("reached %d of %d issues", len(seen), s.Len())
	}
	if got := fetch(t, s, hierarchy.RootQuery[string]()); !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("top = %v", got)
	}
}

func TestLoadIssuesFiltersClosed(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"id":"bd-1","title":"Epic","status":"open","priority":1,"issue_type":"epic"}`,
		`{"id":"bd-2","title":"Done","status":"closed","priority":1,"issue_type":"task","dependencies":[{"issue_id":"bd-2","depends_on_id":"bd-1","type":"parent-child"}]}`,
		`{"id":"bd-3","title":"Gone","status":"tombstone","priority":1,"issue_type":"task"}`,
	}
	file := filepath.Join(dir, "issues.jsonl")
	if err := os.WriteFile(file, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		t.Fatal(err)
	}

	open, err := LoadIssues(file, false, func(string) {})
	if err != nil {
		t.Fatalf("LoadIssues: %v", err)
	}
	if open.Len() != 1 || open.IsExpandable("bd-1") {
		t.Errorf("closed issues should be hidden, len=%d", open.Len())
	}

	all, err := LoadIssues(file, true, func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	if all.Len() != 2 || !all.IsExpandable("bd-1") {
		t.Errorf("expected closed child under bd-1, len=%d", all.Len())
	}

	if err := os.WriteFile(file, []byte(lines[0]), 0644); err != nil {
		t.Fatal(err)
	}
	if err := all.Reload(); err != nil {
		t.Fatal(err)
	}
	if all.Len() != 1 {
		t.Errorf("Reload kept stale issues: len=%d", all.Len())
	}
}

// TestIssuesLongCycleKeepsDescendants verifies only one member per cycle moves
func TestIssuesLongCycleKeepsDescendants(t *testing.T) {
	var warnings []string
	s := &Issues{includeClosed: true, warn: func(msg string) { warnings = append(warnings, msg) }}
	s.set([]model.Issue{
		child("x", "z", 3),
		child("y", "x", 1),
		child("z", "y", 2),
		child("leaf", "x", 0),
		child("self", "self", 4),
	})

	if got := fetch(t, s, hierarchy.RootQuery[string]()); !slices.Equal(got, []string{"y", "self"}) {
		t.Errorf("top = %v", got)
	}
	if got := fetch(t, s, hierarchy.ChildQuery("x")); !slices.Equal(got, []string{"leaf"}) {
		t.Errorf("x children = %v", got)
	}
	if got := fetch(t, s, hierarchy.ChildQuery("y")); !slices.Equal(got, []string{"z"}) {
		t.Errorf("y children = %v", got)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "y") {
		t.Errorf("warnings = %v", warnings)
	}
}
