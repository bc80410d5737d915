package source

import (
	"context"
	"slices"
	"testing"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
)

// TestSyntheticShape verifies root count, child naming and the depth limit
func TestSyntheticShape(t *testing.T) {
	ctx := context.Background()
	s := NewSynthetic(2)

	roots, err := s.FetchChildren(ctx, hierarchy.RootQuery[string]())
	if err != nil {
		t.Fatalf("FetchChildren(root): %v", err)
	}
	if len(roots) != SyntheticRoots || roots[0] != "0" || roots[31] != "31" {
		t.Fatalf("unexpected roots: %v", roots)
	}

	kids, err := s.FetchChildren(ctx, hierarchy.ChildQuery("7"))
	if err != nil {
		t.Fatalf("FetchChildren(7): %v", err)
	}
	if len(kids) != ChildCount("7") || kids[0] != "7.0" {
		t.Errorf("children of 7 = %v, want %d", kids, ChildCount("7"))
	}
	if s.IsExpandable(kids[0]) {
		t.Error("nodes at the depth limit should be leaves")
	}
	if leaf, _ := s.FetchChildren(ctx, hierarchy.ChildQuery(kids[0])); len(leaf) != 0 {
		t.Errorf("leaf has children %v", leaf)
	}
	if s.Detail(kids[0]) != "0" || s.Label("7") != "Node 7" {
		t.Errorf("Detail=%q Label=%q", s.Detail(kids[0]), s.Label("7"))
	}
}

func TestSyntheticPaging(t *testing.T) {
	ctx := context.Background()
	s := NewSynthetic(0)

	page, err := s.FetchChildren(ctx, hierarchy.Query[string]{Root: true, Offset: 30, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(page, []string{"30", "31"}) {
		t.Errorf("page = %v", page)
	}

	all, err := hierarchy.FetchAll[string](ctx, s, hierarchy.RootQuery[string](), 7)
	if err != nil || len(all) != SyntheticRoots {
		t.Errorf("FetchAll = %d items, %v", len(all), err)
	}

	if _, err := s.FetchChildren(ctx, hierarchy.Query[string]{Root: true, Offset: -1}); err == nil {
		t.Error("expected invalid query error")
	}
	if n, _ := s.CountChildren(ctx, hierarchy.ChildQuery("3")); n != ChildCount("3") {
		t.Errorf("CountChildren = %d", n)
	}
}

func TestChildCountRange(t *testing.T) {
	for _, id := range []string{"0", "1", "31", "4.2", "4.2.8", "9.9.9.9"} {
		if n := ChildCount(id); n < 1 || n > 9 {
			t.Errorf("ChildCount(%q) = %d", id, n)
		}
		if ChildCount(id) != ChildCount(id) {
			t.Errorf("ChildCount(%q) not deterministic", id)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		if got, err := ParseKind(string(k)); err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("ftp"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := Open(context.Background(), Options{Kind: "ftp"}); err == nil {
		t.Error("expected Open to reject unknown kind")
	}
	src, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	if p, _ := src.Headers(); p != "Node" {
		t.Errorf("default source should be synthetic, got header %q", p)
	}
}
