package ui

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/adrg/xdg"
)

// TestTreeStateRoundTrip verifies save and load for one source
func TestTreeStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tree.json")
	st := &TreeState{Version: TreeStateVersion, Source: "fs:/tmp/x", Expanded: []string{"docs", "src", "src/cmd"}}
	if err := st.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := LoadTreeState(path, "fs:/tmp/x")
	if !slices.Equal(got.Expanded, st.Expanded) {
		t.Errorf("Expanded = %v, want %v", got.Expanded, st.Expanded)
	}

	if other := LoadTreeState(path, "fs:/elsewhere"); len(other.Expanded) != 0 || other.Source != "fs:/elsewhere" {
		t.Errorf("state of another source leaked: %+v", other)
	}
}

// TestLoadTreeStateDegrades verifies missing and corrupted files yield empty state
func TestLoadTreeStateDegrades(t *testing.T) {
	dir := t.TempDir()
	if st := LoadTreeState(filepath.Join(dir, "missing.json"), "s"); len(st.Expanded) != 0 || st.Version != TreeStateVersion {
		t.Errorf("missing file: %+v", st)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if st := LoadTreeState(bad, "s"); len(st.Expanded) != 0 {
		t.Errorf("corrupted file: %+v", st)
	}
}

// TestTreeStatePath verifies the path is stable per source and differs across sources
func TestTreeStatePath(t *testing.T) {
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	xdg.Reload()
	a1, err := TreeStatePath("fs:/a")
	if err != nil {
		t.Fatalf("TreeStatePath: %v", err)
	}
	a2, _ := TreeStatePath("fs:/a")
	b, _ := TreeStatePath("fs:/b")
	if a1 != a2 || a1 == b {
		t.Errorf("paths a=%s a=%s b=%s", a1, a2, b)
	}
	if filepath.Ext(a1) != ".json" {
		t.Errorf("unexpected path %s", a1)
	}
}
