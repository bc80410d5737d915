package treegrid

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func assertViewerMatches(t fatalHelper, g *Grid[string], rec *rowsync.Recorder) {
	t.Helper()
	v := rowsync.NewViewer()
	for _, m := range rec.Messages() {
		rowsync.Apply(v, m)
	}
	server, err := g.Rows(0, g.TotalRows())
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if v.Total() != len(server) {
		t.Fatalf("viewer total %d, server %d", v.Total(), len(server))
	}
	for i, want := range server {
		got, ok := v.Row(i)
		if !ok {
			t.Fatalf("viewer missing row %d (%s)", i, want.Column1)
		}
		if got != want {
			t.Fatalf("row %d: viewer %+v, server %+v", i, got, want)
		}
	}
}

// hashTree is an infinite-ish deterministic hierarchy bounded by depth.
type hashTree struct{ depth int }

func (h hashTree) FetchChildren(_ context.Context, q hierarchy.Query[string]) ([]string, error) {
	parent := q.Parent
	if q.Root {
		parent = ""
	}
	f := fnv.New32a()
	f.Write([]byte(parent))
	n := int(f.Sum32()%4) + 1
	out := make([]string, n)
	for i := range out {
		if parent == "" {
			out[i] = fmt.Sprint(i)
		} else {
			out[i] = fmt.Sprintf("%s.%d", parent, i)
		}
	}
	return hierarchy.Window(out, q), nil
}

func (h hashTree) IsExpandable(item string) bool {
	return strings.Count(item, ".") < h.depth
}

// TestViewerTracksServer toggles random rows and checks that a viewer fed only
// the emitted deltas always agrees with the server window
func TestViewerTracksServer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rec := &rowsync.Recorder{}
		g := New[string](hashTree{depth: 3}, rec)
		ctx := context.Background()
		if err := g.Initialize(ctx); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if err := g.SendInitial(); err != nil {
			t.Fatalf("SendInitial: %v", err)
		}

		t.Repeat(map[string]func(*rapid.T){
			"toggle": func(t *rapid.T) {
				total := g.TotalRows()
				if total == 0 {
					t.Skip("no rows")
				}
				i := rapid.IntRange(0, total-1).Draw(t, "row")
				rows, err := g.Rows(i, 1)
				if err != nil {
					t.Fatalf("Rows(%d): %v", i, err)
				}
				row := rows[0]
				before := g.TotalRows()
				err = g.Toggle(ctx, row.Key)
				switch {
				case !row.Expandable:
					if !errors.Is(err, ErrNotExpandable) {
						t.Fatalf("toggle leaf %s: %v", row.Column1, err)
					}
					if g.TotalRows() != before {
						t.Fatal("rejected toggle changed the row count")
					}
				case err != nil:
					t.Fatalf("toggle %s: %v", row.Column1, err)
				}
			},
			"refresh": func(t *rapid.T) {
				expanded := g.Expanded()
				if len(expanded) == 0 {
					t.Skip("nothing expanded")
				}
				key := rapid.SampledFrom(expanded).Draw(t, "key")
				if err := g.Refresh(ctx, key); err != nil {
					t.Fatalf("Refresh(%s): %v", key, err)
				}
			},
			"": func(t *rapid.T) {
				assertViewerMatches(t, g, rec)
				st := g.Stats()
				if st.LiveKeys != st.VisibleRows {
					t.Fatalf("live keys %d != visible rows %d", st.LiveKeys, st.VisibleRows)
				}
			},
		})
	})
}
