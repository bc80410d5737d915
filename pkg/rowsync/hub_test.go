package rowsync_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/rowsync"
	"github.com/vanderheijden86/treegrid/pkg/treegrid"
)

type mapSource struct {
	mu       sync.Mutex
	children map[string][]string
}

func (s *mapSource) FetchChildren(_ context.Context, q hierarchy.Query[string]) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := q.Parent
	if q.Root {
		parent = ""
	}
	return hierarchy.Window(append([]string(nil), s.children[parent]...), q), nil
}

func (s *mapSource) IsExpandable(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.children[item]
	return ok
}

func startHub(t *testing.T, src *mapSource, opts ...rowsync.HubOption) (*rowsync.Hub, string) {
	t.Helper()
	hub := rowsync.NewHub(func(sink rowsync.Sink) rowsync.Session {
		return treegrid.New[string](src, sink)
	}, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *rowsync.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := rowsync.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c *rowsync.Client) rowsync.Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		if !ok {
			t.Fatalf("connection closed: %v", c.Err())
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a server message")
	}
	return rowsync.Message{}
}

// TestHubSession drives a full expand/collapse round trip over a websocket
func TestHubSession(t *testing.T) {
	src := &mapSource{children: map[string][]string{
		"":    {"docs", "src", "README"},
		"src": {"main.go", "util.go"},
	}}
	_, url := startHub(t, src)
	c := dial(t, url)
	v := rowsync.NewViewer()

	initial := next(t, c)
	if initial.Op != rowsync.OpSetRows || initial.TotalSize != 3 || len(initial.Rows) != 3 {
		t.Fatalf("unexpected initial window: %s", rowsync.Describe(initial))
	}
	rowsync.Apply(v, initial)

	srcRow, _ := v.Window(1, 1)
	if err := c.SetExpanded(srcRow[0].Key, true); err != nil {
		t.Fatalf("SetExpanded: %v", err)
	}
	for _, want := range []rowsync.Op{rowsync.OpInsertRows, rowsync.OpSetRows, rowsync.OpSetRows} {
		m := next(t, c)
		if m.Op != want {
			t.Fatalf("expected %s, got %s", want, rowsync.Describe(m))
		}
		rowsync.Apply(v, m)
	}
	if v.Total() != 5 || v.Resets() != 1 {
		t.Errorf("viewer total=%d resets=%d, want 5 and 1", v.Total(), v.Resets())
	}
	if row, ok := v.Row(2); !ok || row.Column1 != "main.go" || row.Level != 2 {
		t.Errorf("row 2 = %+v, %v", row, ok)
	}

	if err := c.SetExpanded(srcRow[0].Key, false); err != nil {
		t.Fatalf("collapse: %v", err)
	}
	if m := next(t, c); m.Op != rowsync.OpRemoveRows || m.Index != 2 || m.Count != 2 {
		t.Fatalf("expected remove_rows 2+2, got %s", rowsync.Describe(m))
	}
}

// TestHubRejectsBadRequests verifies protocol errors keep the session open
func TestHubRejectsBadRequests(t *testing.T) {
	src := &mapSource{children: map[string][]string{"": {"a"}}}
	_, url := startHub(t, src)
	c := dial(t, url)
	next(t, c)

	if err := c.SetExpanded("999", true); err != nil {
		t.Fatalf("SetExpanded: %v", err)
	}
	if m := next(t, c); m.Op != rowsync.OpError || !strings.Contains(m.Error, "unknown row key") {
		t.Fatalf("expected unknown key error, got %s", rowsync.Describe(m))
	}

	if err := c.RequestRows(0, 10); err != nil {
		t.Fatalf("RequestRows: %v", err)
	}
	if m := next(t, c); m.Op != rowsync.OpSetRows || len(m.Rows) != 1 {
		t.Fatalf("expected clamped window, got %s", rowsync.Describe(m))
	}
}

// TestHubRefreshAll verifies a server-side refresh reaches every session
func TestHubRefreshAll(t *testing.T) {
	src := &mapSource{children: map[string][]string{"": {"a"}}}
	hub, url := startHub(t, src)
	c1 := dial(t, url)
	c2 := dial(t, url)
	next(t, c1)
	next(t, c2)

	deadline := time.Now().Add(5 * time.Second)
	for hub.SessionCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	src.mu.Lock()
	src.children[""] = []string{"a", "b"}
	src.mu.Unlock()
	if err := hub.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	for _, c := range []*rowsync.Client{c1, c2} {
		v := rowsync.NewViewer()
		v.SetRows(0, []rowsync.Row{{Key: "1"}}, 1)
		for v.Total() != 2 || len(v.Missing(0, 2)) != 0 {
			rowsync.Apply(v, next(t, c))
		}
	}
}

// TestHubRequestRate verifies a limited connection is slowed down, not dropped
func TestHubRequestRate(t *testing.T) {
	src := &mapSource{children: map[string][]string{"": {"a", "b"}}}
	_, url := startHub(t, src, rowsync.WithRequestRate(20, 1))
	c := dial(t, url)
	next(t, c)

	start := time.Now()
	const n = 5
	for i := 0; i < n; i++ {
		if err := c.RequestRows(0, 2); err != nil {
			t.Fatalf("RequestRows: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		if m := next(t, c); m.Op != rowsync.OpSetRows {
			t.Fatalf("expected set_rows, got %s", rowsync.Describe(m))
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("%d requests at 20/s answered in %s", n, elapsed)
	}
}

// TestWebsocketURL verifies address normalization
func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"localhost:8080":       "ws://localhost:8080/rows",
		":9000":                "ws://localhost:9000/rows",
		"http://127.0.0.1:80":  "ws://127.0.0.1:80/rows",
		"https://grid.example": "wss://grid.example/rows",
		"grid.example":         "wss://grid.example/rows",
		"ws://host:1/custom":   "ws://host:1/custom",
		"":                     "",
	}
	for in, want := range tests {
		if got := rowsync.WebsocketURL(in); got != want {
			t.Errorf("WebsocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
