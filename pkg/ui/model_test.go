package ui

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

type fakeBackend struct {
	msgs     chan rowsync.Message
	requests []rowsync.Range
	toggles  []string
	closed   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{msgs: make(chan rowsync.Message, 16)}
}

func (f *fakeBackend) Messages() <-chan rowsync.Message { return f.msgs }
func (f *fakeBackend) Columns() (string, string)        { return "Name", "Size" }
func (f *fakeBackend) Close() error                     { f.closed = true; return nil }

func (f *fakeBackend) RequestRows(first, count int) error {
	f.requests = append(f.requests, rowsync.Range{First: first, Count: count})
	return nil
}

func (f *fakeBackend) SetExpanded(key string, expanded bool) error {
	f.toggles = append(f.toggles, fmt.Sprintf("%s %v", key, expanded))
	return nil
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func server(t *testing.T, m Model, msgs ...rowsync.Message) Model {
	t.Helper()
	for _, msg := range msgs {
		m = update(t, m, rowMsg{msg})
	}
	return m
}

func press(t *testing.T, m Model, names ...string) Model {
	t.Helper()
	for _, k := range names {
		var msg tea.KeyMsg
		switch k {
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		m = update(t, m, msg)
	}
	return m
}

func row(key string, level int, expandable, expanded bool) rowsync.Row {
	return rowsync.Row{Key: key, Level: level, Column1: "n" + key, Column2: "d" + key, Expandable: expandable, Expanded: expanded}
}

func newTestModel(t *testing.T, f *fakeBackend, height int) Model {
	t.Helper()
	m := NewModel(f, WithPrefetch(0))
	return update(t, m, tea.WindowSizeMsg{Width: 80, Height: height})
}

// TestModelRequestsMissingRows verifies only uncached visible rows are requested, once
func TestModelRequestsMissingRows(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 10)
	if len(f.requests) != 0 {
		t.Fatalf("requested before the first window: %v", f.requests)
	}

	m = server(t, m, rowsync.SetRowsMessage(0, []rowsync.Row{row("1", 1, false, false), row("2", 1, false, false), row("3", 1, false, false)}, 20))
	want := []rowsync.Range{{First: 3, Count: 4}}
	if !slices.Equal(f.requests, want) {
		t.Fatalf("requests = %v, want %v", f.requests, want)
	}

	m = press(t, m, "down")
	if !slices.Equal(f.requests, want) {
		t.Errorf("in-flight range requested again: %v", f.requests)
	}

	m = press(t, m, "G")
	if m.Cursor() != 19 {
		t.Fatalf("cursor = %d, want 19", m.Cursor())
	}
	last := f.requests[len(f.requests)-1]
	if last != (rowsync.Range{First: 13, Count: 7}) {
		t.Errorf("last request = %v", last)
	}
}

// TestModelKeepsSelectionAcrossInsert verifies the cursor follows its row key
func TestModelKeepsSelectionAcrossInsert(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 20)
	m = server(t, m, rowsync.SetRowsMessage(0, []rowsync.Row{row("1", 1, true, false), row("2", 1, true, false), row("3", 1, false, false)}, 3))

	m = press(t, m, "down", "down")
	if sel, _ := m.SelectedRow(); sel.Key != "3" {
		t.Fatalf("selected %q, want 3", sel.Key)
	}

	m = press(t, m, "up", "up", "enter")
	if !slices.Equal(f.toggles, []string{"1 true"}) {
		t.Fatalf("toggles = %v", f.toggles)
	}
	m = press(t, m, "down", "down")

	m = server(t, m,
		rowsync.InsertRowsMessage(1, 2),
		rowsync.SetRowsMessage(1, []rowsync.Row{row("4", 2, false, false), row("5", 2, false, false)}, 5),
		rowsync.SetRowsMessage(0, []rowsync.Row{row("1", 1, true, true)}, 5),
	)
	if sel, _ := m.SelectedRow(); sel.Key != "3" || m.Cursor() != 4 {
		t.Errorf("selected %q at %d, want 3 at 4", sel.Key, m.Cursor())
	}
	if m.Viewer().Resets() != 1 {
		t.Errorf("expand sequence reset the cache %d times", m.Viewer().Resets())
	}
}

// TestModelTreeNavigation verifies → / ← expand, descend, collapse and ascend
func TestModelTreeNavigation(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 20)
	m = server(t, m, rowsync.SetRowsMessage(0, []rowsync.Row{
		row("1", 1, true, true),
		row("2", 2, true, false),
		row("3", 2, false, false),
		row("4", 1, true, false),
	}, 4))

	m = press(t, m, "right")
	if sel, _ := m.SelectedRow(); sel.Key != "2" {
		t.Fatalf("→ on an expanded row should move to its first child, at %q", sel.Key)
	}
	m = press(t, m, "right")
	if !slices.Equal(f.toggles, []string{"2 true"}) {
		t.Fatalf("→ on a collapsed row should expand it, toggles %v", f.toggles)
	}

	m = press(t, m, "down", "left")
	if sel, _ := m.SelectedRow(); sel.Key != "1" {
		t.Fatalf("← on a leaf should jump to the parent, at %q", sel.Key)
	}
	m = press(t, m, "left")
	if !slices.Equal(f.toggles, []string{"2 true", "1 false"}) {
		t.Errorf("← on an expanded row should collapse it, toggles %v", f.toggles)
	}
}

// TestModelRemoveMovesCursorToParent verifies a collapse under the cursor selects the parent
func TestModelRemoveMovesCursorToParent(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 20)
	m = server(t, m, rowsync.SetRowsMessage(0, []rowsync.Row{
		row("1", 1, true, true),
		row("2", 2, false, false),
		row("3", 2, false, false),
		row("4", 1, false, false),
	}, 4))
	m = press(t, m, "down", "down")

	m = server(t, m,
		rowsync.RemoveRowsMessage(1, 2),
		rowsync.SetRowsMessage(0, []rowsync.Row{row("1", 1, true, false)}, 2),
	)
	if sel, _ := m.SelectedRow(); sel.Key != "1" || m.Cursor() != 0 {
		t.Errorf("selected %q at %d, want 1 at 0", sel.Key, m.Cursor())
	}
}

// TestModelView verifies indicators, branch guides and the detail column
func TestModelView(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 12)
	if !strings.Contains(m.View(), "Loading") {
		t.Errorf("expected a loading view before the first window")
	}

	m = server(t, m, rowsync.SetRowsMessage(0, []rowsync.Row{
		row("1", 1, true, true),
		row("2", 2, true, false),
		row("3", 2, false, false),
		row("4", 1, false, false),
	}, 6))
	view := m.View()
	for _, want := range []string{"Name", "Size", "▾", "▸", "•", "├─ ", "└─ ", "n2", "d3", "loading", "1/6 rows"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = press(t, m, "d")
	if strings.Contains(m.View(), "d3") {
		t.Error("detail column should be hidden")
	}

	m = press(t, m, "?")
	if !strings.Contains(m.View(), "Quick Reference") {
		t.Error("expected the help modal")
	}
	m = press(t, m, "?")
	if strings.Contains(m.View(), "Quick Reference") {
		t.Error("help should close")
	}
}

// TestModelErrorsAndClose verifies server errors and hang-ups reach the status line
func TestModelErrorsAndClose(t *testing.T) {
	f := newFakeBackend()
	m := newTestModel(t, f, 12)
	m = server(t, m, rowsync.ErrorMessage(errors.New("unknown row key")))
	if s, isErr := m.Status(); s != "unknown row key" || !isErr {
		t.Errorf("status = %q, %v", s, isErr)
	}
	if !strings.Contains(m.View(), "unknown row key") {
		t.Error("expected the error in the loading view")
	}

	m = update(t, m, closedMsg{})
	if s, _ := m.Status(); s != "unknown row key" {
		t.Errorf("an error should survive the hang-up, got %q", s)
	}

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q should quit")
	}
}
