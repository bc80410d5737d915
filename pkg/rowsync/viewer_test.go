package rowsync

import (
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func rowsFor(keys ...string) []Row {
	out := make([]Row, len(keys))
	for i, k := range keys {
		out[i] = Row{Key: k, Column1: k}
	}
	return out
}

func cachedKeys(v *Viewer) []string {
	rows, ok := v.Window(0, v.Total())
	out := make([]string, len(rows))
	for i, r := range rows {
		if ok[i] {
			out[i] = r.Key
		} else {
			out[i] = "?"
		}
	}
	return out
}

// TestViewerResetsOnlyOnMismatch verifies set_rows keeps the cache when totals agree
func TestViewerResetsOnlyOnMismatch(t *testing.T) {
	v := NewViewer()
	v.SetRows(0, rowsFor("a", "b", "c"), 3)
	if v.Resets() != 1 || v.Total() != 3 {
		t.Fatalf("expected first window to reset once, got resets=%d total=%d", v.Resets(), v.Total())
	}

	v.SetRows(1, rowsFor("B"), 3)
	if v.Resets() != 1 {
		t.Errorf("matching total should not reset, resets=%d", v.Resets())
	}
	if got := cachedKeys(v); !slices.Equal(got, []string{"a", "B", "c"}) {
		t.Errorf("rows = %v", got)
	}

	v.SetRows(0, rowsFor("x"), 5)
	if v.Resets() != 2 {
		t.Errorf("mismatched total should reset, resets=%d", v.Resets())
	}
	if got := cachedKeys(v); !slices.Equal(got, []string{"x", "?", "?", "?", "?"}) {
		t.Errorf("rows = %v", got)
	}
}

// TestViewerInsertShiftsRows verifies the expand sequence needs no reset
func TestViewerInsertShiftsRows(t *testing.T) {
	v := NewViewer()
	v.SetRows(0, rowsFor("0", "1", "2"), 3)

	v.InsertRows(2, 2)
	if got := cachedKeys(v); !slices.Equal(got, []string{"0", "1", "?", "?", "2"}) {
		t.Fatalf("after insert rows = %v", got)
	}
	if got := v.Missing(0, 10); !slices.Equal(got, []Range{{First: 2, Count: 2}}) {
		t.Errorf("Missing = %v", got)
	}

	v.SetRows(2, rowsFor("1.0", "1.1"), 5)
	v.SetRows(1, rowsFor("1"), 5)
	if v.Resets() != 1 {
		t.Errorf("expand sequence caused a reset, resets=%d", v.Resets())
	}
	if got := cachedKeys(v); !slices.Equal(got, []string{"0", "1", "1.0", "1.1", "2"}) {
		t.Errorf("rows = %v", got)
	}
	if i, ok := v.Find("2"); !ok || i != 4 {
		t.Errorf("Find(2) = %d, %v", i, ok)
	}
}

// TestViewerRemoveShiftsRows verifies the collapse sequence
func TestViewerRemoveShiftsRows(t *testing.T) {
	v := NewViewer()
	v.SetRows(0, rowsFor("0", "1", "1.0", "1.1", "2"), 5)

	v.RemoveRows(2, 2)
	if got := cachedKeys(v); !slices.Equal(got, []string{"0", "1", "2"}) {
		t.Errorf("rows = %v", got)
	}

	// Out of range and oversized removals are clamped.
	v.RemoveRows(7, 1)
	v.RemoveRows(2, 10)
	if got := cachedKeys(v); !slices.Equal(got, []string{"0", "1"}) {
		t.Errorf("rows = %v", got)
	}
	if _, ok := v.Find("2"); ok {
		t.Error("expected removed row to be gone")
	}
}

// TestViewerFindTracksShifts verifies key lookups follow rows through deltas
func TestViewerFindTracksShifts(t *testing.T) {
	v := NewViewer()
	v.SetRows(0, rowsFor("0", "1", "2"), 3)

	find := func(key string, want int) {
		t.Helper()
		i, ok := v.Find(key)
		switch {
		case want < 0 && ok:
			t.Errorf("Find(%s) = %d, want missing", key, i)
		case want >= 0 && (!ok || i != want):
			t.Errorf("Find(%s) = %d, %v; want %d", key, i, ok, want)
		}
	}

	v.InsertRows(1, 2)
	find("0", 0)
	find("1", 3)
	find("2", 4)

	v.SetRows(1, rowsFor("0.0", "0.1"), 5)
	find("0.1", 2)

	v.RemoveRows(1, 2)
	find("0.0", -1)
	find("1", 1)
	find("2", 2)

	v.SetRows(2, rowsFor("3"), 3)
	find("2", -1)
	find("3", 2)

	v.SetRows(0, rowsFor("x"), 1)
	find("0", -1)
	find("x", 0)
}

// TestViewerMatchesListModel checks insert/remove/set against a plain slice
func TestViewerMatchesListModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := NewViewer()
		var model []string
		next := 0
		fresh := func(n int) []string {
			out := make([]string, n)
			for i := range out {
				next++
				out[i] = string(rune('A'+next%26)) + string(rune('0'+next%10))
			}
			return out
		}

		t.Repeat(map[string]func(*rapid.T){
			"insert": func(t *rapid.T) {
				at := rapid.IntRange(0, len(model)).Draw(t, "at")
				n := rapid.IntRange(1, 4).Draw(t, "n")
				keys := fresh(n)
				v.InsertRows(at, n)
				v.SetRows(at, rowsFor(keys...), len(model)+n)
				model = slices.Insert(model, at, keys...)
			},
			"remove": func(t *rapid.T) {
				if len(model) == 0 {
					t.Skip("empty")
				}
				at := rapid.IntRange(0, len(model)-1).Draw(t, "at")
				n := rapid.IntRange(1, len(model)-at).Draw(t, "n")
				v.RemoveRows(at, n)
				model = slices.Delete(model, at, at+n)
			},
			"": func(t *rapid.T) {
				if v.Total() != len(model) {
					t.Fatalf("total %d, model %d", v.Total(), len(model))
				}
				if got := cachedKeys(v); !slices.Equal(got, model) {
					t.Fatalf("rows %v, model %v", got, model)
				}
				if v.Resets() > 1 {
					t.Fatalf("deltas caused %d resets", v.Resets())
				}
			},
		})
	})
}
