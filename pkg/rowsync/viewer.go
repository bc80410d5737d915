package rowsync

// Range is a contiguous run of row indexes.
type Range struct {
	First int `json:"first_row"`
	Count int `json:"count"`
}

// Viewer is the viewer side row cache. It implements Sink so server commands
// can be applied to it directly, in process or after decoding.
//
// Rows are stored sparsely by index. Insert and remove shift the stored rows
// locally; set_rows resets the cache only when the reported total disagrees
// with the locally tracked one.
//
// A Viewer is not safe for concurrent use.
type Viewer struct {
	total  int
	rows   map[int]Row
	byKey  map[string]int
	resets int
}

// NewViewer returns an empty cache.
func NewViewer() *Viewer {
	return &Viewer{rows: make(map[int]Row), byKey: make(map[string]int)}
}

// SetRows stores a window and adopts totalSize.
func (v *Viewer) SetRows(firstRow int, rows []Row, totalSize int) {
	if totalSize != v.total {
		v.total = totalSize
		clear(v.rows)
		clear(v.byKey)
		v.resets++
	}
	for i, row := range rows {
		if at := firstRow + i; at >= 0 && at < v.total {
			v.drop(at)
			v.rows[at] = row
			v.byKey[row.Key] = at
		}
	}
}

// InsertRows opens a gap of count unknown rows at index.
func (v *Viewer) InsertRows(index, count int) {
	if count <= 0 {
		return
	}
	index = max(0, min(index, v.total))
	v.shift(index, count)
	v.total += count
}

// RemoveRows drops count rows starting at index.
func (v *Viewer) RemoveRows(index, count int) {
	if index < 0 || index >= v.total || count <= 0 {
		return
	}
	count = min(count, v.total-index)
	for i := index; i < index+count; i++ {
		v.drop(i)
	}
	v.shift(index+count, -count)
	v.total -= count
}

// drop forgets the cached row at index.
func (v *Viewer) drop(index int) {
	row, ok := v.rows[index]
	if !ok {
		return
	}
	delete(v.rows, index)
	if at, ok := v.byKey[row.Key]; ok && at == index {
		delete(v.byKey, row.Key)
	}
}

// shift moves every cached row at or after from by delta.
func (v *Viewer) shift(from, delta int) {
	moved := make(map[int]Row)
	for i, row := range v.rows {
		if i >= from {
			moved[i+delta] = row
			delete(v.rows, i)
		}
	}
	for i, row := range moved {
		v.rows[i] = row
		if at, ok := v.byKey[row.Key]; ok && at == i-delta {
			v.byKey[row.Key] = i
		}
	}
}

// Total returns the locally tracked row count.
func (v *Viewer) Total() int { return v.total }

// Resets returns how many times a total mismatch cleared the cache.
func (v *Viewer) Resets() int { return v.resets }

// Row returns the cached row at index.
func (v *Viewer) Row(index int) (Row, bool) {
	row, ok := v.rows[index]
	return row, ok
}

// Cached returns the number of rows held.
func (v *Viewer) Cached() int { return len(v.rows) }

// Find returns the index of the cached row with key.
func (v *Viewer) Find(key string) (int, bool) {
	i, ok := v.byKey[key]
	return i, ok
}

// Window returns the rows in [first, first+count) clamped to the total, with
// ok false for positions not cached yet.
func (v *Viewer) Window(first, count int) (rows []Row, ok []bool) {
	first = max(0, first)
	end := min(first+count, v.total)
	for i := first; i < end; i++ {
		row, has := v.rows[i]
		rows = append(rows, row)
		ok = append(ok, has)
	}
	return rows, ok
}

// Missing returns the uncached runs inside [first, first+count).
func (v *Viewer) Missing(first, count int) []Range {
	first = max(0, first)
	end := min(first+count, v.total)
	var out []Range
	for i := first; i < end; i++ {
		if _, ok := v.rows[i]; ok {
			continue
		}
		if n := len(out); n > 0 && out[n-1].First+out[n-1].Count == i {
			out[n-1].Count++
			continue
		}
		out = append(out, Range{First: i, Count: 1})
	}
	return out
}
