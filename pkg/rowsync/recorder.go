package rowsync

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder is a Sink that keeps every command it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) record(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *Recorder) SetRows(firstRow int, rows []Row, totalSize int) {
	r.record(SetRowsMessage(firstRow, append([]Row(nil), rows...), totalSize))
}

func (r *Recorder) InsertRows(index, count int) { r.record(InsertRowsMessage(index, count)) }

func (r *Recorder) RemoveRows(index, count int) { r.record(RemoveRowsMessage(index, count)) }

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// Summary renders the recorded commands one per line, e.g.
//
//	insert_rows 3+4
//	set_rows 3 [7 8 9 10] /12
func (r *Recorder) Summary() []string {
	msgs := r.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Describe(m))
	}
	return out
}

// Describe renders m in the compact form used by Summary.
func Describe(m Message) string {
	switch m.Op {
	case OpSetRows:
		keys := make([]string, len(m.Rows))
		for i, row := range m.Rows {
			keys[i] = row.Key
		}
		return fmt.Sprintf("set_rows %d [%s] /%d", m.FirstRow, strings.Join(keys, " "), m.TotalSize)
	case OpInsertRows, OpRemoveRows:
		return fmt.Sprintf("%s %d+%d", m.Op, m.Index, m.Count)
	case OpRequestRows:
		return fmt.Sprintf("request_rows %d+%d", m.FirstRow, m.Count)
	case OpSetExpanded:
		return fmt.Sprintf("set_expanded %s %t", m.Key, m.Expanded)
	case OpError:
		return "error " + m.Error
	}
	return string(m.Op)
}
