// Package rowsync implements the narrow command set that keeps a remote
// viewer's virtualized row window in step with a server-side tree grid.
//
// Server to viewer:
//
//	set_rows    {first_row, rows, total_size}  window payload + authoritative row count
//	insert_rows {index, count}                 shift local bookkeeping up
//	remove_rows {index, count}                 shift local bookkeeping down
//	error       {error}                        a viewer request was rejected
//
// Viewer to server:
//
//	request_rows {first_row, count}
//	set_expanded {key, expanded}
//
// Every message is a single JSON object carried in one websocket text frame.
package rowsync

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Op names a protocol command.
type Op string

const (
	OpSetRows     Op = "set_rows"
	OpInsertRows  Op = "insert_rows"
	OpRemoveRows  Op = "remove_rows"
	OpError       Op = "error"
	OpRequestRows Op = "request_rows"
	OpSetExpanded Op = "set_expanded"
)

// Protocol errors.
var (
	ErrUnknownOp = errors.New("unknown op")
	ErrMalformed = errors.New("malformed message")
)

// Row is the descriptor sent for one visible row.
type Row struct {
	Level      int    `json:"level"`
	Key        string `json:"key"`
	Column1    string `json:"column1"`
	Column2    string `json:"column2"`
	Expanded   bool   `json:"expanded"`
	Expandable bool   `json:"expandable"`
}

// Message is the union of every command. Only the fields relevant to Op are
// meaningful.
type Message struct {
	Op        Op     `json:"op"`
	FirstRow  int    `json:"first_row,omitempty"`
	Rows      []Row  `json:"rows,omitempty"`
	TotalSize int    `json:"total_size,omitempty"`
	Index     int    `json:"index,omitempty"`
	Count     int    `json:"count,omitempty"`
	Key       string `json:"key,omitempty"`
	Expanded  bool   `json:"expanded,omitempty"`
	Error     string `json:"error,omitempty"`
}

func SetRowsMessage(firstRow int, rows []Row, totalSize int) Message {
	return Message{Op: OpSetRows, FirstRow: firstRow, Rows: rows, TotalSize: totalSize}
}

func InsertRowsMessage(index, count int) Message {
	return Message{Op: OpInsertRows, Index: index, Count: count}
}

func RemoveRowsMessage(index, count int) Message {
	return Message{Op: OpRemoveRows, Index: index, Count: count}
}

func RequestRowsMessage(firstRow, count int) Message {
	return Message{Op: OpRequestRows, FirstRow: firstRow, Count: count}
}

func SetExpandedMessage(key string, expanded bool) Message {
	return Message{Op: OpSetExpanded, Key: key, Expanded: expanded}
}

func ErrorMessage(err error) Message {
	return Message{Op: OpError, Error: err.Error()}
}

// Validate checks that the fields required by Op are present and sane.
func (m Message) Validate() error {
	switch m.Op {
	case OpSetRows:
		if m.FirstRow < 0 || m.TotalSize < 0 || m.FirstRow+len(m.Rows) > m.TotalSize {
			return fmt.Errorf("%w: set_rows window [%d, %d) exceeds total %d",
				ErrMalformed, m.FirstRow, m.FirstRow+len(m.Rows), m.TotalSize)
		}
	case OpInsertRows, OpRemoveRows:
		if m.Index < 0 || m.Count < 0 {
			return fmt.Errorf("%w: %s index %d count %d", ErrMalformed, m.Op, m.Index, m.Count)
		}
	case OpRequestRows:
		if m.FirstRow < 0 || m.Count < 0 {
			return fmt.Errorf("%w: request_rows first %d count %d", ErrMalformed, m.FirstRow, m.Count)
		}
	case OpSetExpanded:
		if m.Key == "" {
			return fmt.Errorf("%w: set_expanded without key", ErrMalformed)
		}
	case OpError:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
	}
	return nil
}

// Encode marshals m after validating it.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode unmarshals and validates one message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Sink receives the server to viewer commands.
type Sink interface {
	SetRows(firstRow int, rows []Row, totalSize int)
	InsertRows(index, count int)
	RemoveRows(index, count int)
}

// Emitter adapts a message callback to a Sink.
type Emitter func(Message)

func (e Emitter) SetRows(firstRow int, rows []Row, totalSize int) {
	e(SetRowsMessage(firstRow, rows, totalSize))
}

func (e Emitter) InsertRows(index, count int) { e(InsertRowsMessage(index, count)) }

func (e Emitter) RemoveRows(index, count int) { e(RemoveRowsMessage(index, count)) }

// Discard is a Sink that drops everything.
var Discard Sink = Emitter(func(Message) {})

// Apply replays a server to viewer message onto s. Error messages and viewer
// requests are ignored.
func Apply(s Sink, m Message) {
	switch m.Op {
	case OpSetRows:
		s.SetRows(m.FirstRow, m.Rows, m.TotalSize)
	case OpInsertRows:
		s.InsertRows(m.Index, m.Count)
	case OpRemoveRows:
		s.RemoveRows(m.Index, m.Count)
	}
}
