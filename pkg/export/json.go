package export

import (
	"io"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

// RobotRows is the machine-readable form of a snapshot.
type RobotRows struct {
	Snapshot
	Summary Summary `json:"summary"`
}

// WriteJSON writes s with its summary as indented JSON.
func WriteJSON(w io.Writer, s Snapshot) error {
	if s.Rows == nil {
		s.Rows = []rowsync.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(RobotRows{Snapshot: s, Summary: s.Summary()})
}
