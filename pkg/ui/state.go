package ui

import (
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	json "github.com/goccy/go-json"
)

// TreeState is the persisted expansion state of one data source.
//
// File format (JSON):
//
//	{
//	  "version": 1,
//	  "source": "fs:/home/me/src",
//	  "expanded": ["docs", "src", "src/cmd"]
//	}
//
// Expanded holds payload ids in pre-order, so a restore meets parents before
// their children. Ids that no longer exist are skipped on restore.
type TreeState struct {
	Version  int      `json:"version"`
	Source   string   `json:"source"`
	Expanded []string `json:"expanded"`
}

// TreeStateVersion is the current schema version for tree persistence.
const TreeStateVersion = 1

// TreeStatePath returns the state file for a source identity under the XDG
// state directory. Missing directories are created.
func TreeStatePath(source string) (string, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	return xdg.StateFile(filepath.Join("treegrid", fmt.Sprintf("tree-%016x.json", h.Sum64())))
}

// LoadTreeState reads path. A missing, corrupted or foreign file yields an
// empty state for source.
func LoadTreeState(path, source string) *TreeState {
	empty := &TreeState{Version: TreeStateVersion, Source: source}
	data, err := os.ReadFile(path)
	if err != nil {
		return empty
	}
	var st TreeState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("warning: invalid tree state file %s, using defaults: %v", path, err)
		return empty
	}
	if st.Version != TreeStateVersion || st.Source != source {
		return empty
	}
	return &st
}

// Save writes the state to path.
func (s *TreeState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tree state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tree state: %w", err)
	}
	return nil
}
