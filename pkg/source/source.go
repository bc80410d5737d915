// Package source provides the data sources the treegrid binary can browse.
// Every source addresses items by a string ID and also knows how to label
// them, so one Grid[string] serves them all.
package source

import (
	"context"
	"fmt"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
)

// Kind identifies a data source implementation.
type Kind string

const (
	KindSynthetic  Kind = "synthetic"
	KindFileSystem Kind = "fs"
	KindSQLite     Kind = "sqlite"
	KindIssues     Kind = "issues"
)

// Kinds lists every supported kind, in the order shown by --help and the
// config wizard.
var Kinds = []Kind{KindSynthetic, KindFileSystem, KindSQLite, KindIssues}

// Source is a hierarchical data source over string IDs that can also render
// the two grid columns for an ID it returned.
type Source interface {
	hierarchy.DataSource[string]

	// Headers names the hierarchy and secondary columns.
	Headers() (primary, secondary string)
	Label(id string) string
	Detail(id string) string
	Close() error
}

// Options selects and configures a source.
type Options struct {
	Kind Kind
	// Path is the directory (fs), database file (sqlite) or repository /
	// JSONL file (issues). Unused by synthetic.
	Path string
	// Depth bounds the synthetic tree. 0 means DefaultSyntheticDepth.
	Depth int
	// IncludeClosed keeps closed issues.
	IncludeClosed bool
	// Warn receives non-fatal load problems.
	Warn func(string)
}

// Open creates the source described by opts.
func Open(ctx context.Context, opts Options) (Source, error) {
	switch opts.Kind {
	case KindSynthetic, "":
		return NewSynthetic(opts.Depth), nil
	case KindFileSystem:
		return NewFileSystem(opts.Path)
	case KindSQLite:
		return OpenSQLite(ctx, opts.Path)
	case KindIssues:
		return LoadIssues(opts.Path, opts.IncludeClosed, opts.Warn)
	}
	return nil, fmt.Errorf("unknown source kind %q", opts.Kind)
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind %q (want one of %v)", s, Kinds)
}
