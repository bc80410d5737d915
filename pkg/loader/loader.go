package loader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/treegrid/pkg/model"
)

// BeadsDirEnvVar overrides the directory searched for issue files.
const BeadsDirEnvVar = "BEADS_DIR"

// PreferredJSONLNames defines the priority order for looking up issue files.
var PreferredJSONLNames = []string{"issues.jsonl", "beads.jsonl", "beads.base.jsonl"}

// DefaultMaxBufferSize is the default maximum line size (10MB).
const DefaultMaxBufferSize = 1024 * 1024 * 10

// GetBeadsDir returns the issues directory, respecting BEADS_DIR. Otherwise
// it is .beads in repoPath (or the working directory if empty).
func GetBeadsDir(repoPath string) (string, error) {
	if envDir := os.Getenv(BeadsDirEnvVar); envDir != "" {
		return envDir, nil
	}
	if repoPath == "" {
		var err error
		repoPath, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current working directory: %w", err)
		}
	}
	return filepath.Join(repoPath, ".beads"), nil
}

// FindJSONLPath locates the issues file in dir. Backups and merge artifacts
// are skipped; warn, if non-nil, is told about the latter.
func FindJSONLPath(dir string, warn func(msg string)) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read issues directory: %w", err)
	}

	var candidates, artifacts []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if strings.Contains(name, ".backup") || strings.Contains(name, ".orig") ||
			strings.Contains(name, ".merge") || name == "deletions.jsonl" {
			continue
		}
		if strings.HasPrefix(name, "beads.left") || strings.HasPrefix(name, "beads.right") {
			artifacts = append(artifacts, name)
			continue
		}
		candidates = append(candidates, name)
	}

	if len(artifacts) > 0 && warn != nil {
		warn(fmt.Sprintf("merge artifact files detected: %s", strings.Join(artifacts, ", ")))
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no JSONL file found in %s", dir)
	}

	nonEmpty := func(name string) (string, bool) {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		return path, err == nil && info.Size() > 0
	}
	for _, preferred := range PreferredJSONLNames {
		for _, name := range candidates {
			if name != preferred {
				continue
			}
			if path, ok := nonEmpty(name); ok {
				return path, nil
			}
		}
	}
	for _, name := range candidates {
		if path, ok := nonEmpty(name); ok {
			return path, nil
		}
	}
	return filepath.Join(dir, candidates[0]), nil
}

// ParseOptions configures ParseIssues.
type ParseOptions struct {
	// WarningHandler is called with warning messages (e.g., malformed JSON).
	// If nil, warnings are printed to os.Stderr.
	WarningHandler func(string)

	// BufferSize is the longest line read. Longer lines are skipped with a
	// warning. If 0, DefaultMaxBufferSize is used.
	BufferSize int

	// IssueFilter optionally filters parsed issues. Return true to include.
	IssueFilter func(*model.Issue) bool
}

// LoadIssues reads issues from the issues directory of repoPath.
func LoadIssues(repoPath string, opts ParseOptions) ([]model.Issue, error) {
	dir, err := GetBeadsDir(repoPath)
	if err != nil {
		return nil, err
	}
	path, err := FindJSONLPath(dir, opts.WarningHandler)
	if err != nil {
		return nil, err
	}
	return LoadIssuesFromFile(path, opts)
}

// LoadIssuesFromFile reads issues from a JSONL file.
func LoadIssuesFromFile(path string, opts ParseOptions) ([]model.Issue, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open issues file: %w", err)
	}
	defer file.Close()
	return ParseIssues(file, opts)
}

// ParseIssues reads one issue per line. Malformed and invalid lines are
// skipped with a warning; only read errors fail the parse.
func ParseIssues(r io.Reader, opts ParseOptions) ([]model.Issue, error) {
	maxCapacity := opts.BufferSize
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxBufferSize
	}
	reader := bufio.NewReaderSize(r, maxCapacity)

	warn := opts.WarningHandler
	if warn == nil {
		warn = func(msg string) {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
		}
	}

	var issues []model.Issue
	lineNum := 0
	for {
		lineNum++
		line, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading issues stream at line %d: %w", lineNum, err)
		}

		if isPrefix {
			warn(fmt.Sprintf("skipping line %d: line too long (exceeds %d bytes)", lineNum, maxCapacity))
			for isPrefix {
				_, isPrefix, err = reader.ReadLine()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, fmt.Errorf("error skipping long line at line %d: %w", lineNum, err)
				}
			}
			continue
		}

		if lineNum == 1 {
			line = stripBOM(line)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var issue model.Issue
		if err := json.Unmarshal(line, &issue); err != nil {
			warn(fmt.Sprintf("skipping malformed JSON on line %d: %v", lineNum, err))
			continue
		}
		issue.Status = normalizeIssueStatus(issue.Status)
		if err := issue.Validate(); err != nil {
			warn(fmt.Sprintf("skipping invalid issue on line %d: %v", lineNum, err))
			continue
		}
		issue.Dependencies = slices.DeleteFunc(issue.Dependencies, func(d *model.Dependency) bool {
			if d == nil {
				return true
			}
			if !d.Type.IsValid() {
				warn(fmt.Sprintf("dropping dependency %s -> %s of unknown type %q on line %d", d.IssueID, d.DependsOnID, d.Type, lineNum))
				return true
			}
			return false
		})
		if opts.IssueFilter != nil && !opts.IssueFilter(&issue) {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func stripBOM(b []byte) []byte {
	if bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) {
		return b[3:]
	}
	return b
}

func normalizeIssueStatus(status model.Status) model.Status {
	trimmed := strings.TrimSpace(string(status))
	if trimmed == "" {
		return status
	}
	return model.Status(strings.ToLower(trimmed))
}
