package loader

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// StateDirName is the per-project directory for treegrid artifacts such as
// imported sqlite databases.
const StateDirName = ".treegrid"

// IgnoreList holds the .gitignore patterns of one directory. Only the common
// forms are understood: plain names, globs, and a trailing "/" for
// directories. Negations are skipped.
type IgnoreList struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	dirOnly bool
}

// ReadIgnoreFile parses dir/.gitignore. A missing file yields an empty list.
func ReadIgnoreFile(dir string) (*IgnoreList, error) {
	file, err := os.Open(filepath.Join(dir, ".gitignore"))
	if os.IsNotExist(err) {
		return &IgnoreList{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	list := &IgnoreList{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Skip empty lines, comments and negations
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		list.patterns = append(list.patterns, parseIgnorePattern(line))
	}
	return list, scanner.Err()
}

func parseIgnorePattern(line string) ignorePattern {
	p := ignorePattern{}
	line = strings.TrimPrefix(line, "/")
	for _, suffix := range []string{"/**/*", "/**", "/*"} {
		if strings.HasSuffix(line, suffix) {
			line = strings.TrimSuffix(line, suffix)
			p.dirOnly = true
			break
		}
	}
	if strings.HasSuffix(line, "/") {
		line = strings.TrimSuffix(line, "/")
		p.dirOnly = true
	}
	p.glob = strings.TrimPrefix(line, "**/")
	return p
}

// Match reports whether an entry called name is ignored.
func (l *IgnoreList) Match(name string, isDir bool) bool {
	if l == nil {
		return false
	}
	for _, p := range l.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if ok, _ := filepath.Match(p.glob, name); ok {
			return true
		}
	}
	return false
}

// Len returns the number of usable patterns.
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// EnsureStateDirIgnored ensures that .treegrid/ is listed in the project's
// .gitignore file.
//
// The function is idempotent. It creates .gitignore if needed and preserves
// existing content.
func EnsureStateDirIgnored(projectDir string) error {
	if projectDir == "" {
		var err error
		projectDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	list, err := ReadIgnoreFile(projectDir)
	if err != nil {
		return err
	}
	if list.Match(StateDirName, true) {
		return nil
	}
	return appendToGitignore(filepath.Join(projectDir, ".gitignore"), StateDirName+"/")
}

// appendToGitignore appends a pattern to the .gitignore file, creating it if
// needed and keeping a blank line between our block and existing content.
func appendToGitignore(path string, pattern string) error {
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	var toWrite string
	if len(content) == 0 {
		toWrite = "# treegrid local state\n" + pattern + "\n"
	} else {
		if content[len(content)-1] != '\n' {
			toWrite = "\n"
		}
		toWrite += "\n# treegrid local state\n" + pattern + "\n"
	}

	_, err = file.WriteString(toWrite)
	return err
}
