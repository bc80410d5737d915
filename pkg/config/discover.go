package config

import (
	"os"
	"path/filepath"
	"strings"
)

// FindProjectFile walks up from dir (the working directory when empty)
// looking for ProjectFileName. The walk stops at the home directory.
func FindProjectFile(dir string) (string, bool) {
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return "", false
		}
	}
	found, ok := walkUp(dir, func(d string) bool {
		info, err := os.Stat(filepath.Join(d, ProjectFileName))
		return err == nil && !info.IsDir()
	})
	if !ok {
		return "", false
	}
	return filepath.Join(found, ProjectFileName), true
}

// DetectIssuesRoot finds the nearest directory at or above dir that holds a
// .beads/ directory. It is the default path of the issues source.
func DetectIssuesRoot(dir string) (string, bool) {
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return "", false
		}
	}
	return walkUp(dir, hasBeads)
}

func hasBeads(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".beads"))
	return err == nil && info.IsDir()
}

func walkUp(dir string, match func(string) bool) (string, bool) {
	home, _ := os.UserHomeDir()
	for {
		if match(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		// Don't go above home directory
		if home != "" && dir == home {
			break
		}
		dir = parent
	}
	return "", false
}

// ScanIssueRepos walks root up to maxDepth levels deep and returns the
// directories that contain a .beads/ subdirectory. The config wizard offers
// them as issue source paths.
func ScanIssueRepos(root string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	root = expandHome(root)
	var results []string

	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}

		currentDepth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if currentDepth > maxDepth {
			return filepath.SkipDir
		}

		// Skip hidden directories
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if hasBeads(path) {
			results = append(results, path)
			return filepath.SkipDir // Don't recurse into projects
		}
		return nil
	})

	return results
}
