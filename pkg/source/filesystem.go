package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/loader"
)

const infoCacheSize = 16_384

// FileSystem browses a directory tree. IDs are slash-separated paths relative
// to the root directory. Entries matched by the root's .gitignore and the
// .git directory are hidden.
type FileSystem struct {
	root   string
	ignore *loader.IgnoreList
	infos  *lru.Cache[string, fs.FileInfo]
}

// NewFileSystem creates a source rooted at dir.
func NewFileSystem(dir string) (*FileSystem, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	ignore, err := loader.ReadIgnoreFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}
	infos, err := lru.New[string, fs.FileInfo](infoCacheSize)
	if err != nil {
		return nil, err
	}
	return &FileSystem{root: abs, ignore: ignore, infos: infos}, nil
}

// Root returns the absolute root directory.
func (f *FileSystem) Root() string {
	return f.root
}

// Abs maps an ID to its absolute path.
func (f *FileSystem) Abs(id string) string {
	return filepath.Join(f.root, filepath.FromSlash(id))
}

func (f *FileSystem) FetchChildren(ctx context.Context, q hierarchy.Query[string]) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := ""
	if !q.Root {
		dir = q.Parent
	}
	entries, err := os.ReadDir(f.Abs(dir))
	if err != nil {
		return nil, err
	}

	type child struct {
		id    string
		isDir bool
	}
	children := make([]child, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == ".git" || f.ignore.Match(name, e.IsDir()) {
			continue
		}
		id := path.Join(dir, name)
		if info, err := e.Info(); err == nil {
			f.infos.Add(id, info)
		}
		children = append(children, child{id: id, isDir: e.IsDir()})
	}
	slices.SortFunc(children, func(a, b child) int {
		if a.isDir != b.isDir {
			if a.isDir {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.id), strings.ToLower(b.id))
	})

	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.id
	}
	return hierarchy.Window(ids, q), nil
}

func (f *FileSystem) stat(id string) (fs.FileInfo, bool) {
	if info, ok := f.infos.Get(id); ok {
		return info, true
	}
	info, err := os.Lstat(f.Abs(id))
	if err != nil {
		return nil, false
	}
	f.infos.Add(id, info)
	return info, true
}

func (f *FileSystem) IsExpandable(id string) bool {
	info, ok := f.stat(id)
	return ok && info.IsDir()
}

func (f *FileSystem) Headers() (string, string) { return "Name", "Size" }

func (f *FileSystem) Label(id string) string {
	if id == "" {
		return filepath.Base(f.root)
	}
	return path.Base(id)
}

func (f *FileSystem) Detail(id string) string {
	info, ok := f.stat(id)
	switch {
	case !ok:
		return "?"
	case info.IsDir():
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// Forget drops cached file info under dir, so the next fetch sees fresh
// sizes. An empty dir clears everything.
func (f *FileSystem) Forget(dir string) {
	if dir == "" {
		f.infos.Purge()
		return
	}
	for _, id := range f.infos.Keys() {
		if id == dir || strings.HasPrefix(id, dir+"/") {
			f.infos.Remove(id)
		}
	}
}

func (f *FileSystem) Close() error { return nil }
