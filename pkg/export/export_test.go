package export

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
	"github.com/vanderheijden86/treegrid/pkg/rowsync"
	"github.com/vanderheijden86/treegrid/pkg/treegrid"
)

type staticSource map[string][]string

func (s staticSource) FetchChildren(_ context.Context, q hierarchy.Query[string]) ([]string, error) {
	parent := q.Parent
	if q.Root {
		parent = ""
	}
	return hierarchy.Window(append([]string(nil), s[parent]...), q), nil
}

func (s staticSource) IsExpandable(item string) bool {
	_, ok := s[item]
	return ok
}

func sampleSnapshot(t *testing.T) Snapshot {
	t.Helper()
	src := staticSource{
		"":    {"docs", "src", "README_*.md"},
		"src": {"cmd", "main.go"},
		"cmd": {"tool.go"},
	}
	g := treegrid.New[string](src, nil,
		treegrid.WithHierarchyColumn[string]("Name", func(s string) string { return s }),
		treegrid.WithSecondaryColumn[string]("Kind", func(s string) string {
			if _, ok := src[s]; ok {
				return "dir"
			}
			return "file"
		}))
	ctx := context.Background()
	if err := g.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := g.ExpandItems(ctx, []string{"src", "cmd"}); err != nil {
		t.Fatalf("ExpandItems: %v", err)
	}
	s, err := Capture(g, "Sample")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return s
}

// TestCaptureSummary verifies the snapshot copies every visible row
func TestCaptureSummary(t *testing.T) {
	s := sampleSnapshot(t)
	if s.Primary != "Name" || s.Secondary != "Kind" {
		t.Errorf("columns = %q, %q", s.Primary, s.Secondary)
	}
	want := Summary{Rows: 6, TopLevel: 3, Expanded: 2, MaxDepth: 3}
	if got := s.Summary(); got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
}

// TestGenerateMarkdown verifies nesting, markers and escaping
func TestGenerateMarkdown(t *testing.T) {
	md := GenerateMarkdown(sampleSnapshot(t))
	for _, want := range []string{
		"# Sample",
		"- **Rows**: 6",
		"- ▾ src · *dir*",
		"  - ▾ cmd",
		"    -   tool.go · *file*",
		`README\_\*.md`,
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	path := filepath.Join(t.TempDir(), "out.md")
	if err := SaveMarkdownToFile(Snapshot{Primary: "Name"}, path); err != nil {
		t.Fatalf("SaveMarkdownToFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "_No rows._") {
		t.Errorf("empty export = %s", data)
	}
}

// TestWriteJSON verifies robot output carries rows and summary
func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleSnapshot(t)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got struct {
		Title   string        `json:"title"`
		Rows    []rowsync.Row `json:"rows"`
		Summary Summary       `json:"summary"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, buf.String())
	}
	if got.Title != "Sample" || len(got.Rows) != 6 || got.Summary.MaxDepth != 3 {
		t.Errorf("unexpected robot rows: %+v", got)
	}
	if got.Rows[1].Column1 != "src" || !got.Rows[1].Expanded || got.Rows[1].Level != 1 {
		t.Errorf("row 1 = %+v", got.Rows[1])
	}

	buf.Reset()
	if err := WriteJSON(&buf, Snapshot{}); err != nil {
		t.Fatalf("WriteJSON empty: %v", err)
	}
	if !strings.Contains(buf.String(), `"rows": []`) {
		t.Errorf("empty snapshot should encode an empty list: %s", buf.String())
	}
}

// TestGenerateText verifies the tree shape
func TestGenerateText(t *testing.T) {
	text := GenerateText(sampleSnapshot(t))
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected root plus 6 rows, got %d:\n%s", len(lines), text)
	}
	if lines[0] != "Sample" {
		t.Errorf("root line = %q", lines[0])
	}
	for i, want := range []string{"docs", "src", "cmd", "tool.go", "main.go", "README_*.md"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("line %d = %q, want it to mention %q", i+1, lines[i+1], want)
		}
	}
	if !strings.Contains(lines[4], "[file]") {
		t.Errorf("expected detail metadata on %q", lines[4])
	}
	if strings.Index(lines[4], "tool.go") <= strings.Index(lines[3], "cmd") {
		t.Errorf("tool.go should be nested under cmd:\n%s", text)
	}
}

// TestSavePicture verifies SVG and PNG output and format checks
func TestSavePicture(t *testing.T) {
	s := sampleSnapshot(t)
	dir := t.TempDir()

	svgPath := filepath.Join(dir, "tree.svg")
	if err := SavePicture(s, PictureOptions{Path: svgPath}); err != nil {
		t.Fatalf("SavePicture svg: %v", err)
	}
	data, err := os.ReadFile(svgPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<svg", "tool.go", "rows: 6", "</svg>"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("svg missing %q", want)
		}
	}

	pngPath := filepath.Join(dir, "tree.png")
	if err := SavePicture(s, PictureOptions{Path: pngPath}); err != nil {
		t.Fatalf("SavePicture png: %v", err)
	}
	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dy() != pictureMargin*2+headerHeight+6*rowHeight {
		t.Errorf("png height = %d", b.Dy())
	}

	if err := SavePicture(s, PictureOptions{Path: filepath.Join(dir, "x"), Format: "gif"}); err == nil {
		t.Error("expected unsupported format error")
	}
	if err := SavePicture(s, PictureOptions{}); err == nil {
		t.Error("expected missing path error")
	}
}
