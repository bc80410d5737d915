package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type robotRows struct {
	Title   string `json:"title"`
	Primary string `json:"primary_column"`
	Rows    []struct {
		Level    int    `json:"level"`
		Column1  string `json:"column1"`
		Column2  string `json:"column2"`
		Expanded bool   `json:"expanded"`
	} `json:"rows"`
	Summary struct {
		Rows     int `json:"rows"`
		MaxDepth int `json:"max_depth"`
	} `json:"summary"`
}

func buildBinary(t *testing.T) string {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "..", "..")
	bin := filepath.Join(t.TempDir(), "treegrid")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/treegrid")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build failed: %v\n%s", err, out)
	}
	return bin
}

// run executes the binary with an isolated XDG environment.
func run(t *testing.T, bin, dir string, args ...string) []byte {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	home := t.TempDir()
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, "config"),
		"XDG_STATE_HOME="+filepath.Join(home, "state"),
	)
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		t.Fatalf("treegrid %v failed: %v\n%s", args, err, stderr)
	}
	return out
}

func decode(t *testing.T, out []byte) robotRows {
	t.Helper()
	var rows robotRows
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("invalid --robot-rows output: %v\n%s", err, out)
	}
	return rows
}

func TestEndToEndBuildAndRun(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()

	if out := run(t, bin, dir, "--version"); !strings.HasPrefix(string(out), "treegrid ") {
		t.Errorf("--version = %q", out)
	}

	t.Run("filesystem", func(t *testing.T) {
		tree := filepath.Join(dir, "tree")
		for _, p := range []string{"docs/guide.md", "src/cmd/main.go", "README.md", "build/out.bin"} {
			full := filepath.Join(tree, p)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		if err := os.WriteFile(filepath.Join(tree, ".gitignore"), []byte("build/\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		rows := decode(t, run(t, bin, dir, "--path", tree, "--expand-depth", "2", "--robot-rows"))
		var names []string
		for _, r := range rows.Rows {
			names = append(names, r.Column1)
		}
		joined := strings.Join(names, ",")
		if strings.Contains(joined, "build") {
			t.Errorf("ignored directory listed: %v", names)
		}
		for _, want := range []string{"docs", "guide.md", "src", "cmd", "main.go", "README.md"} {
			if !strings.Contains(joined, want) {
				t.Errorf("missing %s in %v", want, names)
			}
		}
		if rows.Summary.MaxDepth != 3 {
			t.Errorf("max depth = %d, want 3", rows.Summary.MaxDepth)
		}
	})

	t.Run("issues", func(t *testing.T) {
		env := filepath.Join(dir, "env")
		if err := os.MkdirAll(filepath.Join(env, ".beads"), 0o755); err != nil {
			t.Fatal(err)
		}
		jsonl := strings.Join([]string{
			`{"id":"bd-1","title":"Epic","status":"open","priority":1,"issue_type":"epic"}`,
			`{"id":"bd-2","title":"Child","status":"open","priority":2,"issue_type":"task","dependencies":[{"issue_id":"bd-2","depends_on_id":"bd-1","type":"parent-child"}]}`,
		}, "\n")
		if err := os.WriteFile(filepath.Join(env, ".beads", "beads.jsonl"), []byte(jsonl), 0o644); err != nil {
			t.Fatal(err)
		}

		rows := decode(t, run(t, bin, env, "--source", "issues", "--path", env, "--expand-depth", "1", "--robot-rows"))
		if rows.Primary != "Issue" || len(rows.Rows) != 2 {
			t.Fatalf("rows = %+v", rows)
		}
		if !rows.Rows[0].Expanded || rows.Rows[1].Level != 2 {
			t.Errorf("expected bd-2 nested under bd-1: %+v", rows.Rows)
		}
	})

	t.Run("sqlite import", func(t *testing.T) {
		db := filepath.Join(dir, "synthetic.db")
		run(t, bin, dir, "--depth", "2", "--import-sqlite", db)

		direct := decode(t, run(t, bin, dir, "--depth", "2", "--expand-depth", "1", "--robot-rows"))
		imported := decode(t, run(t, bin, dir, "--source", "sqlite", "--path", db, "--expand-depth", "1", "--robot-rows"))
		if direct.Summary.Rows != imported.Summary.Rows {
			t.Errorf("imported tree shows %d rows, source shows %d", imported.Summary.Rows, direct.Summary.Rows)
		}
	})
}
