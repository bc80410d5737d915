package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/vanderheijden86/treegrid/pkg/config"
	"github.com/vanderheijden86/treegrid/pkg/debug"
	"github.com/vanderheijden86/treegrid/pkg/export"
	"github.com/vanderheijden86/treegrid/pkg/loader"
	"github.com/vanderheijden86/treegrid/pkg/metrics"
	"github.com/vanderheijden86/treegrid/pkg/rowsync"
	"github.com/vanderheijden86/treegrid/pkg/source"
	"github.com/vanderheijden86/treegrid/pkg/ui"
)

// options holds everything parsed from the command line.
type options struct {
	configPath  string
	kind        string
	path        string
	depth       int
	expandDepth int
	fetchLimit  int
	watch       bool
	serve       bool
	addr        string
	connect     string
	columns     string
	robotRows   bool
	exportMD    string
	exportTXT   string
	exportSVG   string
	exportPNG   string
	importDB    string
	initConfig  bool
	debugLog    string
	version     bool

	set map[string]bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Read configuration from this file instead of the user config")
	fs.StringVar(&o.kind, "source", "", "Data source: synthetic, fs, sqlite or issues")
	fs.StringVar(&o.path, "path", "", "Directory (fs), database (sqlite) or repository/JSONL file (issues)")
	fs.IntVar(&o.depth, "depth", 0, "Depth of the synthetic tree")
	fs.IntVar(&o.expandDepth, "expand-depth", 0, "Expand this many levels at startup")
	fs.IntVar(&o.fetchLimit, "fetch-limit", 0, "Page size when listing children (0 = all at once)")
	fs.BoolVar(&o.watch, "watch", false, "Refresh rows when the source changes on disk")
	fs.BoolVar(&o.serve, "serve", false, "Serve the grid to remote viewers over websockets")
	fs.StringVar(&o.addr, "addr", "", "Listen address for --serve")
	fs.StringVar(&o.connect, "connect", "", "View a grid served by another treegrid (host:port or URL)")
	fs.StringVar(&o.columns, "columns", "Name,Detail", "Column headers shown with --connect")
	fs.BoolVar(&o.robotRows, "robot-rows", false, "Print the visible rows as JSON and exit")
	fs.StringVar(&o.exportMD, "export-md", "", "Export the visible rows to a Markdown file")
	fs.StringVar(&o.exportTXT, "export-txt", "", "Export the visible rows as a text tree")
	fs.StringVar(&o.exportSVG, "export-svg", "", "Export the visible rows as an SVG picture")
	fs.StringVar(&o.exportPNG, "export-png", "", "Export the visible rows as a PNG picture")
	fs.StringVar(&o.importDB, "import-sqlite", "", "Copy the whole source tree into a SQLite database")
	fs.BoolVar(&o.initConfig, "init", false, "Run the interactive configuration wizard")
	fs.StringVar(&o.debugLog, "debug-log", "", "Write debug logging to this file")
	fs.BoolVar(&o.version, "version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overlays explicitly set flags onto cfg.
func (o *options) apply(cfg *config.Config) error {
	if o.set["source"] {
		kind, err := source.ParseKind(o.kind)
		if err != nil {
			return err
		}
		cfg.Source.Kind = kind
	}
	if o.set["path"] {
		abs, err := filepath.Abs(o.path)
		if err != nil {
			return err
		}
		cfg.Source.Path = abs
	}
	if o.set["depth"] {
		cfg.Source.Depth = o.depth
	}
	if o.set["expand-depth"] {
		cfg.Grid.ExpandDepth = o.expandDepth
	}
	if o.set["fetch-limit"] {
		cfg.Grid.FetchLimit = o.fetchLimit
	}
	if o.set["watch"] {
		cfg.Watch = o.watch
	}
	if o.set["addr"] {
		cfg.Server.Addr = o.addr
	}
	// A path without a kind is most likely a directory to browse.
	if o.set["path"] && !o.set["source"] && cfg.Source.Kind == source.KindSynthetic {
		cfg.Source.Kind = source.KindFileSystem
	}
	return cfg.Validate()
}

func (o *options) exporting() bool {
	return o.robotRows || o.exportMD != "" || o.exportTXT != "" || o.exportSVG != "" || o.exportPNG != ""
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if o.version {
		fmt.Printf("treegrid %s\n", versioninfo.Short())
		os.Exit(0)
	}
	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o *options) error {
	if o.debugLog != "" {
		f, err := os.OpenFile(o.debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening debug log: %w", err)
		}
		defer f.Close()
		debug.SetOutput(f)
		debug.SetEnabled(true)
		log.SetOutput(f)
	}

	cfgPath := o.configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.initConfig {
		_, err := config.RunWizard(cfg, cfgPath)
		return err
	}
	if err := o.apply(&cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.connect != "" {
		return runRemote(ctx, o, cfg)
	}

	warn := func(msg string) { log.Printf("warning: %s", msg) }
	src, err := source.Open(ctx, cfg.SourceOptions(warn))
	if err != nil {
		return fmt.Errorf("opening %s source: %w", cfg.Source.Kind, err)
	}
	defer src.Close()

	switch {
	case o.importDB != "":
		return runImport(ctx, src, o.importDB)
	case o.exporting():
		return runExports(ctx, o, cfg, src)
	case o.serve:
		return runServer(ctx, cfg, src)
	}
	return runLocal(ctx, o, cfg, src)
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// sourceIdentity names the data behind cfg for tree state files.
func sourceIdentity(cfg config.Config) string {
	if cfg.Source.Kind == source.KindSynthetic {
		return fmt.Sprintf("%s:%d", cfg.Source.Kind, cfg.Source.Depth)
	}
	return fmt.Sprintf("%s:%s", cfg.Source.Kind, cfg.Source.Path)
}

func runImport(ctx context.Context, src source.Source, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(abs); filepath.Base(dir) == loader.StateDirName {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := loader.EnsureStateDirIgnored(filepath.Dir(dir)); err != nil {
			log.Printf("warning: updating .gitignore: %v", err)
		}
	}

	w, err := source.CreateSQLite(ctx, abs)
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := w.Import(ctx, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("importing into %s: %w", abs, err)
	}
	fmt.Printf("Imported %s nodes into %s in %s\n", humanize.Comma(int64(n)), abs, time.Since(start).Round(time.Millisecond))
	return nil
}

func runExports(ctx context.Context, o *options, cfg config.Config, src source.Source) error {
	grid := newGrid(src, nil, cfg.Grid.FetchLimit)
	if err := grid.Initialize(ctx); err != nil {
		return err
	}
	if cfg.Grid.ExpandDepth > 0 {
		if err := grid.ExpandToLevel(ctx, cfg.Grid.ExpandDepth); err != nil {
			return err
		}
	}
	snap, err := export.Capture(grid, sourceIdentity(cfg))
	if err != nil {
		return err
	}

	if o.robotRows {
		if err := export.WriteJSON(os.Stdout, snap); err != nil {
			return fmt.Errorf("encoding rows: %w", err)
		}
	}
	if o.exportMD != "" {
		if err := export.SaveMarkdownToFile(snap, o.exportMD); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d rows to %s\n", len(snap.Rows), o.exportMD)
	}
	if o.exportTXT != "" {
		if err := writeFile(o.exportTXT, func(w io.Writer) error { return export.WriteText(w, snap) }); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d rows to %s\n", len(snap.Rows), o.exportTXT)
	}
	for _, pic := range []export.PictureOptions{{Path: o.exportSVG, Format: "svg"}, {Path: o.exportPNG, Format: "png"}} {
		if pic.Path == "" {
			continue
		}
		if err := export.SavePicture(snap, pic); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d rows to %s\n", len(snap.Rows), pic.Path)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runServer(ctx context.Context, cfg config.Config, src source.Source) error {
	hub := rowsync.NewHub(sessionFactory(src, cfg.Grid.FetchLimit, cfg.Grid.ExpandDepth),
		rowsync.WithOutboxSize(cfg.Server.OutboxSize),
		rowsync.WithRequestRate(cfg.Server.RequestRate, max(int(cfg.Server.RequestRate), 1)),
	)
	defer hub.Close()

	if cfg.Watch {
		stopWatch, err := liveReload(src, hub.RefreshAll)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	mux := http.NewServeMux()
	mux.Handle(rowsync.Path, hub)
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(os.Stderr, "Serving %s on %s (viewers: %s)\n", sourceIdentity(cfg), cfg.Server.Addr, rowsync.WebsocketURL(cfg.Server.Addr))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// requireTerminal fails early instead of letting the TUI garble a pipe.
func requireTerminal() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the viewer needs a terminal; use --robot-rows or an --export flag for scripted output")
	}
	return nil
}

func modelOptions(cfg config.Config) []ui.Option {
	return []ui.Option{
		ui.WithPrefetch(cfg.UI.PrefetchRows),
		ui.WithHideDetail(cfg.UI.HideDetail),
		ui.WithTheme(ui.ThemeFor(cfg.UI.Theme, lipgloss.DefaultRenderer())),
	}
}

// runTUI runs the viewer. Log output is dropped unless it already goes to a
// debug log file, so it does not tear the alternate screen.
func runTUI(model ui.Model, logToFile bool) error {
	if !logToFile {
		log.SetOutput(io.Discard)
		debug.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
		defer debug.SetOutput(os.Stderr)
	}
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func runLocal(ctx context.Context, o *options, cfg config.Config, src source.Source) error {
	if err := requireTerminal(); err != nil {
		return err
	}

	identity := sourceIdentity(cfg)
	statePath, err := ui.TreeStatePath(identity)
	if err != nil {
		log.Printf("warning: tree state disabled: %v", err)
	}
	state := &ui.TreeState{Version: ui.TreeStateVersion, Source: identity}
	if statePath != "" {
		state = ui.LoadTreeState(statePath, identity)
	}

	expandDepth := cfg.Grid.ExpandDepth
	if len(state.Expanded) > 0 {
		expandDepth = 0
	}
	backend := ui.NewLocalBackend(ctx, sessionFactory(src, cfg.Grid.FetchLimit, expandDepth), state.Expanded)
	defer backend.Close()

	if cfg.Watch {
		if refresher, ok := backend.Session().(rowsync.Refresher); ok {
			stopWatch, err := liveReload(src, refresher.RefreshAll)
			if err != nil {
				return err
			}
			defer stopWatch()
		}
	}

	runErr := runTUI(ui.NewModel(backend, modelOptions(cfg)...), o.debugLog != "")

	if statePath != "" {
		state.Expanded = backend.ExpandedItems()
		if err := state.Save(statePath); err != nil {
			log.Printf("warning: saving tree state: %v", err)
		}
	}
	return runErr
}

func runRemote(ctx context.Context, o *options, cfg config.Config) error {
	if err := requireTerminal(); err != nil {
		return err
	}
	client, err := rowsync.Dial(ctx, o.connect)
	if err != nil {
		return err
	}
	primary, secondary, _ := strings.Cut(o.columns, ",")
	backend := ui.NewRemoteBackend(client, strings.TrimSpace(primary), strings.TrimSpace(secondary))
	defer backend.Close()

	if err := runTUI(ui.NewModel(backend, modelOptions(cfg)...), o.debugLog != ""); err != nil {
		return err
	}
	if err := backend.Err(); err != nil {
		return fmt.Errorf("connection to %s: %w", o.connect, err)
	}
	return nil
}
