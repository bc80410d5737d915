// Package config handles loading and saving treegrid configuration.
//
// The user file lives at $XDG_CONFIG_HOME/treegrid/config.yaml. A project
// may add a .treegrid.yaml, found by walking up from the working directory,
// whose fields override the user file. Command-line flags override both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/treegrid/pkg/source"
)

// ProjectFileName is the per-project override file.
const ProjectFileName = ".treegrid.yaml"

// SourceConfig selects the data source.
type SourceConfig struct {
	Kind          source.Kind `yaml:"kind,omitempty"`
	Path          string      `yaml:"path,omitempty"`
	Depth         int         `yaml:"depth,omitempty"`          // synthetic tree depth
	IncludeClosed bool        `yaml:"include_closed,omitempty"` // issues source
}

// GridConfig tunes the tree grid controller.
type GridConfig struct {
	FetchLimit  int `yaml:"fetch_limit,omitempty"`  // page size when listing children, 0 = all
	ExpandDepth int `yaml:"expand_depth,omitempty"` // levels expanded at startup
}

// ServerConfig configures --serve.
type ServerConfig struct {
	Addr        string  `yaml:"addr,omitempty"`
	OutboxSize  int     `yaml:"outbox_size,omitempty"`
	RequestRate float64 `yaml:"request_rate,omitempty"` // viewer requests per second, 0 = unlimited
}

// UIConfig holds viewer preferences.
type UIConfig struct {
	Theme        string `yaml:"theme,omitempty"` // dark or light
	HideDetail   bool   `yaml:"hide_detail,omitempty"`
	PrefetchRows int    `yaml:"prefetch_rows,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Source SourceConfig `yaml:"source,omitempty"`
	Grid   GridConfig   `yaml:"grid,omitempty"`
	Server ServerConfig `yaml:"server,omitempty"`
	UI     UIConfig     `yaml:"ui,omitempty"`
	Watch  bool         `yaml:"watch,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Source: SourceConfig{Kind: source.KindSynthetic, Depth: source.DefaultSyntheticDepth},
		Server: ServerConfig{Addr: "localhost:8377", OutboxSize: 256},
		UI:     UIConfig{Theme: "dark", PrefetchRows: 50},
	}
}

// Validate rejects values the rest of the program cannot use.
func (c Config) Validate() error {
	if _, err := source.ParseKind(string(c.Source.Kind)); err != nil {
		return err
	}
	if c.Source.Kind != source.KindSynthetic && c.Source.Path == "" {
		return fmt.Errorf("source %s needs a path", c.Source.Kind)
	}
	if c.Source.Depth < 0 || c.Grid.FetchLimit < 0 || c.Grid.ExpandDepth < 0 {
		return fmt.Errorf("depth, fetch_limit and expand_depth must not be negative")
	}
	if c.Server.RequestRate < 0 {
		return fmt.Errorf("request_rate must not be negative")
	}
	switch c.UI.Theme {
	case "", "dark", "light":
	default:
		return fmt.Errorf("unknown theme %q", c.UI.Theme)
	}
	return nil
}

// ConfigDir returns the XDG config directory for treegrid.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "treegrid")
}

// ConfigPath returns the full path to the user config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the user config and, if one is found above the working
// directory, the project file on top of it.
func Load() (Config, error) {
	cfg, err := LoadFrom(ConfigPath())
	if err != nil {
		return cfg, err
	}
	if project, ok := FindProjectFile(""); ok {
		if err := merge(&cfg, project); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := merge(&cfg, path); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// merge overlays the fields present in path onto cfg. Relative source paths
// are resolved against the file's directory.
func merge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	before := cfg.Source.Path
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Source.Path != before {
		p := expandHome(cfg.Source.Path)
		if p != "" && !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		cfg.Source.Path = p
	}
	return nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SourceOptions converts the source section for source.Open.
func (c Config) SourceOptions(warn func(string)) source.Options {
	return source.Options{
		Kind:          c.Source.Kind,
		Path:          c.Source.Path,
		Depth:         c.Source.Depth,
		IncludeClosed: c.Source.IncludeClosed,
		Warn:          warn,
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
