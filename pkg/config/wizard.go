package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/vanderheijden86/treegrid/pkg/source"
)

// wizardAnswers holds the form values as strings so huh inputs can bind to
// them directly.
type wizardAnswers struct {
	Kind          string
	Path          string
	Depth         string
	ExpandDepth   string
	IncludeClosed bool
	Watch         bool
	Theme         string
}

func answersFrom(cfg Config) *wizardAnswers {
	return &wizardAnswers{
		Kind:          string(cfg.Source.Kind),
		Path:          cfg.Source.Path,
		Depth:         strconv.Itoa(cfg.Source.Depth),
		ExpandDepth:   strconv.Itoa(cfg.Grid.ExpandDepth),
		IncludeClosed: cfg.Source.IncludeClosed,
		Watch:         cfg.Watch,
		Theme:         cfg.UI.Theme,
	}
}

// apply copies the answers into cfg and validates the result.
func (a *wizardAnswers) apply(cfg Config) (Config, error) {
	kind, err := source.ParseKind(a.Kind)
	if err != nil {
		return cfg, err
	}
	depth, err := nonNegative("depth", a.Depth)
	if err != nil {
		return cfg, err
	}
	expand, err := nonNegative("expand depth", a.ExpandDepth)
	if err != nil {
		return cfg, err
	}

	cfg.Source.Kind = kind
	cfg.Source.Path = expandHome(a.Path)
	cfg.Source.Depth = depth
	cfg.Source.IncludeClosed = a.IncludeClosed
	cfg.Grid.ExpandDepth = expand
	cfg.Watch = a.Watch
	cfg.UI.Theme = a.Theme
	return cfg, cfg.Validate()
}

func nonNegative(name, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", name)
	}
	return n, nil
}

func validNumber(s string) error {
	_, err := nonNegative("value", s)
	return err
}

// isTerminal checks if stdin is connected to a terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// newForm creates a form with appropriate settings based on TTY detection
func newForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...).WithTheme(huh.ThemeDracula())
	if !isTerminal() {
		form = form.WithAccessible(true)
	}
	return form
}

func wizardForm(a *wizardAnswers, repos []string) *huh.Form {
	kinds := make([]huh.Option[string], len(source.Kinds))
	for i, k := range source.Kinds {
		kinds[i] = huh.NewOption(string(k), string(k))
	}

	path := huh.NewInput().
		Title("Path").
		Description("Directory, database file or issues repository").
		Suggestions(repos).
		Value(&a.Path)

	return newForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Data source").
				Options(kinds...).
				Value(&a.Kind),
		),
		huh.NewGroup(path).WithHideFunc(func() bool {
			return a.Kind == string(source.KindSynthetic)
		}),
		huh.NewGroup(
			huh.NewInput().
				Title("Synthetic tree depth").
				Validate(validNumber).
				Value(&a.Depth),
		).WithHideFunc(func() bool {
			return a.Kind != string(source.KindSynthetic)
		}),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Show closed issues?").
				Value(&a.IncludeClosed),
		).WithHideFunc(func() bool {
			return a.Kind != string(source.KindIssues)
		}),
		huh.NewGroup(
			huh.NewInput().
				Title("Levels to expand at startup").
				Validate(validNumber).
				Value(&a.ExpandDepth),
			huh.NewConfirm().
				Title("Refresh when the source changes?").
				Value(&a.Watch),
			huh.NewSelect[string]().
				Title("Theme").
				Options(huh.NewOptions("dark", "light")...).
				Value(&a.Theme),
		),
	)
}

// RunWizard asks for the main settings, starting from cfg, and writes the
// result to path.
func RunWizard(cfg Config, path string) (Config, error) {
	cwd, _ := os.Getwd()
	answers := answersFrom(cfg)
	if err := wizardForm(answers, ScanIssueRepos(cwd, 3)).Run(); err != nil {
		return cfg, err
	}

	updated, err := answers.apply(cfg)
	if err != nil {
		return cfg, err
	}
	if err := SaveTo(updated, path); err != nil {
		return cfg, err
	}
	fmt.Printf("Saved %s\n", path)
	return updated, nil
}
