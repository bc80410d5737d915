package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const helpMarkdown = `## Tree Grid

**Navigation**
  j/k       Move up/down
  PgUp/PgDn Move by a page
  g/G       Jump to top/bottom

**Hierarchy**
  Enter     Expand or collapse the row
  l/→       Expand, or move to the first child
  h/←       Collapse, or jump to the parent

**Other**
  y         Copy the row name
  d         Show or hide the detail column
  ?         Close this help
  q         Quit

Rows are fetched as they scroll into view; a spinner marks rows that
have not arrived yet. Expansion state is remembered per data source.`

// RenderHelp renders the help modal. Markdown is rendered with glamour and
// falls back to the raw text when rendering fails.
func RenderHelp(theme Theme, width, height int) string {
	r := theme.Renderer

	modalWidth := 64
	if modalWidth > width-4 {
		modalWidth = width - 4
	}
	if modalWidth < 20 {
		modalWidth = 20
	}

	body := helpMarkdown
	if md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(modalWidth-6),
	); err == nil {
		if out, err := md.Render(helpMarkdown); err == nil {
			body = strings.TrimSpace(out)
		}
	}

	titleStyle := r.NewStyle().Bold(true).Foreground(theme.Primary)
	footerStyle := r.NewStyle().Foreground(theme.Muted).Italic(true)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Quick Reference"))
	b.WriteString("\n")
	b.WriteString(r.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", modalWidth-4)))
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render("? or Esc to close"))

	modal := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Secondary).
		Padding(1, 2).
		Width(modalWidth).
		Render(b.String())

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}
