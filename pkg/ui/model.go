// Package ui is the terminal viewer: a Bubble Tea program that renders a
// tree grid window by window over the row sync protocol.
package ui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/vanderheijden86/treegrid/pkg/rowsync"
)

const (
	detailWidth     = 18
	defaultPrefetch = 50
	chromeLines     = 3 // header, status bar, key hints
)

type rowMsg struct{ msg rowsync.Message }

type closedMsg struct{}

func waitForRows(b Backend) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-b.Messages()
		if !ok {
			return closedMsg{}
		}
		return rowMsg{m}
	}
}

// Option configures a Model.
type Option func(*Model)

// WithPrefetch sets how many rows beyond the screen are requested on either
// side.
func WithPrefetch(n int) Option {
	return func(m *Model) {
		if n >= 0 {
			m.prefetch = n
		}
	}
}

// WithHideDetail starts with the second column hidden.
func WithHideDetail(hide bool) Option {
	return func(m *Model) {
		m.hideDetail = hide
	}
}

// WithTheme overrides the default theme.
func WithTheme(t Theme) Option {
	return func(m *Model) {
		m.theme = t
	}
}

// Model is the Bubble Tea model of the viewer. It owns a rowsync.Viewer and
// keeps the cursor on the same row key across inserts and removes.
type Model struct {
	backend Backend
	viewer  *rowsync.Viewer
	theme   Theme
	help    help.Model
	spinner spinner.Model

	primary, secondary string

	cursor      int
	offset      int
	selectedKey string
	inflight    map[rowsync.Range]struct{}
	prefetch    int

	width, height int
	ready         bool
	closed        bool
	hideDetail    bool
	showHelp      bool

	status        string
	statusIsError bool
}

// NewModel creates a viewer over b.
func NewModel(b Backend, opts ...Option) Model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	m := Model{
		backend:  b,
		viewer:   rowsync.NewViewer(),
		theme:    TestTheme(),
		help:     help.New(),
		spinner:  s,
		inflight: make(map[rowsync.Range]struct{}),
		prefetch: defaultPrefetch,
		width:    80,
		height:   24,
	}
	m.primary, m.secondary = b.Columns()
	for _, opt := range opts {
		opt(&m)
	}
	m.spinner.Style = m.theme.Renderer.NewStyle().Foreground(m.theme.Primary)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForRows(m.backend), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.ensureVisible()
		m.requestVisible()
		return m, nil

	case rowMsg:
		m.apply(msg.msg)
		return m, waitForRows(m.backend)

	case closedMsg:
		m.closed = true
		if m.status == "" || !m.statusIsError {
			m.setStatus("connection closed", true)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// apply feeds one server command into the cache and repairs the cursor.
func (m *Model) apply(msg rowsync.Message) {
	switch msg.Op {
	case rowsync.OpError:
		m.setStatus(msg.Error, true)
		return
	case rowsync.OpRemoveRows:
		// The selected row disappears with its collapsed parent: select the
		// row above the removed run, which is that parent.
		if m.cursor >= msg.Index && m.cursor < msg.Index+msg.Count {
			m.cursor = max(msg.Index-1, 0)
			m.selectedKey = ""
		}
		clear(m.inflight)
	case rowsync.OpInsertRows:
		if m.cursor >= msg.Index && m.selectedKey == "" {
			m.cursor += msg.Count
		}
		clear(m.inflight)
	case rowsync.OpSetRows:
		m.ready = true
	}
	rowsync.Apply(m.viewer, msg)

	for r := range m.inflight {
		if len(m.viewer.Missing(r.First, r.Count)) == 0 {
			delete(m.inflight, r)
		}
	}
	if m.selectedKey != "" {
		if i, ok := m.viewer.Find(m.selectedKey); ok {
			m.cursor = i
		}
	}
	m.clampCursor()
	m.ensureVisible()
	m.requestVisible()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Help), msg.String() == "esc":
			m.showHelp = false
		}
		return m, nil
	}

	total := m.viewer.Total()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, keys.Up):
		m.moveTo(m.cursor - 1)
	case key.Matches(msg, keys.Down):
		m.moveTo(m.cursor + 1)
	case key.Matches(msg, keys.PageUp):
		m.moveTo(m.cursor - m.listHeight())
	case key.Matches(msg, keys.PageDown):
		m.moveTo(m.cursor + m.listHeight())
	case key.Matches(msg, keys.Top):
		m.moveTo(0)
	case key.Matches(msg, keys.Bottom):
		m.moveTo(total - 1)
	case key.Matches(msg, keys.Toggle):
		if row, ok := m.SelectedRow(); ok && row.Expandable {
			m.setExpanded(row, !row.Expanded)
		}
	case key.Matches(msg, keys.Expand):
		m.expandOrMoveToChild()
	case key.Matches(msg, keys.Collapse):
		m.collapseOrJumpToParent()
	case key.Matches(msg, keys.Copy):
		if row, ok := m.SelectedRow(); ok {
			if err := clipboard.WriteAll(row.Column1); err != nil {
				m.setStatus(fmt.Sprintf("Clipboard error: %v", err), true)
			} else {
				m.setStatus(fmt.Sprintf("Copied %q to clipboard", row.Column1), false)
			}
		}
	case key.Matches(msg, keys.Detail):
		m.hideDetail = !m.hideDetail
	}
	return m, nil
}

// expandOrMoveToChild handles the → / l key:
// - collapsed and expandable: expand it
// - expanded with children: move to the first child
// - leaf: do nothing
func (m *Model) expandOrMoveToChild() {
	row, ok := m.SelectedRow()
	if !ok || !row.Expandable {
		return
	}
	if !row.Expanded {
		m.setExpanded(row, true)
		return
	}
	if next, ok := m.viewer.Row(m.cursor + 1); ok && next.Level > row.Level {
		m.moveTo(m.cursor + 1)
	}
}

// collapseOrJumpToParent handles the ← / h key:
// - expanded: collapse it
// - otherwise: jump to the nearest cached row above with a smaller level
func (m *Model) collapseOrJumpToParent() {
	row, ok := m.SelectedRow()
	if !ok {
		return
	}
	if row.Expanded {
		m.setExpanded(row, false)
		return
	}
	for i := m.cursor - 1; i >= 0; i-- {
		if r, ok := m.viewer.Row(i); ok && r.Level < row.Level {
			m.moveTo(i)
			return
		}
	}
}

func (m *Model) setExpanded(row rowsync.Row, expanded bool) {
	m.selectedKey = row.Key
	if err := m.backend.SetExpanded(row.Key, expanded); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.status = ""
}

func (m *Model) moveTo(i int) {
	m.cursor = i
	m.clampCursor()
	m.selectedKey = ""
	if row, ok := m.viewer.Row(m.cursor); ok {
		m.selectedKey = row.Key
	}
	m.ensureVisible()
	m.requestVisible()
}

func (m *Model) clampCursor() {
	m.cursor = max(0, min(m.cursor, m.viewer.Total()-1))
	if m.selectedKey == "" {
		if row, ok := m.viewer.Row(m.cursor); ok {
			m.selectedKey = row.Key
		}
	}
}

func (m *Model) listHeight() int {
	return max(1, m.height-chromeLines)
}

func (m *Model) ensureVisible() {
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	m.offset = max(0, min(m.offset, m.viewer.Total()-h))
}

// requestVisible asks for the uncached rows on screen plus the prefetch
// margin. A run already requested is not asked for again until the cache
// shifts.
func (m *Model) requestVisible() {
	if !m.ready || m.closed {
		return
	}
	first := max(0, m.offset-m.prefetch)
	count := m.offset + m.listHeight() + m.prefetch - first
	for _, r := range m.viewer.Missing(first, count) {
		if _, ok := m.inflight[r]; ok {
			continue
		}
		if err := m.backend.RequestRows(r.First, r.Count); err != nil {
			m.setStatus(err.Error(), true)
			return
		}
		m.inflight[r] = struct{}{}
	}
}

func (m *Model) setStatus(s string, isError bool) {
	m.status = s
	m.statusIsError = isError
}

// SelectedRow returns the row under the cursor when it has arrived.
func (m Model) SelectedRow() (rowsync.Row, bool) {
	return m.viewer.Row(m.cursor)
}

// Cursor returns the cursor row index.
func (m Model) Cursor() int { return m.cursor }

// Status returns the status line text and whether it is an error.
func (m Model) Status() (string, bool) { return m.status, m.statusIsError }

// Viewer exposes the row cache.
func (m Model) Viewer() *rowsync.Viewer { return m.viewer }

func (m Model) View() string {
	if m.showHelp {
		return RenderHelp(m.theme, m.width, m.height)
	}
	if !m.ready {
		if m.status != "" && m.statusIsError {
			return m.theme.ErrorText.Render(m.status)
		}
		return m.spinner.View() + " Loading..."
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")

	h := m.listHeight()
	rows, ok := m.viewer.Window(m.offset, h)
	for i := range rows {
		sb.WriteString(m.renderRow(m.offset+i, rows[i], ok[i]))
		sb.WriteString("\n")
	}
	for i := len(rows); i < h; i++ {
		sb.WriteString("\n")
	}
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")
	sb.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	return sb.String()
}

func (m Model) showDetail() bool {
	return m.secondary != "" && !m.hideDetail && m.width > 2*detailWidth
}

func (m Model) nameWidth() int {
	w := m.width - 1 // selection border
	if m.showDetail() {
		w -= detailWidth + 1
	}
	return max(w, 1)
}

func (m Model) renderHeader() string {
	line := padRight(m.primary, m.nameWidth())
	if m.showDetail() {
		line += " " + padRight(m.secondary, detailWidth)
	}
	return m.theme.Header.Render(truncateRunes(line, max(m.width-2, 1), ""))
}

func (m Model) renderRow(index int, row rowsync.Row, ok bool) string {
	if !ok {
		return " " + m.theme.Loading.Render(m.spinner.View()+" loading")
	}

	prefix := m.treePrefix(index, row)
	indicator := "•"
	switch {
	case row.Expanded:
		indicator = "▾"
	case row.Expandable:
		indicator = "▸"
	}

	avail := m.nameWidth() - runewidth.StringWidth(prefix) - 2
	name := padRight(truncateRunes(row.Column1, avail, "…"), max(avail, 0))
	line := m.theme.Branch.Render(prefix) + m.theme.Indicator.Render(indicator) + " " + name
	if m.showDetail() {
		line += " " + m.theme.Detail.Render(truncateRunes(row.Column2, detailWidth, "…"))
	}
	if index == m.cursor {
		return m.theme.Selected.Render(line)
	}
	return " " + line
}

// treePrefix draws the branch guides of a row from the cached neighbours.
// Top-level rows have no prefix. Rows past the cached window are assumed to
// continue the branch.
func (m Model) treePrefix(index int, row rowsync.Row) string {
	if row.Level <= 1 {
		return ""
	}
	var sb strings.Builder
	for level := 2; level < row.Level; level++ {
		if m.continues(index, level) {
			sb.WriteString("│  ")
		} else {
			sb.WriteString("   ")
		}
	}
	if m.continues(index, row.Level) {
		sb.WriteString("├─ ")
	} else {
		sb.WriteString("└─ ")
	}
	return sb.String()
}

// continues reports whether a later row at level shares the parent chain of
// the row at index.
func (m Model) continues(index, level int) bool {
	limit := min(m.viewer.Total(), m.offset+m.listHeight()+1)
	for j := index + 1; j < m.viewer.Total(); j++ {
		if j >= limit {
			return true
		}
		r, ok := m.viewer.Row(j)
		if !ok {
			return true
		}
		if r.Level < level {
			return false
		}
		if r.Level == level {
			return true
		}
	}
	return false
}

func (m Model) renderStatus() string {
	total := m.viewer.Total()
	pos := 0
	if total > 0 {
		pos = m.cursor + 1
	}
	left := fmt.Sprintf(" %d/%d rows", pos, total)
	if missing := len(m.viewer.Missing(m.offset, m.listHeight())); missing > 0 {
		left += " " + m.spinner.View()
	}
	if m.status == "" {
		return m.theme.Status.Render(left)
	}
	if m.statusIsError {
		return m.theme.Status.Render(left+" │ ") + m.theme.ErrorText.Render(m.status)
	}
	return m.theme.Status.Render(left + " │ " + m.status)
}

// truncateRunes truncates a string to max visual width (cells), adding
// suffix if needed.
func truncateRunes(s string, maxWidth int, suffix string) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	suffixWidth := runewidth.StringWidth(suffix)
	if suffixWidth > maxWidth {
		return runewidth.Truncate(suffix, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth-suffixWidth, "") + suffix
}

// padRight pads s with spaces on the right to width cells.
func padRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
