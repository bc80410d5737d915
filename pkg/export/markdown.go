package export

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// GenerateMarkdown renders the snapshot as a nested list with a summary
// table.
func GenerateMarkdown(s Snapshot) string {
	var sb strings.Builder

	title := s.Title
	if title == "" {
		title = "Tree Grid Export"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", s.Generated.Format(time.RFC1123)))

	sum := s.Summary()
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Rows**: %d\n", sum.Rows))
	sb.WriteString(fmt.Sprintf("- **Top level**: %d\n", sum.TopLevel))
	sb.WriteString(fmt.Sprintf("- **Expanded**: %d\n", sum.Expanded))
	sb.WriteString(fmt.Sprintf("- **Depth**: %d\n\n", sum.MaxDepth))

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("## %s\n\n", s.Primary))
	if len(s.Rows) == 0 {
		sb.WriteString("_No rows._\n")
		return sb.String()
	}
	for _, r := range s.Rows {
		indent := strings.Repeat("  ", max(r.Level-1, 0))
		marker := " "
		switch {
		case r.Expanded:
			marker = "▾"
		case r.Expandable:
			marker = "▸"
		}
		sb.WriteString(fmt.Sprintf("%s- %s %s", indent, marker, escapeMarkdown(r.Column1)))
		if s.Secondary != "" && r.Column2 != "" {
			sb.WriteString(fmt.Sprintf(" · *%s*", escapeMarkdown(r.Column2)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// SaveMarkdownToFile writes the generated markdown to a file.
func SaveMarkdownToFile(s Snapshot, filename string) error {
	return os.WriteFile(filename, []byte(GenerateMarkdown(s)), 0o644)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
