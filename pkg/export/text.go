package export

import (
	"io"

	"github.com/xlab/treeprint"
)

// GenerateText renders the snapshot as an indented tree. The second column,
// when present, is shown as node metadata.
func GenerateText(s Snapshot) string {
	root := s.Title
	if root == "" {
		root = s.Primary
	}
	tree := treeprint.NewWithRoot(root)

	// branches[l] is the parent for rows at level l+1.
	branches := []treeprint.Tree{tree}
	for _, r := range s.Rows {
		depth := min(max(r.Level-1, 0), len(branches)-1)
		branches = branches[:depth+1]
		parent := branches[depth]

		var node treeprint.Tree
		switch {
		case r.Expanded && s.Secondary != "" && r.Column2 != "":
			node = parent.AddMetaBranch(r.Column2, r.Column1)
		case r.Expanded:
			node = parent.AddBranch(r.Column1)
		case s.Secondary != "" && r.Column2 != "":
			node = parent.AddMetaNode(r.Column2, r.Column1)
		default:
			node = parent.AddNode(r.Column1)
		}
		if r.Expanded {
			branches = append(branches, node)
		}
	}
	return tree.String()
}

// WriteText writes GenerateText(s) to w.
func WriteText(w io.Writer, s Snapshot) error {
	_, err := io.WriteString(w, GenerateText(s))
	return err
}
