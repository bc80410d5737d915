package model

import (
	"cmp"
	"fmt"
	"time"
)

// Issue is one work item from a beads-style issues.jsonl file. Only the
// fields the tree grid displays or arranges by are kept.
type Issue struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       Status        `json:"status"`
	Priority     int           `json:"priority"`
	IssueType    IssueType     `json:"issue_type"`
	Assignee     string        `json:"assignee,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
	Labels       []string      `json:"labels,omitempty"`
	Dependencies []*Dependency `json:"dependencies,omitempty"`
	Comments     []*Comment    `json:"comments,omitempty"`
}

// Clone creates a deep copy of the issue
func (i Issue) Clone() Issue {
	clone := i

	if i.ClosedAt != nil {
		v := *i.ClosedAt
		clone.ClosedAt = &v
	}
	if i.Labels != nil {
		clone.Labels = make([]string, len(i.Labels))
		copy(clone.Labels, i.Labels)
	}
	if i.Dependencies != nil {
		clone.Dependencies = make([]*Dependency, len(i.Dependencies))
		for idx, dep := range i.Dependencies {
			if dep != nil {
				v := *dep
				clone.Dependencies[idx] = &v
			}
		}
	}
	if i.Comments != nil {
		clone.Comments = make([]*Comment, len(i.Comments))
		for idx, comment := range i.Comments {
			if comment != nil {
				v := *comment
				clone.Comments[idx] = &v
			}
		}
	}
	return clone
}

// Validate checks if the issue data is logically valid
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue ID cannot be empty")
	}
	if i.Title == "" {
		return fmt.Errorf("issue title cannot be empty")
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.IssueType.IsValid() {
		return fmt.Errorf("invalid issue type: %s", i.IssueType)
	}
	if !i.UpdatedAt.IsZero() && !i.CreatedAt.IsZero() && i.UpdatedAt.Before(i.CreatedAt) {
		return fmt.Errorf("updated_at (%v) cannot be before created_at (%v)", i.UpdatedAt, i.CreatedAt)
	}
	return nil
}

// ParentID returns the target of the issue's first parent-child dependency,
// or "" for a top-level issue. Self references are ignored.
func (i *Issue) ParentID() string {
	for _, dep := range i.Dependencies {
		if dep == nil || dep.Type != DepParentChild {
			continue
		}
		if dep.DependsOnID != "" && dep.DependsOnID != i.ID {
			return dep.DependsOnID
		}
	}
	return ""
}

// Summary is the secondary column shown next to an issue title.
func (i *Issue) Summary() string {
	s := fmt.Sprintf("P%d %s", i.Priority, i.Status)
	if i.IssueType != "" {
		s += " " + string(i.IssueType)
	}
	return s
}

// Compare orders siblings: priority first (P0 before P4), then type
// (epic, feature, task, bug, chore, others), then oldest first, then ID.
func Compare(a, b *Issue) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(a.IssueType.weight(), b.IssueType.weight()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Status represents the current state of an issue
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred"
	StatusReview     Status = "review"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone" // Soft-deleted issue
)

// IsValid returns true if the status is a recognized value
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred,
		StatusReview, StatusClosed, StatusTombstone:
		return true
	}
	return false
}

// IsClosed returns true if the status represents a closed state
func (s Status) IsClosed() bool {
	return s == StatusClosed
}

// IsTombstone returns true if the status represents a permanently deleted/archived state
func (s Status) IsTombstone() bool {
	return s == StatusTombstone
}

// IssueType categorizes the kind of work
type IssueType string

const (
	TypeEpic    IssueType = "epic"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeBug     IssueType = "bug"
	TypeChore   IssueType = "chore"
)

// IsValid returns true if the issue type is non-empty. Unknown types sort
// after the known ones.
func (t IssueType) IsValid() bool {
	return t != ""
}

func (t IssueType) weight() int {
	switch t {
	case TypeEpic:
		return 0
	case TypeFeature:
		return 1
	case TypeTask:
		return 2
	case TypeBug:
		return 3
	case TypeChore:
		return 4
	}
	return 5
}

// Dependency represents a relationship between issues
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by"`
}

// DependencyType categorizes the relationship
type DependencyType string

const (
	DepBlocks         DependencyType = "blocks"
	DepRelated        DependencyType = "related"
	DepParentChild    DependencyType = "parent-child"
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// IsValid returns true if the dependency type is a recognized value
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepRelated, DepParentChild, DepDiscoveredFrom:
		return true
	}
	return false
}

// Comment represents a comment on an issue
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
