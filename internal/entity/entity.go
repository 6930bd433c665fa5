package entity

import (
	"strings"
	"time"

	"github.com/cexll/pmsync/internal/frontmatter"
)

// Frontmatter keys shared by every kind.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldCreated     = "created"
	FieldUpdated     = "updated"
	FieldGitHubIssue = "github_issue"
)

// Kind-specific frontmatter keys.
const (
	FieldAuthor         = "author"
	FieldVersion        = "version"
	FieldTimeline       = "timeline"
	FieldPRDID          = "prd_id"
	FieldTasksTotal     = "tasks_total"
	FieldTasksCompleted = "tasks_completed"
	FieldEpicID         = "epic_id"
	FieldDependencies   = "dependencies"
	FieldEstimatedHours = "estimated_hours"
)

// TimeLayout is used for created/updated timestamps.
const TimeLayout = time.RFC3339

// DefaultPriority applies when no priority is set.
const DefaultPriority = "medium"

// Priorities is the fixed priority vocabulary, most urgent first.
var Priorities = []string{"critical", "high", "medium", "low"}

// Entity is one PRD, Epic or Task as stored on disk.
type Entity struct {
	Kind   *Kind
	ID     string
	Path   string
	Fields *frontmatter.Fields
	Body   string
}

// Title returns the title field.
func (e *Entity) Title() string { return e.Fields.Get(FieldTitle) }

// Status returns the status field.
func (e *Entity) Status() string { return e.Fields.Get(FieldStatus) }

// Priority returns the priority field, or DefaultPriority when unset.
func (e *Entity) Priority() string {
	if p := e.Fields.Get(FieldPriority); p != "" {
		return p
	}
	return DefaultPriority
}

// ParentID returns the parent reference, if the kind has one.
func (e *Entity) ParentID() string {
	if e.Kind.ParentField == "" {
		return ""
	}
	return e.Fields.Get(e.Kind.ParentField)
}

// GitHubIssue returns the mirrored issue number, if synced.
func (e *Entity) GitHubIssue() (int, bool) {
	n, ok := e.Fields.GetInt(FieldGitHubIssue)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// Dependencies returns the task IDs this entity depends on.
func (e *Entity) Dependencies() []string {
	var deps []string
	for _, d := range e.Fields.GetList(FieldDependencies) {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

// Completed reports whether the entity is in its kind's completed status.
func (e *Entity) Completed() bool {
	return e.Status() == e.Kind.CompletedStatus
}

// Created parses the created timestamp. Date-only values are accepted.
func (e *Entity) Created() time.Time { return ParseTime(e.Fields.Get(FieldCreated)) }

// Updated parses the updated timestamp.
func (e *Entity) Updated() time.Time { return ParseTime(e.Fields.Get(FieldUpdated)) }

// Content renders the entity back to file content.
func (e *Entity) Content() string {
	return frontmatter.Stringify(e.Fields, e.Body)
}

// ParseTime accepts RFC 3339 timestamps and plain dates. Unparsable
// values yield the zero time.
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatTime renders t in TimeLayout, UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NormalizePriority maps free-form labels onto the fixed vocabulary.
func NormalizePriority(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	for _, known := range Priorities {
		if p == known {
			return p
		}
	}
	return DefaultPriority
}
