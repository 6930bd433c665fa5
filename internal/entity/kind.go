// Package entity describes the three project-management entity kinds and
// the file layout each one uses under a store root.
package entity

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Kind describes one entity kind. The store, sync and dashboard code are
// written once against this descriptor instead of once per kind.
type Kind struct {
	Name            string // "prd"
	Plural          string // "prds"
	Tag             string // "PRD", used in remote issue titles
	IDPrefix        string // "prd-"
	ParentField     string // frontmatter key referencing the parent, "" for none
	ParentKind      string // Name of the parent kind
	DefaultStatus   string
	Statuses        []string
	CompletedStatus string
}

// The three kinds, in upload order.
var (
	PRD = &Kind{
		Name:            "prd",
		Plural:          "prds",
		Tag:             "PRD",
		IDPrefix:        "prd-",
		DefaultStatus:   "draft",
		Statuses:        []string{"draft", "review", "approved", "completed"},
		CompletedStatus: "completed",
	}
	Epic = &Kind{
		Name:            "epic",
		Plural:          "epics",
		Tag:             "EPIC",
		IDPrefix:        "epic-",
		ParentField:     "prd_id",
		ParentKind:      "prd",
		DefaultStatus:   "planning",
		Statuses:        []string{"planning", "in_progress", "completed"},
		CompletedStatus: "completed",
	}
	Task = &Kind{
		Name:            "task",
		Plural:          "tasks",
		Tag:             "TASK",
		IDPrefix:        "task-",
		ParentField:     "epic_id",
		ParentKind:      "epic",
		DefaultStatus:   "pending",
		Statuses:        []string{"pending", "in_progress", "blocked", "completed"},
		CompletedStatus: "completed",
	}
)

// All returns the kinds in dependency order: parents before children.
func All() []*Kind {
	return []*Kind{PRD, Epic, Task}
}

// Lookup resolves a kind by name, plural or tag, case-insensitively.
func Lookup(name string) (*Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, k := range All() {
		if n == k.Name || n == k.Plural || n == strings.ToLower(k.Tag) {
			return k, nil
		}
	}
	return nil, fmt.Errorf("unknown entity kind: %q (expected prd, epic or task)", name)
}

// String returns the kind name.
func (k *Kind) String() string { return k.Name }

var (
	prdIDPattern  = regexp.MustCompile(`^prd-(\d+)$`)
	epicIDPattern = regexp.MustCompile(`^epic-(\d+)$`)
	taskIDPattern = regexp.MustCompile(`^task-(\d+)-(\d+)$`)
)

// Path returns the file path for id under root.
func (k *Kind) Path(root, id string) (string, error) {
	switch k {
	case PRD:
		if !prdIDPattern.MatchString(id) {
			return "", fmt.Errorf("invalid prd id: %q", id)
		}
		return filepath.Join(root, "prds", id+".md"), nil
	case Epic:
		if !epicIDPattern.MatchString(id) {
			return "", fmt.Errorf("invalid epic id: %q", id)
		}
		return filepath.Join(root, "epics", id, "epic.md"), nil
	case Task:
		m := taskIDPattern.FindStringSubmatch(id)
		if m == nil {
			return "", fmt.Errorf("invalid task id: %q", id)
		}
		return filepath.Join(root, "epics", "epic-"+m[1], id+".md"), nil
	}
	return "", fmt.Errorf("unsupported kind %q", k.Name)
}

// Glob returns the filepath.Glob pattern matching every file of this kind.
func (k *Kind) Glob(root string) string {
	switch k {
	case PRD:
		return filepath.Join(root, "prds", "*.md")
	case Epic:
		return filepath.Join(root, "epics", "*", "epic.md")
	default:
		return filepath.Join(root, "epics", "*", "task-*.md")
	}
}

// Namespace identifies the sequence an ID is allocated from. Tasks are
// numbered per epic.
func (k *Kind) Namespace(parentID string) (string, error) {
	if k != Task {
		return k.Name, nil
	}
	num, ok := EpicNumber(parentID)
	if !ok {
		return "", fmt.Errorf("invalid epic id: %q", parentID)
	}
	return "task-" + num, nil
}

// FormatID builds the ID for sequence number n.
func (k *Kind) FormatID(parentID string, n int) string {
	switch k {
	case Task:
		num, _ := EpicNumber(parentID)
		return fmt.Sprintf("task-%s-%d", num, n)
	default:
		return fmt.Sprintf("%s%03d", k.IDPrefix, n)
	}
}

// SequenceOf extracts the sequence number from a file base name or ID.
func (k *Kind) SequenceOf(id string) (int, bool) {
	id = strings.TrimSuffix(filepath.Base(id), ".md")
	var digits string
	switch k {
	case PRD:
		if m := prdIDPattern.FindStringSubmatch(id); m != nil {
			digits = m[1]
		}
	case Epic:
		if m := epicIDPattern.FindStringSubmatch(id); m != nil {
			digits = m[1]
		}
	case Task:
		if m := taskIDPattern.FindStringSubmatch(id); m != nil {
			digits = m[2]
		}
	}
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// EpicNumber returns the zero-padded numeric part of an epic ID.
func EpicNumber(epicID string) (string, bool) {
	m := epicIDPattern.FindStringSubmatch(epicID)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EpicOfTask returns the epic ID a task ID belongs to.
func EpicOfTask(taskID string) (string, bool) {
	m := taskIDPattern.FindStringSubmatch(taskID)
	if m == nil {
		return "", false
	}
	return "epic-" + m[1], true
}

// IDFromPath derives the entity ID implied by a file path.
func (k *Kind) IDFromPath(path string) string {
	if k == Epic {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(filepath.Base(path), ".md")
}
