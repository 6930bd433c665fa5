// Package issuefmt renders local entities as remote issues and parses
// those issues back. The body format is a block of "**Key:** value"
// lines, a "---" rule, then the entity's prose.
package issuefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
)

// Metadata keys used in issue bodies.
const (
	KeyStatus         = "Status"
	KeyPriority       = "Priority"
	KeyParentPRD      = "Parent PRD"
	KeyParentEpic     = "Parent Epic"
	KeyProgress       = "Progress"
	KeyEstimatedHours = "Estimated Hours"
	KeyDependencies   = "Dependencies"
)

// Separator divides the metadata block from the prose.
const Separator = "---"

var (
	metaLine     = regexp.MustCompile(`^\*\*([^*]+?):\*\*\s*(.*)$`)
	titleTag     = regexp.MustCompile(`^\s*\[([A-Za-z]+)\]\s*`)
	issueRef     = regexp.MustCompile(`#(\d+)`)
	progressLine = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)`)
)

// Title renders "[KIND] title".
func Title(e *entity.Entity) string {
	return fmt.Sprintf("[%s] %s", e.Kind.Tag, e.Title())
}

// StripTag removes a leading "[KIND]" tag. The kind is nil when the tag
// is missing or unknown.
func StripTag(title string) (*entity.Kind, string) {
	m := titleTag.FindStringSubmatch(title)
	if m == nil {
		return nil, strings.TrimSpace(title)
	}
	kind, err := entity.Lookup(m[1])
	if err != nil {
		return nil, strings.TrimSpace(title)
	}
	return kind, strings.TrimSpace(title[len(m[0]):])
}

// Labels returns the kind label followed by the priority label.
func Labels(e *entity.Entity) []string {
	return []string{e.Kind.Name, entity.NormalizePriority(e.Priority())}
}

// PriorityLabel returns the first label in the priority vocabulary.
func PriorityLabel(labels []string) (string, bool) {
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		for _, p := range entity.Priorities {
			if l == p {
				return p, true
			}
		}
	}
	return "", false
}

// PriorityFromLabels returns the first label in the priority vocabulary,
// or the default priority.
func PriorityFromLabels(labels []string) string {
	if p, ok := PriorityLabel(labels); ok {
		return p
	}
	return entity.DefaultPriority
}

// Parents resolves the remote issue number of an entity's parent.
type Parents func(parentID string) (int, bool)

// RenderBody builds the issue body for e.
func RenderBody(e *entity.Entity, parents Parents) string {
	var b strings.Builder
	line := func(key, val string) {
		fmt.Fprintf(&b, "**%s:** %s\n", key, val)
	}

	line(KeyStatus, e.Status())
	line(KeyPriority, e.Priority())

	if parent := e.ParentID(); parent != "" && parents != nil {
		if n, ok := parents(parent); ok {
			key := KeyParentPRD
			if e.Kind == entity.Task {
				key = KeyParentEpic
			}
			line(key, fmt.Sprintf("#%d", n))
		}
	}

	switch e.Kind {
	case entity.Epic:
		total, _ := e.Fields.GetInt(entity.FieldTasksTotal)
		done, _ := e.Fields.GetInt(entity.FieldTasksCompleted)
		line(KeyProgress, Progress(done, total))
	case entity.Task:
		if h := e.Fields.Get(entity.FieldEstimatedHours); h != "" {
			line(KeyEstimatedHours, h)
		}
		if deps := e.Dependencies(); len(deps) > 0 {
			line(KeyDependencies, strings.Join(deps, ", "))
		}
	}

	b.WriteString("\n" + Separator + "\n\n")
	b.WriteString(strings.TrimLeft(e.Body, "\n"))
	return b.String()
}

// Progress renders "x/y tasks (p%)".
func Progress(done, total int) string {
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	return fmt.Sprintf("%d/%d tasks (%d%%)", done, total, pct)
}

// ParseProgress reads the counters back out of a Progress value.
func ParseProgress(val string) (done, total int, ok bool) {
	m := progressLine.FindStringSubmatch(strings.TrimSpace(val))
	if m == nil {
		return 0, 0, false
	}
	done, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return done, total, true
}

// ParseBody splits an issue body at the first "---" line. Lines before it
// that look like "**Key:** value" become metadata; the rest is content.
// A body without a separator is all content.
func ParseBody(body string) (map[string]string, string) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	meta := make(map[string]string)

	lines := strings.Split(body, "\n")
	sep := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == Separator {
			sep = i
			break
		}
	}
	if sep < 0 {
		return meta, strings.TrimSpace(body)
	}

	for _, l := range lines[:sep] {
		if m := metaLine.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			meta[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return meta, strings.TrimSpace(strings.Join(lines[sep+1:], "\n"))
}

// ParentNumber returns the parent issue number recorded for kind.
func ParentNumber(kind *entity.Kind, meta map[string]string) (int, bool) {
	var key string
	switch kind {
	case entity.Epic:
		key = KeyParentPRD
	case entity.Task:
		key = KeyParentEpic
	default:
		return 0, false
	}
	m := issueRef.FindStringSubmatch(meta[key])
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Fields converts parsed metadata into frontmatter for kind. Parent
// references and counters are left to the caller.
func Fields(kind *entity.Kind, meta map[string]string) *frontmatter.Fields {
	f := frontmatter.NewFields()
	if s := meta[KeyStatus]; s != "" {
		f.Set(entity.FieldStatus, s)
	}
	if p := meta[KeyPriority]; p != "" {
		f.Set(entity.FieldPriority, entity.NormalizePriority(p))
	}
	if kind == entity.Task {
		if h := meta[KeyEstimatedHours]; h != "" {
			f.Set(entity.FieldEstimatedHours, h)
		}
		if d, ok := meta[KeyDependencies]; ok {
			var deps []string
			for _, dep := range strings.Split(d, ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					deps = append(deps, dep)
				}
			}
			f.SetList(entity.FieldDependencies, deps)
		}
	}
	return f
}

// LocalBody turns issue content back into a stored body.
func LocalBody(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	return "\n" + content + "\n"
}
