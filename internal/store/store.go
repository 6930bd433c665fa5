// Package store is the local, file-backed entity store. One Store serves
// every entity kind; kind-specific layout and defaults come from the
// entity.Kind descriptor.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const storeLock = "store.lock"

// Store manages entity files under a root directory.
type Store struct {
	root   string
	author string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithAuthor sets the author recorded on new PRDs.
func WithAuthor(author string) Option {
	return func(s *Store) { s.author = author }
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// MetaDir returns the directory holding store bookkeeping files.
func (s *Store) MetaDir() string { return filepath.Join(s.root, metaDir) }

// CreateInput describes a new entity.
type CreateInput struct {
	Title  string
	Parent string
	// Fields are merged over the defaults. The id field is ignored.
	Fields *frontmatter.Fields
	// Body replaces the kind's default template when non-empty.
	Body string
}

// Filter narrows List results. All conditions must match.
type Filter struct {
	Parent string
	Equals map[string]string
}

// Patch describes a partial update.
type Patch struct {
	Fields *frontmatter.Fields
	// Body replaces the stored body when non-nil.
	Body *string
	// ValidateDependencies rejects completing a task whose dependencies
	// are not all completed.
	ValidateDependencies bool
	// Updated overrides the updated stamp; zero means now.
	Updated time.Time
}

// Create allocates an ID, writes the new entity and returns it.
func (s *Store) Create(kind *entity.Kind, in CreateInput) (*entity.Entity, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%s title is required", kind.Name)
	}
	if strings.ContainsAny(title, "\r\n") {
		return nil, &frontmatter.FieldError{Key: entity.FieldTitle, Reason: "value must not contain line breaks"}
	}
	if err := in.Fields.Validate(); err != nil {
		return nil, err
	}

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if kind.ParentField != "" && in.Parent != "" {
		parentKind, err := entity.Lookup(kind.ParentKind)
		if err != nil {
			return nil, err
		}
		if _, err := s.show(parentKind, in.Parent); err != nil {
			return nil, fmt.Errorf("resolve parent: %w", err)
		}
	}
	if kind == entity.Task && in.Parent == "" {
		return nil, fmt.Errorf("task requires a parent epic")
	}

	id, err := s.allocateID(kind, in.Parent)
	if err != nil {
		return nil, fmt.Errorf("allocate %s id: %w", kind.Name, err)
	}
	path, err := kind.Path(s.root, id)
	if err != nil {
		return nil, err
	}

	fields := s.defaultFields(kind, id, title, in.Parent)
	if in.Fields != nil {
		fields.Merge(in.Fields)
		fields.Set(entity.FieldID, id)
	}

	body := in.Body
	if body == "" {
		body = kind.DefaultBody(title)
	}

	e := &entity.Entity{Kind: kind, ID: id, Path: path, Fields: fields, Body: body}
	if err := s.write(e); err != nil {
		return nil, err
	}
	log.Printf("[Store] Created %s %s: %s", kind.Name, id, title)

	if kind == entity.Task {
		if err := s.recountEpic(in.Parent); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Store) defaultFields(kind *entity.Kind, id, title, parent string) *frontmatter.Fields {
	now := entity.FormatTime(s.now())

	f := frontmatter.NewFields()
	f.Set(entity.FieldID, id)
	f.Set(entity.FieldTitle, title)
	f.Set(entity.FieldStatus, kind.DefaultStatus)
	f.Set(entity.FieldPriority, entity.DefaultPriority)
	f.Set(entity.FieldCreated, now)
	f.Set(entity.FieldUpdated, now)

	switch kind {
	case entity.PRD:
		f.Set(entity.FieldAuthor, s.author)
		f.Set(entity.FieldVersion, "1.0")
		f.Set(entity.FieldTimeline, "")
	case entity.Epic:
		f.Set(entity.FieldPRDID, parent)
		f.SetInt(entity.FieldTasksTotal, 0)
		f.SetInt(entity.FieldTasksCompleted, 0)
	case entity.Task:
		f.Set(entity.FieldEpicID, parent)
		f.SetList(entity.FieldDependencies, nil)
		f.Set(entity.FieldEstimatedHours, "")
	}
	return f
}

// List returns every parsable entity of kind matching filter, newest
// first. Files that fail to parse are logged and skipped.
func (s *Store) List(kind *entity.Kind, filter Filter) ([]*entity.Entity, error) {
	pattern := kind.Glob(s.root)
	if kind == entity.Task && filter.Parent != "" {
		pattern = filepath.Join(s.root, "epics", filter.Parent, "task-*.md")
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", kind.Plural, err)
	}

	out := make([]*entity.Entity, 0, len(paths))
	for _, p := range paths {
		e, err := s.load(kind, p)
		if err != nil {
			log.Printf("[Store] Warning: skipping %s: %v", p, err)
			continue
		}
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Created(), out[j].Created()
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return idLess(out[j].ID, out[i].ID)
	})
	return out, nil
}

// idLess orders IDs by their dash-separated parts, numerically where both
// parts are numbers, so task-001-9 sorts before task-001-10.
func idLess(a, b string) bool {
	pa, pb := strings.Split(a, "-"), strings.Split(b, "-")
	for k := 0; k < len(pa) && k < len(pb); k++ {
		if pa[k] == pb[k] {
			continue
		}
		na, errA := strconv.Atoi(pa[k])
		nb, errB := strconv.Atoi(pb[k])
		if errA == nil && errB == nil && na != nb {
			return na < nb
		}
		return pa[k] < pb[k]
	}
	return len(pa) < len(pb)
}

func matches(e *entity.Entity, filter Filter) bool {
	if filter.Parent != "" && e.ParentID() != filter.Parent {
		return false
	}
	for key, want := range filter.Equals {
		if e.Fields.Get(key) != want {
			return false
		}
	}
	return true
}

// Show loads a single entity by ID.
func (s *Store) Show(kind *entity.Kind, id string) (*entity.Entity, error) {
	return s.show(kind, id)
}

func (s *Store) show(kind *entity.Kind, id string) (*entity.Entity, error) {
	if path, err := kind.Path(s.root, id); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return s.load(kind, path)
		}
	}

	// Fall back to files whose frontmatter id matches.
	paths, _ := filepath.Glob(kind.Glob(s.root))
	for _, p := range paths {
		e, err := s.load(kind, p)
		if err != nil {
			continue
		}
		if e.ID == id {
			return e, nil
		}
	}
	return nil, &NotFoundError{Kind: kind.Name, ID: id}
}

// Update merges patch into the stored entity and rewrites the file.
func (s *Store) Update(kind *entity.Kind, id string, patch Patch) (*entity.Entity, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.update(kind, id, patch)
}

func (s *Store) update(kind *entity.Kind, id string, patch Patch) (*entity.Entity, error) {
	current, err := s.show(kind, id)
	if err != nil {
		return nil, err
	}

	fields := current.Fields.Clone()
	if patch.Fields != nil {
		fields.Merge(patch.Fields)
	}
	fields.Set(entity.FieldID, current.ID)
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	updated := patch.Updated
	if updated.IsZero() {
		updated = s.now()
	}
	fields.Set(entity.FieldUpdated, entity.FormatTime(updated))

	next := &entity.Entity{
		Kind:   kind,
		ID:     current.ID,
		Path:   current.Path,
		Fields: fields,
		Body:   current.Body,
	}
	if patch.Body != nil {
		next.Body = *patch.Body
	}

	transition := current.Completed() != next.Completed()
	if kind == entity.Task && patch.ValidateDependencies && transition && next.Completed() {
		if err := s.checkDependencies(next); err != nil {
			return nil, err
		}
	}

	if err := s.write(next); err != nil {
		return nil, err
	}

	if kind == entity.Task && transition {
		if err := s.recountEpic(next.ParentID()); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (s *Store) checkDependencies(task *entity.Entity) error {
	var unmet []string
	for _, dep := range task.Dependencies() {
		d, err := s.show(entity.Task, dep)
		if err != nil {
			unmet = append(unmet, dep+" (missing)")
			continue
		}
		if !d.Completed() {
			unmet = append(unmet, fmt.Sprintf("%s (%s)", dep, d.Status()))
		}
	}
	if len(unmet) > 0 {
		return &DependencyNotMetError{TaskID: task.ID, Unmet: unmet}
	}
	return nil
}

// RecountEpic recomputes an epic's task counters from its task files.
func (s *Store) RecountEpic(epicID string) (*entity.Entity, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.recountEpic(epicID); err != nil {
		return nil, err
	}
	return s.show(entity.Epic, epicID)
}

func (s *Store) recountEpic(epicID string) error {
	if epicID == "" {
		return nil
	}
	tasks, err := s.List(entity.Task, Filter{Parent: epicID})
	if err != nil {
		return err
	}
	completed := 0
	for _, t := range tasks {
		if t.Completed() {
			completed++
		}
	}

	epic, err := s.show(entity.Epic, epicID)
	if err != nil {
		if IsNotFound(err) {
			log.Printf("[Store] Warning: epic %s not found, counters not updated", epicID)
			return nil
		}
		return fmt.Errorf("recount epic %s: %w", epicID, err)
	}

	// Counters are derived data; keep the epic's updated stamp so a
	// recount is not mistaken for a local edit during download.
	patch := frontmatter.NewFields()
	patch.SetInt(entity.FieldTasksTotal, len(tasks))
	patch.SetInt(entity.FieldTasksCompleted, completed)
	if _, err := s.update(entity.Epic, epicID, Patch{Fields: patch, Updated: epic.Updated()}); err != nil {
		return fmt.Errorf("recount epic %s: %w", epicID, err)
	}
	return nil
}

func (s *Store) load(kind *entity.Kind, path string) (*entity.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fields, body, err := frontmatter.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	id := fields.Get(entity.FieldID)
	if id == "" {
		id = kind.IDFromPath(path)
	}
	return &entity.Entity{Kind: kind, ID: id, Path: path, Fields: fields, Body: body}, nil
}

func (s *Store) write(e *entity.Entity) error {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", e.ID, err)
	}
	if err := atomic.WriteFile(e.Path, strings.NewReader(e.Content())); err != nil {
		return fmt.Errorf("write %s: %w", e.ID, err)
	}
	return nil
}

// lock takes the store-wide write lock guarding read-modify-write cycles.
func (s *Store) lock() (func(), error) {
	dir := s.MetaDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	l := flock.New(filepath.Join(dir, storeLock))
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return func() { _ = l.Unlock() }, nil
}
