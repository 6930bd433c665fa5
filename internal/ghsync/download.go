package ghsync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/github"
	"github.com/cexll/pmsync/internal/issuefmt"
	"github.com/cexll/pmsync/internal/store"
	"github.com/cexll/pmsync/internal/syncmap"
	"github.com/google/uuid"
)

// Downloader mirrors remote issues into local entity files.
type Downloader struct {
	store   *store.Store
	tracker github.IssueTracker
	mapPath string
	newID   func() string
}

// NewDownloader creates a downloader whose sync map lives under the store
// root.
func NewDownloader(st *store.Store, tracker github.IssueTracker) *Downloader {
	return &Downloader{
		store:   st,
		tracker: tracker,
		mapPath: syncmap.Path(st.Root()),
		newID:   uuid.NewString,
	}
}

// Download lists remote issues per kind label and applies them locally,
// PRDs first so Epic and Task parents resolve.
func (d *Downloader) Download(ctx context.Context, opts Options) (*Report, error) {
	return d.run(ctx, opts, func(kind *entity.Kind) ([]*github.Issue, error) {
		return d.tracker.ListIssues(ctx, kind.Name)
	})
}

// DownloadIssues applies an explicit batch of issues, e.g. from a webhook.
// Issues whose kind cannot be told from the title tag or labels are
// ignored.
func (d *Downloader) DownloadIssues(ctx context.Context, issues []*github.Issue, opts Options) (*Report, error) {
	byKind := make(map[*entity.Kind][]*github.Issue)
	for _, issue := range issues {
		kind := KindOf(issue)
		if kind == nil {
			log.Printf("[Download] Ignoring issue #%d: no kind tag or label", issue.Number)
			continue
		}
		byKind[kind] = append(byKind[kind], issue)
	}
	return d.run(ctx, opts, func(kind *entity.Kind) ([]*github.Issue, error) {
		return byKind[kind], nil
	})
}

// KindOf infers the entity kind of a remote issue.
func KindOf(issue *github.Issue) *entity.Kind {
	if kind, _ := issuefmt.StripTag(issue.Title); kind != nil {
		return kind
	}
	for _, k := range entity.All() {
		if issue.HasLabel(k.Name) {
			return k
		}
	}
	return nil
}

func (d *Downloader) run(ctx context.Context, opts Options, fetch func(*entity.Kind) ([]*github.Issue, error)) (*Report, error) {
	report := &Report{RunID: d.newID(), Direction: "download", DryRun: opts.DryRun}
	if opts.Mode == "" {
		opts.Mode = DefaultConflictMode
	}

	if !opts.DryRun {
		unlock, err := lockSync(d.store.MetaDir())
		if err != nil {
			return report, err
		}
		defer unlock()
	}

	m, err := syncmap.Load(d.mapPath)
	if err != nil {
		return report, err
	}
	rev := m.Reverse()

	var runErr error
	for _, kind := range opts.kinds() {
		issues, err := fetch(kind)
		if err != nil {
			runErr = err
			break
		}
		sort.Slice(issues, func(i, j int) bool { return issues[i].Number < issues[j].Number })
		if err := d.downloadKind(ctx, kind, issues, rev, opts, report); err != nil {
			runErr = err
			break
		}
	}

	if !opts.DryRun {
		if err := syncmap.Save(d.mapPath, mergeReverse(m, rev)); err != nil && runErr == nil {
			runErr = err
		}
	}
	return report, runErr
}

// mergeReverse folds the run's reverse index back into the persisted map.
// Entries for issues the run did not touch are kept.
func mergeReverse(m syncmap.Map, rev syncmap.Reverse) syncmap.Map {
	out := syncmap.FromReverse(rev)
	for id, n := range m {
		if _, claimed := rev[n]; !claimed {
			out[id] = n
		}
	}
	return out
}

func (d *Downloader) downloadKind(ctx context.Context, kind *entity.Kind, issues []*github.Issue, rev syncmap.Reverse, opts Options, report *Report) error {
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := d.downloadOne(kind, issue, rev, opts)
		if err != nil {
			log.Printf("[Download] Failed %s #%d: %v", kind.Tag, issue.Number, err)
			res.Action = ActionFailed
			res.Err = err
			res.Message = err.Error()
			report.add(res)
			if !opts.KeepGoing {
				return fmt.Errorf("download %s #%d: %w", kind.Name, issue.Number, err)
			}
			continue
		}
		report.add(res)
	}
	return nil
}

// remote is a parsed issue ready to be applied locally.
type remote struct {
	issue  *github.Issue
	title  string
	meta   map[string]string
	fields *frontmatter.Fields
	body   string
}

func parseRemote(kind *entity.Kind, issue *github.Issue) *remote {
	_, title := issuefmt.StripTag(issue.Title)
	meta, content := issuefmt.ParseBody(github.SanitizeBody(issue.Body))

	fields := issuefmt.Fields(kind, meta)
	fields.Set(entity.FieldTitle, title)
	fields.Set(entity.FieldPriority, priorityOf(issue, meta))
	fields.Set(entity.FieldGitHubIssue, strconv.Itoa(issue.Number))

	return &remote{
		issue:  issue,
		title:  title,
		meta:   meta,
		fields: fields,
		body:   issuefmt.LocalBody(content),
	}
}

// priorityOf prefers a priority label, then the body's Priority line.
func priorityOf(issue *github.Issue, meta map[string]string) string {
	if p, ok := issuefmt.PriorityLabel(issue.Labels); ok {
		return p
	}
	if p := meta[issuefmt.KeyPriority]; p != "" {
		return entity.NormalizePriority(p)
	}
	return entity.DefaultPriority
}

func (d *Downloader) downloadOne(kind *entity.Kind, issue *github.Issue, rev syncmap.Reverse, opts Options) (Result, error) {
	r := parseRemote(kind, issue)
	res := Result{Kind: kind.Name, Issue: issue.Number, Title: r.title}

	parentID := ""
	if kind.ParentField != "" {
		n, ok := issuefmt.ParentNumber(kind, r.meta)
		if ok {
			parentID = rev[n]
		}
		if parentID == "" {
			if kind == entity.Task {
				res.Action = ActionSkipped
				res.Message = "parent epic not synced locally"
				if ok {
					res.Message = fmt.Sprintf("parent epic #%d not synced locally", n)
				}
				log.Printf("[Download] Skipped TASK #%d: %s", issue.Number, res.Message)
				return res, nil
			}
			if ok {
				log.Printf("[Download] Warning: parent #%d of %s #%d not synced locally", n, kind.Tag, issue.Number)
			}
		}
	}

	if id, ok := rev[issue.Number]; ok {
		local, err := d.store.Show(kind, id)
		switch {
		case err == nil:
			return d.update(local, r, parentID, res, opts)
		case store.IsNotFound(err):
			log.Printf("[Download] Warning: %s %s mapped to #%d no longer exists, recreating", kind.Tag, id, issue.Number)
			delete(rev, issue.Number)
		default:
			return res, err
		}
	}
	return d.create(kind, r, parentID, rev, res, opts)
}

func (d *Downloader) create(kind *entity.Kind, r *remote, parentID string, rev syncmap.Reverse, res Result, opts Options) (Result, error) {
	fields := r.fields
	if parentID != "" {
		fields.Set(kind.ParentField, parentID)
	}
	if !r.issue.CreatedAt.IsZero() {
		fields.Set(entity.FieldCreated, entity.FormatTime(r.issue.CreatedAt))
	}
	if !r.issue.UpdatedAt.IsZero() {
		fields.Set(entity.FieldUpdated, entity.FormatTime(r.issue.UpdatedAt))
	}
	if kind == entity.Epic {
		if done, total, ok := issuefmt.ParseProgress(r.meta[issuefmt.KeyProgress]); ok {
			fields.SetInt(entity.FieldTasksTotal, total)
			fields.SetInt(entity.FieldTasksCompleted, done)
		}
	}

	if opts.DryRun {
		// Children later in this run resolve against the placeholder.
		rev[r.issue.Number] = fmt.Sprintf("new-%s-from-%d", kind.Name, r.issue.Number)
		res.Action = ActionWouldCreate
		log.Printf("[DRY-RUN] would create %s from #%d: %s", kind.Tag, r.issue.Number, r.title)
		return res, nil
	}

	e, err := d.store.Create(kind, store.CreateInput{
		Title:  r.title,
		Parent: parentID,
		Fields: fields,
		Body:   r.body,
	})
	if err != nil {
		return res, err
	}
	rev[r.issue.Number] = e.ID
	res.ID = e.ID
	res.Action = ActionCreated
	log.Printf("[Download] Created %s %s: %s (#%d)", kind.Tag, e.ID, r.title, r.issue.Number)
	return res, nil
}

func (d *Downloader) update(local *entity.Entity, r *remote, parentID string, res Result, opts Options) (Result, error) {
	kind := local.Kind
	res.ID = local.ID

	fields := r.fields
	// Tasks never move between epics; an Epic only gains a missing PRD link.
	if kind == entity.Epic && parentID != "" && local.ParentID() == "" {
		fields.Set(kind.ParentField, parentID)
	}

	body := r.body
	stamp := r.issue.UpdatedAt
	action := ActionUpdated

	if local.Updated().After(r.issue.UpdatedAt) {
		switch opts.Mode {
		case ModeLocal:
			res.Action = ActionConflictSkipped
			res.Conflict = true
			log.Printf("[Download] Conflict: %s %s is newer locally, keeping local copy", kind.Tag, local.ID)
			return res, nil
		case ModeMerge:
			body = local.Body
			stamp = local.Updated()
			action = ActionMerged
			res.Conflict = true
		case ModeOverwrite:
			res.Conflict = true
		}
		if res.Conflict {
			log.Printf("[Download] Conflict: %s %s is newer locally (%s mode)", kind.Tag, local.ID, opts.Mode)
		}
	}

	if unchanged(local, fields, body) {
		res.Action = ActionUnchanged
		return res, nil
	}

	if opts.DryRun {
		res.Action = ActionWouldUpdate
		log.Printf("[DRY-RUN] would update %s %s from #%d: %s", kind.Tag, local.ID, r.issue.Number, r.title)
		return res, nil
	}

	if _, err := d.store.Update(kind, local.ID, store.Patch{Fields: fields, Body: &body, Updated: stamp}); err != nil {
		return res, err
	}
	res.Action = action
	log.Printf("[Download] Updated %s %s: %s (#%d)", kind.Tag, local.ID, r.title, r.issue.Number)
	return res, nil
}

func unchanged(local *entity.Entity, fields *frontmatter.Fields, body string) bool {
	if local.Body != body {
		return false
	}
	for _, k := range fields.Keys() {
		if local.Fields.Get(k) != fields.Get(k) {
			return false
		}
	}
	return true
}
