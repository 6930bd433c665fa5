package ghsync

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/github"
	"github.com/cexll/pmsync/internal/issuefmt"
	"github.com/cexll/pmsync/internal/store"
	"github.com/cexll/pmsync/internal/syncmap"
	"github.com/google/uuid"
)

// Uploader pushes local entities to the issue tracker.
type Uploader struct {
	store   *store.Store
	tracker github.IssueTracker
	mapPath string
	newID   func() string
}

// NewUploader creates an uploader whose sync map lives under the store root.
func NewUploader(st *store.Store, tracker github.IssueTracker) *Uploader {
	return &Uploader{
		store:   st,
		tracker: tracker,
		mapPath: syncmap.Path(st.Root()),
		newID:   uuid.NewString,
	}
}

// Upload mirrors every selected entity to a remote issue, PRDs first,
// then Epics, then Tasks, so parent issue numbers are known before child
// bodies are rendered.
func (u *Uploader) Upload(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{RunID: u.newID(), Direction: "upload", DryRun: opts.DryRun}

	// A dry run writes nothing, the lock file included.
	if !opts.DryRun {
		unlock, err := lockSync(u.store.MetaDir())
		if err != nil {
			return report, err
		}
		defer unlock()
	}

	m, err := syncmap.Load(u.mapPath)
	if err != nil {
		return report, err
	}

	if opts.EnsureLabels && !opts.DryRun {
		if err := github.EnsureDefaultLabels(ctx, u.tracker); err != nil {
			return report, fmt.Errorf("ensure labels: %w", err)
		}
	}

	var runErr error
	for _, kind := range opts.kinds() {
		if err := u.uploadKind(ctx, kind, m, opts, report); err != nil {
			runErr = err
			break
		}
	}

	// Whatever was created before a failure must be remembered, otherwise
	// the next run would open duplicates.
	if !opts.DryRun {
		if err := syncmap.Save(u.mapPath, m); err != nil && runErr == nil {
			runErr = err
		}
	}
	return report, runErr
}

func (u *Uploader) uploadKind(ctx context.Context, kind *entity.Kind, m syncmap.Map, opts Options, report *Report) error {
	entities, err := u.store.List(kind, store.Filter{})
	if err != nil {
		return err
	}
	// List is newest first; upload oldest first so issue numbers follow IDs.
	for i := len(entities) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := entities[i]
		res, err := u.uploadOne(ctx, e, m, opts)
		if err != nil {
			log.Printf("[Upload] Failed %s %s: %v", kind.Tag, e.ID, err)
			res.Action = ActionFailed
			res.Err = err
			res.Message = err.Error()
			report.add(res)
			if !opts.KeepGoing {
				return fmt.Errorf("upload %s %s: %w", kind.Name, e.ID, err)
			}
			continue
		}
		report.add(res)
	}
	return nil
}

func (u *Uploader) uploadOne(ctx context.Context, e *entity.Entity, m syncmap.Map, opts Options) (Result, error) {
	res := Result{Kind: e.Kind.Name, ID: e.ID, Title: e.Title()}

	number, linked := e.GitHubIssue()
	if !linked {
		number, linked = m[e.ID], m[e.ID] > 0
	}

	req := github.IssueRequest{
		Title:  issuefmt.Title(e),
		Body:   issuefmt.RenderBody(e, u.parentIssue(e.Kind, m)),
		Labels: issuefmt.Labels(e),
	}

	if opts.DryRun {
		if linked {
			res.Action, res.Issue = ActionWouldUpdate, number
			log.Printf("[DRY-RUN] would update %s %s (#%d): %s", e.Kind.Tag, e.ID, number, e.Title())
		} else {
			res.Action = ActionWouldCreate
			log.Printf("[DRY-RUN] would create %s %s: %s", e.Kind.Tag, e.ID, e.Title())
		}
		return res, nil
	}

	var (
		issue *github.Issue
		err   error
	)
	if linked {
		issue, err = u.tracker.UpdateIssue(ctx, number, req)
		res.Action = ActionUpdated
	} else {
		issue, err = u.tracker.CreateIssue(ctx, req)
		res.Action = ActionCreated
	}
	if err != nil {
		return res, err
	}
	res.Issue = issue.Number
	m[e.ID] = issue.Number

	// Only touch the local file when the link is new or stale. The stamp
	// is the remote one so the next download does not see a local edit.
	if current, ok := e.GitHubIssue(); !ok || current != issue.Number {
		patch := frontmatter.NewFields()
		patch.Set(entity.FieldGitHubIssue, strconv.Itoa(issue.Number))
		if _, err := u.store.Update(e.Kind, e.ID, store.Patch{Fields: patch, Updated: issue.UpdatedAt}); err != nil {
			return res, fmt.Errorf("record issue #%d: %w", issue.Number, err)
		}
	}

	verb := "Updated"
	if res.Action == ActionCreated {
		verb = "Created"
	}
	log.Printf("[Upload] %s %s %s: %s (#%d)", verb, e.Kind.Tag, e.ID, e.Title(), issue.Number)
	return res, nil
}

// parentIssue resolves parent numbers from the sync map, falling back to
// the parent's own github_issue field.
func (u *Uploader) parentIssue(kind *entity.Kind, m syncmap.Map) issuefmt.Parents {
	return func(parentID string) (int, bool) {
		if n := m[parentID]; n > 0 {
			return n, true
		}
		parentKind, err := entity.Lookup(kind.ParentKind)
		if err != nil {
			return 0, false
		}
		p, err := u.store.Show(parentKind, parentID)
		if err != nil {
			return 0, false
		}
		return p.GitHubIssue()
	}
}
