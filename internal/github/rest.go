package github

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/time/rate"
)

const listPageSize = 100

// RESTTracker implements IssueTracker on the GitHub REST API. Every call
// waits on a shared rate limiter and is retried with backoff.
type RESTTracker struct {
	client  *gh.Client
	owner   string
	repo    string
	limiter *rate.Limiter
	retry   RetryPolicy
}

// RESTOption configures a RESTTracker.
type RESTOption func(*RESTTracker)

// WithRateLimit caps outbound requests per second. Zero or negative
// disables limiting.
func WithRateLimit(perSecond float64) RESTOption {
	return func(t *RESTTracker) {
		if perSecond <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) RESTOption {
	return func(t *RESTTracker) { t.retry = p }
}

// NewRESTTracker wraps client for repo ("owner/name").
func NewRESTTracker(client *gh.Client, repo string, opts ...RESTOption) (*RESTTracker, error) {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	t := &RESTTracker{
		client:  client,
		owner:   owner,
		repo:    name,
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *RESTTracker) call(ctx context.Context, fn func() error) error {
	return retryWithBackoff(ctx, t.retry, t.limited(ctx, fn))
}

func (t *RESTTracker) callCreate(ctx context.Context, fn func() error) error {
	return retryCreate(ctx, t.retry, t.limited(ctx, fn))
}

func (t *RESTTracker) limited(ctx context.Context, fn func() error) func() error {
	return func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	}
}

func toRequest(req IssueRequest) *gh.IssueRequest {
	labels := append([]string(nil), req.Labels...)
	return &gh.IssueRequest{
		Title:  gh.String(req.Title),
		Body:   gh.String(req.Body),
		Labels: &labels,
	}
}

// CreateIssue opens a new issue.
func (t *RESTTracker) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	var out *gh.Issue
	err := t.callCreate(ctx, func() error {
		issue, _, err := t.client.Issues.Create(ctx, t.owner, t.repo, toRequest(req))
		if err != nil {
			return err
		}
		out = issue
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create issue %q: %w", req.Title, err)
	}
	return fromGitHub(out), nil
}

// UpdateIssue replaces the title, body and labels of an issue.
func (t *RESTTracker) UpdateIssue(ctx context.Context, number int, req IssueRequest) (*Issue, error) {
	var out *gh.Issue
	err := t.call(ctx, func() error {
		issue, _, err := t.client.Issues.Edit(ctx, t.owner, t.repo, number, toRequest(req))
		if err != nil {
			return err
		}
		out = issue
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update issue #%d: %w", number, err)
	}
	return fromGitHub(out), nil
}

// GetIssue fetches one issue.
func (t *RESTTracker) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var out *gh.Issue
	err := t.call(ctx, func() error {
		issue, _, err := t.client.Issues.Get(ctx, t.owner, t.repo, number)
		if err != nil {
			return err
		}
		out = issue
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return fromGitHub(out), nil
}

// ListIssues pages through every issue carrying label.
func (t *RESTTracker) ListIssues(ctx context.Context, label string) ([]*Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Labels:      []string{label},
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}

	var out []*Issue
	for {
		var (
			page []*gh.Issue
			resp *gh.Response
		)
		err := t.call(ctx, func() error {
			var err error
			page, resp, err = t.client.Issues.ListByRepo(ctx, t.owner, t.repo, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list %s issues: %w", label, err)
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, fromGitHub(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// EnsureLabels creates any label in labels the repository does not have.
func (t *RESTTracker) EnsureLabels(ctx context.Context, labels []Label) error {
	for _, l := range labels {
		err := t.call(ctx, func() error {
			_, _, err := t.client.Issues.GetLabel(ctx, t.owner, t.repo, l.Name)
			return err
		})
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("get label %s: %w", l.Name, err)
		}

		err = t.call(ctx, func() error {
			_, _, err := t.client.Issues.CreateLabel(ctx, t.owner, t.repo, &gh.Label{
				Name:        gh.String(l.Name),
				Color:       gh.String(l.Color),
				Description: gh.String(l.Description),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("create label %s: %w", l.Name, err)
		}
		log.Printf("[Labels] Created label %s in %s/%s", l.Name, t.owner, t.repo)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *gh.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound
}

func fromGitHub(issue *gh.Issue) *Issue {
	if issue == nil {
		return nil
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		Labels:    labels,
		State:     issue.GetState(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}
