package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// CLITracker implements IssueTracker by shelling out to the gh CLI. It
// suits machines where gh is already authenticated and no token is
// configured.
type CLITracker struct {
	runner CommandRunner
	repo   string
	retry  RetryPolicy
}

// NewCLITracker creates a gh-backed tracker for repo. A non-empty token
// is passed to gh as GH_TOKEN.
func NewCLITracker(repo, token string) (*CLITracker, error) {
	runner := &RealCommandRunner{}
	if token != "" {
		runner.Env = []string{"GH_TOKEN=" + token}
	}
	return NewCLITrackerWithRunner(runner, repo)
}

// NewCLITrackerWithRunner creates a tracker using a custom runner.
func NewCLITrackerWithRunner(runner CommandRunner, repo string) (*CLITracker, error) {
	if _, _, err := ParseRepo(repo); err != nil {
		return nil, err
	}
	return &CLITracker{runner: runner, repo: repo, retry: DefaultRetryPolicy()}, nil
}

// ghIssue mirrors the REST issue payload gh api prints.
type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *json.RawMessage `json:"pull_request"`
}

func (g *ghIssue) toIssue() *Issue {
	labels := make([]string, 0, len(g.Labels))
	for _, l := range g.Labels {
		labels = append(labels, l.Name)
	}
	return &Issue{
		Number:    g.Number,
		Title:     g.Title,
		Body:      g.Body,
		Labels:    labels,
		State:     g.State,
		URL:       g.HTMLURL,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func (c *CLITracker) api(ctx context.Context, args ...string) ([]byte, error) {
	return c.apiWith(ctx, retryWithBackoff, args...)
}

type retryFunc func(context.Context, RetryPolicy, func() error) error

func (c *CLITracker) apiWith(ctx context.Context, retry retryFunc, args ...string) ([]byte, error) {
	var output []byte
	err := retry(ctx, c.retry, func() error {
		out, err := c.runner.Run("gh", append([]string{"api"}, args...)...)
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
				return fmt.Errorf("gh api failed: %w\nOutput: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
			}
			return fmt.Errorf("gh api failed: %w\nOutput: %s", err, string(out))
		}
		output = out
		return nil
	})
	return output, err
}

func issueFields(req IssueRequest) []string {
	args := []string{
		"-f", "title=" + req.Title,
		"-f", "body=" + req.Body,
	}
	for _, l := range req.Labels {
		args = append(args, "-f", "labels[]="+l)
	}
	return args
}

func decodeIssue(output []byte) (*Issue, error) {
	var g ghIssue
	if err := json.Unmarshal(output, &g); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}
	return g.toIssue(), nil
}

// CreateIssue opens a new issue.
func (c *CLITracker) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	args := append([]string{fmt.Sprintf("repos/%s/issues", c.repo), "--method", "POST"}, issueFields(req)...)
	out, err := c.apiWith(ctx, retryCreate, args...)
	if err != nil {
		return nil, fmt.Errorf("create issue %q: %w", req.Title, err)
	}
	return decodeIssue(out)
}

// UpdateIssue replaces the title, body and labels of an issue.
func (c *CLITracker) UpdateIssue(ctx context.Context, number int, req IssueRequest) (*Issue, error) {
	args := append([]string{fmt.Sprintf("repos/%s/issues/%d", c.repo, number), "--method", "PATCH"}, issueFields(req)...)
	out, err := c.api(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("update issue #%d: %w", number, err)
	}
	return decodeIssue(out)
}

// GetIssue fetches one issue.
func (c *CLITracker) GetIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := c.api(ctx, fmt.Sprintf("repos/%s/issues/%d", c.repo, number))
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return decodeIssue(out)
}

// ListIssues pages through every issue carrying label. gh prints one
// JSON array per page back to back.
func (c *CLITracker) ListIssues(ctx context.Context, label string) ([]*Issue, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("labels", label)
	q.Set("per_page", fmt.Sprint(listPageSize))
	endpoint := fmt.Sprintf("repos/%s/issues?%s", c.repo, q.Encode())

	out, err := c.api(ctx, endpoint, "--paginate")
	if err != nil {
		return nil, fmt.Errorf("list %s issues: %w", label, err)
	}

	var issues []*Issue
	dec := json.NewDecoder(bytes.NewReader(out))
	for {
		var page []ghIssue
		if err := dec.Decode(&page); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse issue list: %w", err)
		}
		for i := range page {
			if page[i].PullRequest != nil {
				continue
			}
			issues = append(issues, page[i].toIssue())
		}
	}
	return issues, nil
}

// EnsureLabels creates labels with gh label create --force, which is a
// no-op for labels that already exist.
func (c *CLITracker) EnsureLabels(ctx context.Context, labels []Label) error {
	for _, l := range labels {
		err := retryWithBackoff(ctx, c.retry, func() error {
			out, err := c.runner.Run("gh", "label", "create", l.Name,
				"--repo", c.repo,
				"--force",
				"--color", l.Color,
				"--description", l.Description)
			if err != nil {
				return fmt.Errorf("gh label create failed: %w\nOutput: %s", err, string(out))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("ensure label %s: %w", l.Name, err)
		}
	}
	return nil
}
