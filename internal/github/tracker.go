// Package github talks to GitHub Issues on behalf of the sync engine,
// either through the REST API (go-github) or through the gh CLI.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Issue is the subset of a GitHub issue the sync engine reads.
type Issue struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	State     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLabel reports whether the issue carries label (case-insensitive).
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// IssueRequest carries the writable fields of an issue.
type IssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// IssueTracker is the remote side of the sync.
type IssueTracker interface {
	CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, req IssueRequest) (*Issue, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
	// ListIssues returns every issue (open and closed) carrying label.
	// Pull requests are excluded.
	ListIssues(ctx context.Context, label string) ([]*Issue, error)
}

// ParseRepo splits "owner/name".
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format: %s (expected owner/repo)", repo)
	}
	return parts[0], parts[1], nil
}
