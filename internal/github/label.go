package github

import (
	"context"
	"log"
)

// Label describes a repository label.
type Label struct {
	Name        string
	Color       string
	Description string
}

// LabelEnsurer creates missing repository labels.
type LabelEnsurer interface {
	EnsureLabels(ctx context.Context, labels []Label) error
}

// DefaultLabels are the kind and priority labels the sync engine applies.
func DefaultLabels() []Label {
	return []Label{
		{Name: "prd", Color: "0366d6", Description: "Product requirements document"},
		{Name: "epic", Color: "5319e7", Description: "Epic"},
		{Name: "task", Color: "0e8a16", Description: "Task"},
		{Name: "critical", Color: "b60205", Description: "Priority: critical"},
		{Name: "high", Color: "d93f0b", Description: "Priority: high"},
		{Name: "medium", Color: "fbca04", Description: "Priority: medium"},
		{Name: "low", Color: "c5def5", Description: "Priority: low"},
	}
}

// EnsureDefaultLabels creates the kind and priority labels when tracker
// supports label management. Trackers without it are left alone.
func EnsureDefaultLabels(ctx context.Context, tracker IssueTracker) error {
	ensurer, ok := tracker.(LabelEnsurer)
	if !ok {
		log.Printf("[Labels] Tracker %T cannot manage labels, skipping", tracker)
		return nil
	}
	return ensurer.EnsureLabels(ctx, DefaultLabels())
}
