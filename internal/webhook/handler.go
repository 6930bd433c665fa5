// Package webhook applies GitHub "issues" webhook deliveries to the local
// store.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cexll/pmsync/internal/dispatcher"
	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/github"
)

// Applier downloads a batch of issues into the store.
type Applier interface {
	DownloadIssues(ctx context.Context, issues []*github.Issue, opts ghsync.Options) (*ghsync.Report, error)
}

// Enqueuer accepts deliveries for background processing.
type Enqueuer interface {
	Enqueue(job *dispatcher.Job) error
}

// handledActions are the issue actions that can change a mirrored entity.
var handledActions = map[string]bool{
	"opened":    true,
	"edited":    true,
	"reopened":  true,
	"closed":    true,
	"labeled":   true,
	"unlabeled": true,
}

// Handler handles GitHub webhook events.
type Handler struct {
	webhookSecret string
	repo          string
	applier       Applier
	opts          ghsync.Options
	queue         Enqueuer
	deliveries    *deliveryDeduper
}

// NewHandler creates a webhook handler. When repo is set, deliveries for
// other repositories are ignored.
func NewHandler(webhookSecret, repo string, applier Applier, opts ghsync.Options) *Handler {
	return &Handler{
		webhookSecret: webhookSecret,
		repo:          repo,
		applier:       applier,
		opts:          opts,
		deliveries:    newDeliveryDeduper(12 * time.Hour),
	}
}

// WithQueue makes the handler acknowledge deliveries with 202 and apply
// them through q instead of inside the request.
func (h *Handler) WithQueue(q Enqueuer) *Handler {
	h.queue = q
	return h
}

// Handle verifies and applies one delivery.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Webhook] Error reading payload: %v", err)
		http.Error(w, "Error reading payload", http.StatusBadRequest)
		return
	}

	if err := Verify(r.Header.Get("X-Hub-Signature-256"), payload, h.webhookSecret); err != nil {
		log.Printf("[Webhook] Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	switch eventType {
	case "ping":
		respond(w, http.StatusOK, "pong")
		return
	case "issues":
	default:
		log.Printf("[Webhook] Ignoring unsupported event type: %s", eventType)
		respond(w, http.StatusOK, "Event ignored")
		return
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	if !h.deliveries.markIfNew(delivery) {
		log.Printf("[Webhook] Duplicate delivery %s ignored", delivery)
		respond(w, http.StatusOK, "Duplicate delivery")
		return
	}

	var event IssuesEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Webhook] Error parsing issues event: %v", err)
		h.deliveries.forget(delivery)
		http.Error(w, "Error parsing event", http.StatusBadRequest)
		return
	}

	if reason := h.skipReason(&event); reason != "" {
		log.Printf("[Webhook] Ignoring issue #%d: %s", event.Issue.Number, reason)
		respond(w, http.StatusOK, "Event ignored")
		return
	}

	issue := event.Issue.toIssue()
	if ghsync.KindOf(issue) == nil {
		log.Printf("[Webhook] Ignoring issue #%d: not a PRD, Epic or Task", issue.Number)
		respond(w, http.StatusOK, "Event ignored")
		return
	}

	if h.queue != nil {
		h.enqueue(w, delivery, event.Action, issue)
		return
	}

	report, err := h.applier.DownloadIssues(r.Context(), []*github.Issue{issue}, h.opts)
	if err != nil {
		h.deliveries.forget(delivery)
		if errors.Is(err, ghsync.ErrSyncInProgress) {
			log.Printf("[Webhook] Sync in progress, asking GitHub to retry #%d", issue.Number)
			w.Header().Set("Retry-After", "30")
			http.Error(w, "Sync in progress", http.StatusServiceUnavailable)
			return
		}
		log.Printf("[Webhook] Failed to apply issue #%d: %v", issue.Number, err)
		http.Error(w, "Failed to apply issue", http.StatusInternalServerError)
		return
	}

	log.Printf("[Webhook] Applied %s issue #%d: %s", event.Action, issue.Number, report.Summary())
	respond(w, http.StatusOK, strings.Join(report.Lines(), "\n"))
}

func (h *Handler) enqueue(w http.ResponseWriter, delivery, action string, issue *github.Issue) {
	if err := h.queue.Enqueue(&dispatcher.Job{Delivery: delivery, Issue: issue}); err != nil {
		h.deliveries.forget(delivery)
		log.Printf("[Webhook] Failed to queue issue #%d: %v", issue.Number, err)
		w.Header().Set("Retry-After", "30")
		http.Error(w, "Queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Printf("[Webhook] Queued %s issue #%d (delivery %s)", action, issue.Number, delivery)
	respond(w, http.StatusAccepted, "Queued")
}

func (h *Handler) skipReason(event *IssuesEvent) string {
	if !handledActions[event.Action] {
		return fmt.Sprintf("action %q", event.Action)
	}
	if event.Issue.PullRequest != nil {
		return "pull request"
	}
	if h.repo != "" && !strings.EqualFold(h.repo, event.Repository.FullName) {
		return fmt.Sprintf("repository %s", event.Repository.FullName)
	}
	return ""
}

func (i Issue) toIssue() *github.Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.Name)
	}
	return &github.Issue{
		Number:    i.Number,
		Title:     i.Title,
		Body:      i.Body,
		Labels:    labels,
		State:     i.State,
		URL:       i.HTMLURL,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func respond(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
