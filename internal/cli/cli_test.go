package cli

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cexll/pmsync/internal/config"
	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/github"
	"github.com/cexll/pmsync/internal/github/githubtest"
	"github.com/cexll/pmsync/internal/store"
	"github.com/cexll/pmsync/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*App
	root   string
	server *githubtest.Server
	out    *bytes.Buffer
	errOut *bytes.Buffer

	servedAddr    string
	servedHandler http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	ta := &testApp{
		root:   t.TempDir(),
		server: githubtest.NewServer(t),
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
	}
	ta.App = &App{
		Out: ta.out,
		Err: ta.errOut,
		LoadConfig: func() (*config.Config, error) {
			return &config.Config{
				Root:          ta.root,
				Author:        "tester",
				Repo:          githubtest.Repo,
				Backend:       github.BackendAPI,
				GitHubToken:   "token",
				ConflictMode:  ghsync.ModeMerge,
				WatchDebounce: 50 * time.Millisecond,
				Port:          8080,
				WebhookSecret: "secret",
			}, nil
		},
		NewTracker: func(cfg github.TrackerConfig) (github.IssueTracker, error) {
			return github.NewRESTTracker(ta.server.Client(), cfg.Repo,
				github.WithRateLimit(0),
				github.WithRetryPolicy(github.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}))
		},
		Serve: func(addr string, h http.Handler) error {
			ta.servedAddr = addr
			ta.servedHandler = h
			return nil
		},
	}
	return ta
}

// run executes one command line and returns its stdout.
func (ta *testApp) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ta.out.Reset()
	ta.errOut.Reset()
	cmd := ta.Command()
	cmd.SetArgs(append([]string{"--quiet", "--no-color"}, args...))
	err := cmd.Execute()
	return ta.out.String(), err
}

func (ta *testApp) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := ta.run(t, args...)
	require.NoError(t, err, "pm %s\nstdout: %s\nstderr: %s", strings.Join(args, " "), out, ta.errOut.String())
	return out
}

func (ta *testApp) store() *store.Store {
	return store.New(ta.root)
}

func TestCreateListShow(t *testing.T) {
	ta := newTestApp(t)

	out := ta.mustRun(t, "prd", "create", "Checkout", "flow", "--priority", "high")
	assert.Contains(t, out, "Created prd prd-001: Checkout flow")

	out = ta.mustRun(t, "epic", "create", "Cart", "--prd", "prd-001")
	assert.Contains(t, out, "epic-001")

	ta.mustRun(t, "task", "create", "Cart API", "--epic", "epic-001")
	ta.mustRun(t, "task", "create", "Cart UI", "--epic", "epic-001", "--depends-on", "task-001-1")

	out = ta.mustRun(t, "task", "list", "--epic", "epic-001")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "task-001-2"), "newest first: %q", lines[0])

	out = ta.mustRun(t, "epic", "list")
	assert.Contains(t, out, "0/2 tasks (0%)")

	out = ta.mustRun(t, "prd", "show", "prd-001")
	assert.Contains(t, out, "priority: high")
	assert.Contains(t, out, "author: tester")
	assert.True(t, strings.HasPrefix(out, "---\n"))

	out = ta.mustRun(t, "task", "show", "task-001-2", "--json")
	var got entityJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "task", got.Kind)
	assert.Equal(t, "task-001-1", got.Fields[entity.FieldDependencies])
	assert.NotEmpty(t, got.Body)
}

func TestCreate_Validation(t *testing.T) {
	ta := newTestApp(t)

	_, err := ta.run(t, "task", "create", "Orphan")
	assert.Error(t, err, "--epic is required")

	_, err = ta.run(t, "prd", "create", "X", "--priority", "urgent")
	assert.Error(t, err)

	_, err = ta.run(t, "prd", "create", "X", "--set", "novalue")
	assert.Error(t, err)

	_, err = ta.run(t, "epic", "create", "Lost", "--prd", "prd-404")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestList_StatusFilterAndJSON(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "prd", "create", "A")
	ta.mustRun(t, "prd", "create", "B")
	ta.mustRun(t, "prd", "update", "prd-001", "--status", "approved")

	out := ta.mustRun(t, "prd", "list", "--status", "approved", "--json")
	var items []entityJSON
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "prd-001", items[0].ID)

	out = ta.mustRun(t, "prd", "list", "--status", "completed")
	assert.Contains(t, out, "No prds found")
}

func TestUpdate(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "epic", "create", "E")
	ta.mustRun(t, "task", "create", "A", "--epic", "epic-001")
	ta.mustRun(t, "task", "create", "B", "--epic", "epic-001", "--set", "dependencies=[task-001-1]")

	_, err := ta.run(t, "task", "update", "task-001-2", "--status", "completed", "--check-deps")
	require.Error(t, err)
	assert.True(t, store.IsDependencyNotMet(err))
	assert.Contains(t, ta.errOut.String(), "task-001-1 (pending)")

	out := ta.mustRun(t, "task", "update", "task-001-1", "--status", "completed", "--title", "A done")
	assert.Contains(t, out, "Updated task task-001-1 (completed)")

	ta.mustRun(t, "task", "update", "task-001-2", "--status", "completed", "--check-deps")

	epic, err := ta.store().Show(entity.Epic, "epic-001")
	require.NoError(t, err)
	assert.Equal(t, "2", epic.Fields.Get(entity.FieldTasksCompleted))

	task, err := ta.store().Show(entity.Task, "task-001-1")
	require.NoError(t, err)
	assert.Equal(t, "A done", task.Title())

	bodyFile := filepath.Join(t.TempDir(), "body.md")
	require.NoError(t, os.WriteFile(bodyFile, []byte("New body\n"), 0o644))
	ta.mustRun(t, "task", "update", "task-001-1", "--body-file", bodyFile)
	task, err = ta.store().Show(entity.Task, "task-001-1")
	require.NoError(t, err)
	assert.Equal(t, "\nNew body\n", task.Body)

	_, err = ta.run(t, "task", "update", "task-001-1")
	assert.EqualError(t, err, "nothing to update")
}

func TestEpicRecount(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "epic", "create", "E")
	ta.mustRun(t, "task", "create", "A", "--epic", "epic-001")

	// A task file written behind the store's back.
	extra := filepath.Join(ta.root, "epics", "epic-001", "task-001-9.md")
	require.NoError(t, os.WriteFile(extra, []byte("---\nid: task-001-9\ntitle: X\nstatus: completed\nepic_id: epic-001\n---\n"), 0o644))

	out := ta.mustRun(t, "epic", "recount", "epic-001")
	assert.Contains(t, out, "1/2 tasks (50%)")
}

const samplePRD = `
# Checkout

## Overview
One-page checkout.

## User Stories
- As a shopper, I want to pay quickly.
- As an admin, I want refunds.

## Out of Scope
Gift cards.
`

func TestPRDParse(t *testing.T) {
	ta := newTestApp(t)
	bodyFile := filepath.Join(t.TempDir(), "prd.md")
	require.NoError(t, os.WriteFile(bodyFile, []byte(samplePRD), 0o644))
	ta.mustRun(t, "prd", "create", "Checkout", "--priority", "critical", "--body-file", bodyFile)

	out := ta.mustRun(t, "prd", "parse", "prd-001")
	assert.Contains(t, out, "Created epic epic-001 from prd-001")
	assert.Contains(t, out, "user stories: 2")
	assert.Contains(t, out, `unrecognised section "Out of Scope"`)

	epic, err := ta.store().Show(entity.Epic, "epic-001")
	require.NoError(t, err)
	assert.Equal(t, "prd-001", epic.ParentID())
	assert.Equal(t, "critical", epic.Priority())
	assert.NotContains(t, epic.Body, "Gift cards")

	_, err = ta.run(t, "prd", "parse", "prd-404")
	assert.True(t, store.IsNotFound(err))
}

func TestSyncUpAndDown(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "prd", "create", "Checkout")
	ta.mustRun(t, "epic", "create", "Cart", "--prd", "prd-001")
	ta.mustRun(t, "task", "create", "Cart API", "--epic", "epic-001")

	out := ta.mustRun(t, "sync", "up", "--dry-run")
	assert.Contains(t, out, "[DRY-RUN] would-create PRD prd-001")
	assert.Equal(t, 0, ta.server.IssueCount())

	out = ta.mustRun(t, "sync", "up", "--ensure-labels")
	assert.Contains(t, out, "3 created")
	assert.Equal(t, 3, ta.server.IssueCount())
	assert.True(t, ta.server.HasLabel("prd"))

	out = ta.mustRun(t, "sync", "up")
	assert.Contains(t, out, "3 updated")

	out = ta.mustRun(t, "sync", "down", "--kind", "task", "--json")
	var report ghsync.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "download", report.Direction)
	require.Len(t, report.Results, 1)
	assert.Equal(t, ghsync.ActionUnchanged, report.Results[0].Action)

	_, err := ta.run(t, "sync", "down", "--mode", "sideways")
	assert.Error(t, err)
	_, err = ta.run(t, "sync", "up", "--kind", "story")
	assert.Error(t, err)
}

func TestSyncUp_FailureExitsNonZero(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "prd", "create", "A")
	ta.mustRun(t, "prd", "create", "B")
	ta.server.FailNext(http.StatusUnprocessableEntity)

	out, err := ta.run(t, "sync", "up", "--kind", "prd", "--keep-going")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 entity failed")
	assert.Contains(t, out, "failed PRD")
	assert.Equal(t, 1, ta.server.IssueCount())
}

func TestSync_RequiresRepo(t *testing.T) {
	ta := newTestApp(t)
	load := ta.LoadConfig
	ta.LoadConfig = func() (*config.Config, error) {
		cfg, err := load()
		cfg.Repo = ""
		return cfg, err
	}
	_, err := ta.run(t, "sync", "up")
	assert.EqualError(t, err, "GITHUB_REPO is required")
}

func TestSyncUp_DryRunNeedsNoCredentials(t *testing.T) {
	ta := newTestApp(t)
	load := ta.LoadConfig
	ta.LoadConfig = func() (*config.Config, error) {
		cfg, err := load()
		cfg.Repo = ""
		cfg.GitHubToken = ""
		return cfg, err
	}
	ta.mustRun(t, "prd", "create", "Checkout")

	out := ta.mustRun(t, "sync", "up", "--dry-run")
	assert.Contains(t, out, "would-create")
	assert.Equal(t, 0, ta.server.Calls(http.MethodPost)+ta.server.Calls(http.MethodGet))

	_, err := ta.run(t, "sync", "up")
	assert.EqualError(t, err, "GITHUB_REPO is required")
}

func TestServe(t *testing.T) {
	ta := newTestApp(t)
	ta.mustRun(t, "prd", "create", "Checkout")

	ta.mustRun(t, "serve", "--port", "9090")
	assert.Equal(t, ":9090", ta.servedAddr)
	require.NotNil(t, ta.servedHandler)

	rec := httptest.NewRecorder()
	ta.servedHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ta.servedHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prd/prd-001", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Checkout")

	// Unsigned deliveries are rejected before anything is applied.
	rec = httptest.NewRecorder()
	ta.servedHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServe_WebhookQueuesDelivery(t *testing.T) {
	ta := newTestApp(t)

	payload, err := json.Marshal(webhook.IssuesEvent{
		Action: "opened",
		Issue: webhook.Issue{
			Number:    3,
			Title:     "[PRD] From GitHub",
			Body:      "**Status:** draft\n\n---\n\nhello",
			State:     "open",
			Labels:    []webhook.Label{{Name: "prd"}},
			UpdatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Repository: webhook.Repository{FullName: githubtest.Repo},
	})
	require.NoError(t, err)

	// Deliveries are only applied while the server runs.
	ta.Serve = func(addr string, h http.Handler) error {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
		req.Header.Set("X-GitHub-Event", "issues")
		req.Header.Set("X-GitHub-Delivery", "delivery-1")
		req.Header.Set("X-Hub-Signature-256", "sha256="+webhook.Sign(payload, "secret"))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		assert.Eventually(t, func() bool {
			prd, err := ta.store().Show(entity.PRD, "prd-001")
			return err == nil && prd.Title() == "From GitHub"
		}, 2*time.Second, 10*time.Millisecond)
		return nil
	}

	ta.mustRun(t, "serve")
}

func TestRootOverride(t *testing.T) {
	ta := newTestApp(t)
	other := t.TempDir()
	ta.mustRun(t, "--root", other, "prd", "create", "Elsewhere")

	_, err := os.Stat(filepath.Join(other, "prds", "prd-001.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ta.root, "prds", "prd-001.md"))
	assert.True(t, os.IsNotExist(err))
}
