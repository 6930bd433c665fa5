package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func newTestTools(t *testing.T) *tools {
	t.Helper()
	return &tools{store: store.New(t.TempDir(), store.WithAuthor("tester"))}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty result")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func seed(t *testing.T, tl *tools) (epic, task *entity.Entity) {
	t.Helper()
	var err error
	epic, err = tl.store.Create(entity.Epic, store.CreateInput{Title: "Cart"})
	if err != nil {
		t.Fatalf("create epic: %v", err)
	}
	task, err = tl.store.Create(entity.Task, store.CreateInput{Title: "Cart API", Parent: epic.ID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return epic, task
}

func TestListEntities(t *testing.T) {
	tl := newTestTools(t)
	epic, task := seed(t, tl)

	res, _, err := tl.ListEntities(context.Background(), nil, ListParams{Kind: "tasks", Parent: epic.ID})
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	var got []entitySummary
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != task.ID || got[0].Parent != epic.ID {
		t.Errorf("ListEntities() = %+v, want [%s]", got, task.ID)
	}

	res, _, err = tl.ListEntities(context.Background(), nil, ListParams{Kind: "task", Status: "completed"})
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if text := resultText(t, res); strings.TrimSpace(text) != "[]" {
		t.Errorf("filtered list = %s, want []", text)
	}

	if _, _, err := tl.ListEntities(context.Background(), nil, ListParams{Kind: "story"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestShowEntity(t *testing.T) {
	tl := newTestTools(t)
	_, task := seed(t, tl)

	res, _, err := tl.ShowEntity(context.Background(), nil, ShowParams{Kind: "task", ID: task.ID})
	if err != nil {
		t.Fatalf("ShowEntity() error = %v", err)
	}
	var got entityDetail
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Fields[entity.FieldStatus] != "pending" {
		t.Errorf("status = %q, want pending", got.Fields[entity.FieldStatus])
	}
	if !strings.Contains(got.Body, "Cart API") {
		t.Errorf("body missing title: %q", got.Body)
	}

	res, _, err = tl.ShowEntity(context.Background(), nil, ShowParams{Kind: "task", ID: "task-009-9"})
	if err != nil {
		t.Fatalf("ShowEntity() error = %v", err)
	}
	if !res.IsError {
		t.Error("missing entity should be an error result")
	}

	if _, _, err := tl.ShowEntity(context.Background(), nil, ShowParams{Kind: "task"}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestUpdateEntity(t *testing.T) {
	tl := newTestTools(t)
	epic, task := seed(t, tl)

	deps := frontmatter.NewFields()
	deps.SetList(entity.FieldDependencies, []string{task.ID})
	blocked, err := tl.store.Create(entity.Task, store.CreateInput{Title: "Cart UI", Parent: epic.ID, Fields: deps})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, _, err := tl.UpdateEntity(context.Background(), nil, UpdateParams{
		Kind:              "task",
		ID:                blocked.ID,
		Fields:            map[string]string{"status": "completed"},
		CheckDependencies: true,
	})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "unmet dependencies") {
		t.Errorf("expected dependency error result, got %s", resultText(t, res))
	}

	res, _, err = tl.UpdateEntity(context.Background(), nil, UpdateParams{
		Kind:   "task",
		ID:     task.ID,
		Fields: map[string]string{"status": "completed", "estimated_hours": "3"},
		Body:   "Done.",
	})
	if err != nil || res.IsError {
		t.Fatalf("UpdateEntity() = %v, %v", resultText(t, res), err)
	}

	got, err := tl.store.Show(entity.Task, task.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if got.Status() != "completed" || got.Fields.Get(entity.FieldEstimatedHours) != "3" {
		t.Errorf("fields not applied: %v", got.Fields.Map())
	}
	if got.Body != "\nDone." {
		t.Errorf("body = %q, want %q", got.Body, "\nDone.")
	}

	e, err := tl.store.Show(entity.Epic, epic.ID)
	if err != nil {
		t.Fatalf("show epic: %v", err)
	}
	if e.Fields.Get(entity.FieldTasksCompleted) != "1" {
		t.Errorf("tasks_completed = %s, want 1", e.Fields.Get(entity.FieldTasksCompleted))
	}

	if _, _, err := tl.UpdateEntity(context.Background(), nil, UpdateParams{Kind: "task", ID: task.ID}); err == nil {
		t.Error("expected error when nothing to update")
	}
}

func TestUpdateEntity_RejectsMultilineValue(t *testing.T) {
	tl := newTestTools(t)
	_, task := seed(t, tl)

	res, _, err := tl.UpdateEntity(context.Background(), nil, UpdateParams{
		Kind:   "task",
		ID:     task.ID,
		Fields: map[string]string{"title": "Auth\nv2"},
	})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "line breaks") {
		t.Errorf("expected field error result, got %s", resultText(t, res))
	}

	got, err := tl.store.Show(entity.Task, task.ID)
	if err != nil {
		t.Fatalf("entity no longer readable: %v", err)
	}
	if got.Title() != task.Title() {
		t.Errorf("title = %q, want %q", got.Title(), task.Title())
	}
}

func TestParsePRD(t *testing.T) {
	tl := newTestTools(t)
	prd, err := tl.store.Create(entity.PRD, store.CreateInput{
		Title: "Checkout",
		Body:  "\n## Overview\nFast checkout.\n\n## User Stories\n- As a shopper, I want to pay.\n",
	})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}

	res, _, err := tl.ParsePRD(context.Background(), nil, ParsePRDParams{PRDID: prd.ID})
	if err != nil || res.IsError {
		t.Fatalf("ParsePRD() = %v, %v", res, err)
	}
	var got struct {
		Epic    entitySummary `json:"epic"`
		Missing []string      `json:"missing"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Epic.Parent != prd.ID {
		t.Errorf("epic parent = %q, want %s", got.Epic.Parent, prd.ID)
	}
	want := []string{"goals", "requirements", "timeline"}
	sort.Strings(got.Missing)
	if strings.Join(got.Missing, ",") != strings.Join(want, ",") {
		t.Errorf("missing = %v, want %v", got.Missing, want)
	}

	if _, err := os.Stat(filepath.Join(tl.store.Root(), "epics", got.Epic.ID, "epic.md")); err != nil {
		t.Errorf("epic file not written: %v", err)
	}

	res, _, err = tl.ParsePRD(context.Background(), nil, ParsePRDParams{PRDID: "prd-404"})
	if err != nil || !res.IsError {
		t.Errorf("missing PRD should be an error result, got %v, %v", res, err)
	}
}

func TestServerRegistersTools(t *testing.T) {
	ctx := context.Background()
	server := newServer(store.New(t.TempDir()))

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	list, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := "list_entities,parse_prd,show_entity,update_entity"
	if strings.Join(names, ",") != want {
		t.Errorf("tools = %v, want %s", names, want)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "list_entities",
		Arguments: map[string]any{"kind": "prd"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Errorf("list_entities returned error result")
	}
}
