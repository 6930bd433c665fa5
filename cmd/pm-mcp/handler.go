package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/prdparse"
	"github.com/cexll/pmsync/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type tools struct {
	store *store.Store
}

// ListParams are the list_entities arguments.
type ListParams struct {
	Kind   string `json:"kind" jsonschema:"Entity kind: prd, epic or task"`
	Status string `json:"status,omitempty" jsonschema:"Only return entities with this status"`
	Parent string `json:"parent,omitempty" jsonschema:"Only return children of this PRD or epic ID"`
}

// ShowParams are the show_entity arguments.
type ShowParams struct {
	Kind string `json:"kind" jsonschema:"Entity kind: prd, epic or task"`
	ID   string `json:"id" jsonschema:"Entity ID, e.g. task-001-2"`
}

// UpdateParams are the update_entity arguments.
type UpdateParams struct {
	Kind              string            `json:"kind" jsonschema:"Entity kind: prd, epic or task"`
	ID                string            `json:"id" jsonschema:"Entity ID"`
	Fields            map[string]string `json:"fields,omitempty" jsonschema:"Frontmatter fields to set, e.g. {\"status\": \"completed\"}"`
	Body              string            `json:"body,omitempty" jsonschema:"Replacement Markdown body; omitted keeps the current body"`
	CheckDependencies bool              `json:"check_dependencies,omitempty" jsonschema:"Refuse to complete a task whose dependencies are not completed"`
}

// ParsePRDParams are the parse_prd arguments.
type ParsePRDParams struct {
	PRDID string `json:"prd_id" jsonschema:"The PRD to generate an epic from"`
}

type entitySummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Parent   string `json:"parent,omitempty"`
	Issue    int    `json:"github_issue,omitempty"`
}

type entityDetail struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id"`
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
	Body   string            `json:"body"`
}

func summarize(e *entity.Entity) entitySummary {
	s := entitySummary{
		ID:       e.ID,
		Title:    e.Title(),
		Status:   e.Status(),
		Priority: e.Priority(),
		Parent:   e.ParentID(),
	}
	if n, ok := e.GitHubIssue(); ok {
		s.Issue = n
	}
	return s
}

func detail(e *entity.Entity) entityDetail {
	return entityDetail{Kind: e.Kind.Name, ID: e.ID, Path: e.Path, Fields: e.Fields.Map(), Body: e.Body}
}

// ListEntities handles the list_entities tool call.
func (t *tools) ListEntities(ctx context.Context, req *mcp.CallToolRequest, params ListParams) (*mcp.CallToolResult, any, error) {
	kind, err := entity.Lookup(params.Kind)
	if err != nil {
		return nil, nil, err
	}
	filter := store.Filter{Parent: params.Parent}
	if params.Status != "" {
		filter.Equals = map[string]string{entity.FieldStatus: params.Status}
	}
	items, err := t.store.List(kind, filter)
	if err != nil {
		return errorResult(err), nil, nil
	}
	out := make([]entitySummary, 0, len(items))
	for _, e := range items {
		out = append(out, summarize(e))
	}
	return jsonResult(out)
}

// ShowEntity handles the show_entity tool call.
func (t *tools) ShowEntity(ctx context.Context, req *mcp.CallToolRequest, params ShowParams) (*mcp.CallToolResult, any, error) {
	kind, err := entity.Lookup(params.Kind)
	if err != nil {
		return nil, nil, err
	}
	if params.ID == "" {
		return nil, nil, fmt.Errorf("id parameter is required")
	}
	e, err := t.store.Show(kind, params.ID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(detail(e))
}

// UpdateEntity handles the update_entity tool call.
func (t *tools) UpdateEntity(ctx context.Context, req *mcp.CallToolRequest, params UpdateParams) (*mcp.CallToolResult, any, error) {
	kind, err := entity.Lookup(params.Kind)
	if err != nil {
		return nil, nil, err
	}
	if params.ID == "" {
		return nil, nil, fmt.Errorf("id parameter is required")
	}
	if len(params.Fields) == 0 && params.Body == "" {
		return nil, nil, fmt.Errorf("fields or body is required")
	}

	// Map order is random; sort so new keys land in a stable order.
	keys := make([]string, 0, len(params.Fields))
	for k := range params.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := frontmatter.NewFields()
	for _, k := range keys {
		v := params.Fields[k]
		if k == entity.FieldDependencies {
			fields.SetList(k, splitList(v))
			continue
		}
		fields.Set(k, v)
	}

	patch := store.Patch{Fields: fields, ValidateDependencies: params.CheckDependencies}
	if params.Body != "" {
		body := params.Body
		if !strings.HasPrefix(body, "\n") {
			body = "\n" + body
		}
		patch.Body = &body
	}

	e, err := t.store.Update(kind, params.ID, patch)
	if err != nil {
		log.Printf("[MCP] Failed to update %s %s: %v", kind.Name, params.ID, err)
		return errorResult(err), nil, nil
	}
	log.Printf("[MCP] Updated %s %s", kind.Name, e.ID)
	return jsonResult(detail(e))
}

// ParsePRD handles the parse_prd tool call.
func (t *tools) ParsePRD(ctx context.Context, req *mcp.CallToolRequest, params ParsePRDParams) (*mcp.CallToolResult, any, error) {
	if params.PRDID == "" {
		return nil, nil, fmt.Errorf("prd_id parameter is required")
	}
	epic, report, err := prdparse.GenerateEpic(t.store, params.PRDID, prdparse.DefaultClassifier)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(struct {
		Epic    entitySummary       `json:"epic"`
		Report  prdparse.Report     `json:"report"`
		Missing []prdparse.Category `json:"missing,omitempty"`
	}{summarize(epic), report, report.Missing()})
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(strings.Trim(v, "[] "), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}
