package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cexll/pmsync/internal/config"
	"github.com/cexll/pmsync/internal/logging"
	"github.com/cexll/pmsync/internal/store"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverVersion = "v1.0.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MCP] Failed to load configuration: %v", err)
	}

	// stdout carries the protocol; logs must stay on stderr.
	closer, err := logging.Setup(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Stderr:     os.Stderr,
	})
	if err != nil {
		log.Fatalf("[MCP] Failed to set up logging: %v", err)
	}
	defer closer.Close()

	st := store.New(cfg.Root, store.WithAuthor(cfg.Author))
	log.Printf("[MCP] Starting pm MCP server %s", serverVersion)
	log.Printf("[MCP] Store root: %s", cfg.Root)

	server := newServer(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("[MCP] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Printf("[MCP] Server error: %v", err)
		stop()
		os.Exit(1)
	}
	log.Println("[MCP] Server stopped gracefully")
}

// newServer registers every tool against st.
func newServer(st *store.Store) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pm",
		Version: serverVersion,
	}, nil)

	t := &tools{store: st}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_entities",
		Description: "List PRDs, epics or tasks, newest first, optionally filtered by status or parent ID",
	}, t.ListEntities)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "show_entity",
		Description: "Return one PRD, epic or task with its frontmatter fields and Markdown body",
	}, t.ShowEntity)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_entity",
		Description: "Set frontmatter fields and/or replace the body of a PRD, epic or task",
	}, t.UpdateEntity)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "parse_prd",
		Description: "Create an epic from the Overview, Goals, User Stories, Requirements and Timeline sections of a PRD",
	}, t.ParsePRD)

	log.Println("[MCP] Registered tools: list_entities, show_entity, update_entity, parse_prd")
	return server
}
