package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", yellow("⚠"), fmt.Sprintf(format, args...))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(status string) func(a ...any) string {
	switch status {
	case "completed", "approved", "done":
		return green
	case "in_progress", "in-progress", "review", "active":
		return cyan
	case "blocked", "cancelled":
		return red
	default:
		return yellow
	}
}

// entityLine renders one list row.
func entityLine(e *entity.Entity) string {
	line := fmt.Sprintf("%s %s [%s] %s", e.ID, statusColor(e.Status())(e.Status()), e.Priority(), e.Title())
	if n, ok := e.GitHubIssue(); ok {
		line += gray(fmt.Sprintf(" (#%d)", n))
	}
	return line
}

type entityJSON struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id"`
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
	Body   string            `json:"body,omitempty"`
}

func toJSON(e *entity.Entity, withBody bool) entityJSON {
	out := entityJSON{Kind: e.Kind.Name, ID: e.ID, Path: e.Path, Fields: e.Fields.Map()}
	if withBody {
		out.Body = e.Body
	}
	return out
}
