package ghsync

import (
	"fmt"
	"strings"
)

// Action is what a sync run did (or would do) with one entity.
type Action string

const (
	ActionCreated         Action = "created"
	ActionUpdated         Action = "updated"
	ActionMerged          Action = "merged"
	ActionUnchanged       Action = "unchanged"
	ActionSkipped         Action = "skipped"
	ActionConflictSkipped Action = "conflict-skipped"
	ActionFailed          Action = "failed"
	ActionWouldCreate     Action = "would-create"
	ActionWouldUpdate     Action = "would-update"
)

// Result describes one entity in a sync run.
type Result struct {
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
	Issue int    `json:"issue,omitempty"`
	Title string `json:"title"`

	Action Action `json:"action"`
	// Conflict is set when the local copy was newer than the remote one.
	Conflict bool   `json:"conflict,omitempty"`
	Message  string `json:"message,omitempty"`
	Err      error  `json:"-"`
}

// String renders the result as one stable report line.
func (r Result) String() string {
	var b strings.Builder
	if r.Action == ActionWouldCreate || r.Action == ActionWouldUpdate {
		b.WriteString("[DRY-RUN] ")
	}
	id := r.ID
	if id == "" {
		id = "-"
	}
	fmt.Fprintf(&b, "%s %s %s", r.Action, strings.ToUpper(r.Kind), id)
	if r.Issue > 0 {
		fmt.Fprintf(&b, " (#%d)", r.Issue)
	}
	fmt.Fprintf(&b, ": %s", r.Title)
	if r.Conflict {
		b.WriteString(" [conflict]")
	}
	if r.Message != "" {
		fmt.Fprintf(&b, " - %s", r.Message)
	}
	return b.String()
}

// Report is the outcome of one sync run.
type Report struct {
	RunID     string   `json:"run_id"`
	Direction string   `json:"direction"`
	DryRun    bool     `json:"dry_run"`
	Results   []Result `json:"results"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

// Lines renders every result in processing order. Run IDs are left out so
// two runs over the same tree produce identical output.
func (r *Report) Lines() []string {
	lines := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		lines = append(lines, res.String())
	}
	return lines
}

// Count returns how many results have action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, res := range r.Results {
		if res.Action == a {
			n++
		}
	}
	return n
}

// Conflicts returns the results flagged as conflicts.
func (r *Report) Conflicts() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Conflict {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results whose sync failed.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Action == ActionFailed {
			out = append(out, res)
		}
	}
	return out
}

// Summary is a one-line tally, e.g. "2 created, 1 updated".
func (r *Report) Summary() string {
	order := []Action{
		ActionCreated, ActionUpdated, ActionMerged, ActionUnchanged,
		ActionWouldCreate, ActionWouldUpdate,
		ActionSkipped, ActionConflictSkipped, ActionFailed,
	}
	var parts []string
	for _, a := range order {
		if n := r.Count(a); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, a))
		}
	}
	if len(parts) == 0 {
		return "nothing to sync"
	}
	return strings.Join(parts, ", ")
}
