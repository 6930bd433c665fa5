// Package web serves a read-only dashboard over the entity store.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"github.com/cexll/pmsync/internal/entity"
	"github.com/cexll/pmsync/internal/issuefmt"
	"github.com/cexll/pmsync/internal/store"
	"github.com/gorilla/mux"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Handler handles dashboard requests.
type Handler struct {
	store     *store.Store
	repo      string
	templates *template.Template
}

// NewHandler parses the embedded templates. repo ("owner/name") is used
// to link entities to their issues and may be empty.
func NewHandler(st *store.Store, repo string) (*Handler, error) {
	h := &Handler{store: st, repo: repo}
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"statusColor": statusColor,
		"issueURL":    h.issueURL,
		"progress":    progress,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	h.templates = tmpl
	return h, nil
}

// RegisterRoutes registers dashboard routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/{kind}", h.handleList).Methods("GET")
	r.HandleFunc("/{kind}/{id}", h.handleDetail).Methods("GET")
}

type kindSummary struct {
	Kind     *entity.Kind
	Total    int
	ByStatus map[string]int
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	var summaries []kindSummary
	var epics []*entity.Entity
	for _, kind := range entity.All() {
		items, err := h.store.List(kind, store.Filter{})
		if err != nil {
			h.fail(w, err)
			return
		}
		s := kindSummary{Kind: kind, Total: len(items), ByStatus: make(map[string]int)}
		for _, e := range items {
			s.ByStatus[e.Status()]++
		}
		summaries = append(summaries, s)
		if kind == entity.Epic {
			epics = items
		}
	}

	data := struct {
		Repo      string
		Summaries []kindSummary
		Epics     []*entity.Entity
	}{h.repo, summaries, epics}
	h.render(w, "index.html", data)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := entity.Lookup(mux.Vars(r)["kind"])
	if err != nil {
		http.Error(w, "Unknown kind", http.StatusNotFound)
		return
	}

	filter := store.Filter{Parent: r.URL.Query().Get("parent")}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Equals = map[string]string{entity.FieldStatus: status}
	}
	items, err := h.store.List(kind, filter)
	if err != nil {
		h.fail(w, err)
		return
	}

	data := struct {
		Kind   *entity.Kind
		Status string
		Items  []*entity.Entity
	}{kind, r.URL.Query().Get("status"), items}
	h.render(w, "list.html", data)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := entity.Lookup(vars["kind"])
	if err != nil {
		http.Error(w, "Unknown kind", http.StatusNotFound)
		return
	}
	e, err := h.store.Show(kind, vars["id"])
	if err != nil {
		if store.IsNotFound(err) {
			http.Error(w, fmt.Sprintf("%s not found", kind.Tag), http.StatusNotFound)
			return
		}
		h.fail(w, err)
		return
	}

	var children []*entity.Entity
	if child := childKind(kind); child != nil {
		children, err = h.store.List(child, store.Filter{Parent: e.ID})
		if err != nil {
			h.fail(w, err)
			return
		}
	}

	data := struct {
		Entity   *entity.Entity
		Fields   [][2]string
		Children []*entity.Entity
	}{e, fieldRows(e), children}
	h.render(w, "detail.html", data)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("[Web] Render %s: %v", name, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	log.Printf("[Web] Error: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (h *Handler) issueURL(e *entity.Entity) string {
	n, ok := e.GitHubIssue()
	if !ok || h.repo == "" {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/issues/%d", h.repo, n)
}

func childKind(kind *entity.Kind) *entity.Kind {
	for _, k := range entity.All() {
		if k.ParentKind == kind.Name {
			return k
		}
	}
	return nil
}

func fieldRows(e *entity.Entity) [][2]string {
	keys := e.Fields.Keys()
	rows := make([][2]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, [2]string{k, e.Fields.Get(k)})
	}
	return rows
}

// progress renders an epic's task counters, e.g. "2/4 tasks (50%)".
func progress(e *entity.Entity) string {
	done, _ := e.Fields.GetInt(entity.FieldTasksCompleted)
	total, _ := e.Fields.GetInt(entity.FieldTasksTotal)
	return issuefmt.Progress(done, total)
}

func statusColor(status string) string {
	switch status {
	case "completed", "approved", "done":
		return "#198754"
	case "in_progress", "in-progress", "review", "active":
		return "#0d6efd"
	case "blocked", "cancelled":
		return "#dc3545"
	default:
		return "#6c757d"
	}
}
