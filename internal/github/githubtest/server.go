// Package githubtest provides an in-memory GitHub Issues API for tests.
// It serves the handful of endpoints the issue trackers call and hands
// out go-github clients pointed at itself.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/gorilla/mux"
)

// Repo is the repository every Server answers for.
const Repo = "owner/repo"

// Issue is the server's stored form of an issue.
type Issue struct {
	Number      int
	Title       string
	Body        string
	Labels      []string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PullRequest bool
}

// Server is an in-memory issues backend.
type Server struct {
	URL string

	// Now stamps created_at/updated_at. Defaults to wall-clock seconds.
	Now func() time.Time

	srv *httptest.Server

	mu       sync.Mutex
	issues   map[int]*Issue
	labels   map[string]bool
	next     int
	failures []int
	calls    map[string]int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		issues: make(map[int]*Issue),
		labels: make(map[string]bool),
		next:   1,
		calls:  make(map[string]int),
	}

	r := mux.NewRouter()
	base := "/repos/{owner}/{repo}"
	r.HandleFunc(base+"/issues", s.createIssue).Methods(http.MethodPost)
	r.HandleFunc(base+"/issues", s.listIssues).Methods(http.MethodGet)
	r.HandleFunc(base+"/issues/{number:[0-9]+}", s.getIssue).Methods(http.MethodGet)
	r.HandleFunc(base+"/issues/{number:[0-9]+}", s.editIssue).Methods(http.MethodPatch)
	r.HandleFunc(base+"/labels/{name}", s.getLabel).Methods(http.MethodGet)
	r.HandleFunc(base+"/labels", s.createLabel).Methods(http.MethodPost)
	r.Use(s.record, s.injectFailures)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

// Client returns a go-github client whose requests go to s.
func (s *Server) Client() *gh.Client {
	client := gh.NewClient(s.srv.Client())
	base, _ := url.Parse(s.srv.URL + "/")
	client.BaseURL = base
	client.UploadURL = base
	return client
}

// AddIssue seeds an issue and returns its number.
func (s *Server) AddIssue(title, body string, labels []string, updated time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++
	s.issues[n] = &Issue{
		Number:    n,
		Title:     title,
		Body:      body,
		Labels:    append([]string(nil), labels...),
		State:     "open",
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	return n
}

// AddPullRequest seeds a pull request, which list endpoints also return.
func (s *Server) AddPullRequest(title string, labels []string) int {
	n := s.AddIssue(title, "", labels, s.Now())
	s.mu.Lock()
	s.issues[n].PullRequest = true
	s.mu.Unlock()
	return n
}

// Issue returns a copy of issue n.
func (s *Server) Issue(n int) (Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[n]
	if !ok {
		return Issue{}, false
	}
	cp := *issue
	cp.Labels = append([]string(nil), issue.Labels...)
	return cp, true
}

// SetIssue applies fn to stored issue n.
func (s *Server) SetIssue(n int, fn func(*Issue)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue, ok := s.issues[n]; ok {
		fn(issue)
	}
}

// IssueCount returns how many issues (and pull requests) exist.
func (s *Server) IssueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}

// HasLabel reports whether the repository label exists.
func (s *Server) HasLabel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels[name]
}

// FailNext makes the next len(statuses) requests fail with those codes.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Calls returns how many requests used method (GET, POST, PATCH).
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type issueRequest struct {
	Title  *string   `json:"title"`
	Body   *string   `json:"body"`
	Labels *[]string `json:"labels"`
	State  *string   `json:"state"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "title is required"})
		return
	}

	now := s.Now()
	s.mu.Lock()
	n := s.next
	s.next++
	issue := &Issue{Number: n, Title: *req.Title, State: "open", CreatedAt: now, UpdatedAt: now}
	if req.Body != nil {
		issue.Body = *req.Body
	}
	if req.Labels != nil {
		issue.Labels = append([]string(nil), *req.Labels...)
	}
	s.issues[n] = issue
	payload := s.payload(issue)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, payload)
}

func (s *Server) editIssue(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(mux.Vars(r)["number"])
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	now := s.Now()
	s.mu.Lock()
	issue, ok := s.issues[n]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if req.Title != nil {
		issue.Title = *req.Title
	}
	if req.Body != nil {
		issue.Body = *req.Body
	}
	if req.Labels != nil {
		issue.Labels = append([]string(nil), *req.Labels...)
	}
	if req.State != nil {
		issue.State = *req.State
	}
	issue.UpdatedAt = now
	payload := s.payload(issue)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(mux.Vars(r)["number"])
	s.mu.Lock()
	issue, ok := s.issues[n]
	var payload map[string]any
	if ok {
		payload = s.payload(issue)
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var want []string
	if l := q.Get("labels"); l != "" {
		want = strings.Split(l, ",")
	}
	state := q.Get("state")
	if state == "" {
		state = "open"
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	s.mu.Lock()
	var matched []*Issue
	for _, issue := range s.issues {
		if state != "all" && issue.State != state {
			continue
		}
		if !hasAll(issue.Labels, want) {
			continue
		}
		matched = append(matched, issue)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Number < matched[j].Number })

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]map[string]any, 0, end-start)
	for _, issue := range matched[start:end] {
		out = append(out, s.payload(issue))
	}
	s.mu.Unlock()

	if end < len(matched) {
		next := *r.URL
		nq := next.Query()
		nq.Set("page", strconv.Itoa(page+1))
		next.RawQuery = nq.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, s.URL, next.RequestURI()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLabel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	ok := s.labels[name]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) createLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "name is required"})
		return
	}
	s.mu.Lock()
	s.labels[req.Name] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// payload renders issue the way api.github.com does. Callers hold s.mu.
func (s *Server) payload(issue *Issue) map[string]any {
	labels := make([]map[string]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, map[string]string{"name": l})
	}
	p := map[string]any{
		"number":     issue.Number,
		"title":      issue.Title,
		"body":       issue.Body,
		"state":      issue.State,
		"labels":     labels,
		"html_url":   fmt.Sprintf("https://github.com/%s/issues/%d", Repo, issue.Number),
		"created_at": issue.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": issue.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if issue.PullRequest {
		p["pull_request"] = map[string]string{"url": "https://example.com/pull"}
	}
	return p
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, strings.TrimSpace(w)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
