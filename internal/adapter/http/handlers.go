package http

import (
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/localops/localops/internal/adapter/ws"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/project"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/database"
	"github.com/localops/localops/internal/service"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	control *service.ControlService
	store   database.Store
	hub     *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(control *service.ControlService, store database.Store, hub *ws.Hub) *Handlers {
	return &Handlers{control: control, store: store, hub: hub}
}

// --- Projects ---

// CreateProject handles POST /v1/projects.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[project.CreateRequest](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}

	p, err := h.store.CreateProject(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListProjects handles GET /v1/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		writeDomainError(w, err, "projects not found")
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// --- Plans ---

// CreatePlan handles POST /v1/projects/{id}/plans.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.CreateRequest](w, r)
	if !ok {
		return
	}

	rec, err := h.control.CreatePlan(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Runs ---

type runActionResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// CreateRun handles POST /v1/projects/{id}/runs.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}

	created, _, err := h.control.CreateRun(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, runActionResponse{RunID: created.ID, Status: created.Status})
}

// ApproveRun handles POST /v1/runs/{id}:approve.
func (h *Handlers) ApproveRun(w http.ResponseWriter, r *http.Request) {
	approved, err := h.control.Approve(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, runActionResponse{RunID: approved.ID, Status: approved.Status})
}

// CancelRun handles POST /v1/runs/{id}:cancel.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.control.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, runActionResponse{RunID: cancelled.ID, Status: cancelled.Status})
}

// GetRun handles GET /v1/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.control.GetRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PostRunEvent handles POST /v1/internal/runs/{id}/events: the worker's
// ingress to the event bus. The posted JSON object is fanned out as-is
// to the run's WebSocket subscribers.
func (h *Handlers) PostRunEvent(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "id")
	if _, err := h.store.GetRun(r.Context(), runID); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}

	payload, ok := readJSON[map[string]any](w, r)
	if !ok {
		return
	}

	h.hub.Broadcast(r.Context(), runID, payload)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Search ---

type searchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	TopK  int    `json:"top_k"`
}

type searchResult struct {
	Path      string  `json:"path"`
	Snippet   string  `json:"snippet"`
	LineRange [2]int  `json:"line_range"`
	Score     float64 `json:"score"`
}

// Search handles POST /v1/projects/{id}/search. Keyword mode shells out
// to rg over the project root; vector and hybrid modes are accepted but
// return no results.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProject(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}

	req, ok := readJSON[searchRequest](w, r)
	if !ok {
		return
	}
	if req.Mode == "" {
		req.Mode = "keyword"
	}
	if req.TopK <= 0 {
		req.TopK = 20
	}

	switch req.Mode {
	case "keyword":
	case "vector", "hybrid":
		writeJSON(w, http.StatusOK, []searchResult{})
		return
	default:
		writeError(w, http.StatusBadRequest, "unsupported mode")
		return
	}

	if _, err := os.Stat(p.RootPath); err != nil {
		writeJSON(w, http.StatusOK, []searchResult{})
		return
	}

	out, err := exec.CommandContext(r.Context(), "rg", "-n", req.Query, p.RootPath).Output()
	if err != nil {
		// rg exits non-zero on no matches; either way there is nothing
		// more to report than what it printed.
		out = nil
	}

	results := []searchResult{}
	for _, line := range strings.Split(string(out), "\n") {
		if len(results) >= req.TopK {
			break
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		lineNo, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		results = append(results, searchResult{
			Path:      parts[0],
			Snippet:   parts[2],
			LineRange: [2]int{lineNo, lineNo},
			Score:     1.0,
		})
	}
	writeJSON(w, http.StatusOK, results)
}

// BuildIndex handles POST /v1/projects/{id}/index:build. Only the
// keyword mode exists; the build is a queued no-op kept for interface
// compatibility.
func (h *Handlers) BuildIndex(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "id")
	if _, err := h.store.GetProject(r.Context(), projectID); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "queued",
		"mode":       "keyword",
		"project_id": projectID,
	})
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
