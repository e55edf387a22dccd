package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/pool"
)

var (
	errNoTarget  = errors.New("target is required")
	errBadTarget = errors.New(`target must be "baseline", "burst", or a non-negative number`)
)

const (
	defaultMaxConcurrency = 2
	maxMaxConcurrency     = 10
)

// CreateRunResponse is the API response for run creation
type CreateRunResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResponse is the API response for one run
type RunResponse struct {
	RunID           string           `json:"runId"`
	Status          string           `json:"status"`
	Paused          bool             `json:"paused"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
	CurrentTicketID string           `json:"currentTicketId,omitempty"`
	Error           string           `json:"error,omitempty"`
	Tickets         []*domain.Ticket `json:"tickets"`
	Plan            json.RawMessage  `json:"plan,omitempty"`
}

// PoolResponse is the API response for pool status
type PoolResponse struct {
	PoolEnabled bool         `json:"poolEnabled"`
	Targets     pool.Targets `json:"targets"`
	Pool        pool.Status  `json:"pool"`
}

func runToResponse(run *domain.BuildRun) RunResponse {
	return RunResponse{
		RunID:           run.ID,
		Status:          string(run.Status),
		Paused:          run.Paused,
		CreatedAt:       run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       run.UpdatedAt.Format(time.RFC3339),
		CurrentTicketID: run.CurrentTicketID,
		Error:           run.Error,
		Tickets:         run.Tickets,
		Plan:            run.Input.Plan,
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.createRun(w, r)
		case http.MethodGet:
			runs := s.runs.List()
			responses := make([]RunResponse, 0, len(runs))
			for _, run := range runs {
				responses = append(responses, runToResponse(run))
			}
			writeJSON(w, responses)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var input domain.RunInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if input.SandboxID == "" {
		writeError(w, http.StatusBadRequest, "sandboxId is required")
		return
	}
	if input.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(input.Plan) == 0 {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}
	if len(input.Tickets) == 0 {
		writeError(w, http.StatusBadRequest, "at least one ticket is required")
		return
	}
	for _, t := range input.Tickets {
		if t.ID == "" || t.Title == "" {
			writeError(w, http.StatusBadRequest, "every ticket needs an id and title")
			return
		}
	}
	if input.MaxConcurrency == 0 {
		input.MaxConcurrency = defaultMaxConcurrency
	}
	if input.MaxConcurrency < 1 || input.MaxConcurrency > maxMaxConcurrency {
		writeError(w, http.StatusBadRequest, "maxConcurrency must be between 1 and 10")
		return
	}

	run := s.runs.CreateRun(input)

	if err := s.runs.Start(context.Background(), run.ID); err != nil {
		s.logger.Error("starting run failed", "run", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, CreateRunResponse{Success: true, RunID: run.ID})
}

// runHandler dispatches /api/runs/{id} and its subresources
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		runID := path
		action := ""
		if idx := strings.Index(path, "/"); idx > 0 {
			runID = path[:idx]
			action = strings.Trim(path[idx+1:], "/")
		}

		switch action {
		case "":
			s.getRun(w, r, runID)
		case "events":
			s.streamEvents(w, r, runID)
		case "pause":
			s.pauseRun(w, r, runID)
		case "resume":
			s.resumeRun(w, r, runID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run := s.runs.Get(runID)
	if run == nil {
		writeError(w, http.StatusNotFound, "unknown run: "+runID)
		return
	}
	writeJSON(w, runToResponse(run))
}

func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.runs.Pause(runID); err != nil {
		if strings.HasPrefix(err.Error(), "unknown run") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "status": "pausing"})
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.runs.Resume(runID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "status": "resuming"})
}

// PoolRequest adjusts pool targets. Target accepts "baseline", "burst",
// or a number.
type PoolRequest struct {
	Target          json.RawMessage `json:"target"`
	KnownSandboxIDs []string        `json:"knownSandboxIds,omitempty"`
}

func (s *Server) poolHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pool == nil {
			writeError(w, http.StatusServiceUnavailable, "pool not configured")
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, PoolResponse{
				PoolEnabled: s.poolEnabled,
				Targets:     s.pool.GetPoolTargets(),
				Pool:        s.pool.GetPoolStatus(),
			})
		case http.MethodPost:
			s.adjustPool(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) adjustPool(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	target, err := s.resolveTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.KnownSandboxIDs) > 0 {
		go s.pool.AdoptKnownSandboxes(context.Background(), req.KnownSandboxIDs)
	}

	status := s.pool.GetPoolStatus()
	if target > status.Warm {
		s.pool.EnsureWarmPool(target)
	} else if target < status.Warm {
		s.pool.ShrinkPool(target)
	}

	// Grow and shrink run in the background; the snapshot reflects the
	// pool as of this request
	writeJSON(w, map[string]interface{}{
		"success": true,
		"target":  target,
		"pool":    status,
	})
}

// resolveTarget maps a symbolic or numeric target to a warm count
func (s *Server) resolveTarget(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errNoTarget
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		targets := s.pool.GetPoolTargets()
		switch name {
		case "baseline":
			return targets.Baseline, nil
		case "burst":
			return targets.Burst, nil
		default:
			return 0, errBadTarget
		}
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
		return 0, errBadTarget
	}
	return n, nil
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
