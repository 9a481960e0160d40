package http

import (
	"net/http"
	"strings"
	"time"

	"momentum/internal/core"
	"momentum/internal/storage"
)

type createGoalRequest struct {
	Title       string     `json:"title"`
	TargetCents *int64     `json:"target_cents"`
	Target      string     `json:"target,omitempty"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

// updateGoalRequest patches goal metadata only. Current amount and
// status are derived from the ledger and cannot be set directly.
type updateGoalRequest struct {
	Title       *string    `json:"title"`
	TargetCents *int64     `json:"target_cents"`
	Target      *string    `json:"target"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	ClearDue    bool       `json:"clear_due_date"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateGoal(w, r)
	case http.MethodGet:
		s.handleListGoals(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	target, err := resolveAmount(req.TargetCents, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	goal, err := s.store.CreateGoal(r.Context(), core.Goal{
		OwnerID:  ownerID,
		Title:    strings.TrimSpace(req.Title),
		Target:   target,
		Priority: core.GoalPriority(strings.TrimSpace(req.Priority)),
		DueDate:  req.DueDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, goal)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	goals, err := s.store.ListGoals(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if goals == nil {
		goals = []core.Goal{}
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *Server) handleGoalByID(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idFromPath(r.URL.Path, "/api/goals/")
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		goal, err := s.store.GetGoal(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, goal)
	case http.MethodPut, http.MethodPatch:
		s.handleUpdateGoal(w, r, ownerID, id)
	case http.MethodDelete:
		if err := s.store.DeleteGoal(r.Context(), ownerID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT, PATCH, DELETE")
	}
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request, ownerID, id int64) {
	var req updateGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	patch := storage.GoalMetadata{
		DueDate:  req.DueDate,
		ClearDue: req.ClearDue,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		patch.Title = &title
	}
	if req.TargetCents != nil || req.Target != nil {
		var decimal string
		if req.Target != nil {
			decimal = *req.Target
		}
		target, err := resolveAmount(req.TargetCents, decimal)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Target = &target
	}
	if req.Priority != nil {
		priority := core.GoalPriority(strings.TrimSpace(*req.Priority))
		patch.Priority = &priority
	}

	goal, err := s.store.UpdateGoalMetadata(r.Context(), ownerID, id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}
