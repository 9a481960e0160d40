package http

import (
	"net/http"
	"strings"

	"momentum/internal/core"
)

type createBudgetRequest struct {
	Title       string `json:"title"`
	TargetCents *int64 `json:"target_cents"`
	Target      string `json:"target,omitempty"`
	Category    string `json:"category"`
	Month       int    `json:"month"`
	Year        int    `json:"year"`
	Status      string `json:"status"`
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBudget(w, r)
	case http.MethodGet:
		s.handleListBudgets(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createBudgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	target, err := resolveAmount(req.TargetCents, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, err := s.store.CreateBudget(r.Context(), core.Budget{
		OwnerID:  ownerID,
		Title:    strings.TrimSpace(req.Title),
		Target:   target,
		Category: strings.TrimSpace(req.Category),
		Month:    req.Month,
		Year:     req.Year,
		Status:   core.BudgetStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var year, month int
	if q := r.URL.Query(); q.Get("year") != "" || q.Get("month") != "" {
		params, err := parseMonthParams(q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		year, month = params.Year, params.Month
	}

	budgets, err := s.store.ListBudgets(r.Context(), ownerID, year, month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []core.Budget{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleBudgetByID(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idFromPath(r.URL.Path, "/api/budgets/")
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		budget, err := s.store.GetBudget(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, budget)
	case http.MethodPut:
		s.handleUpdateBudget(w, r, ownerID, id)
	case http.MethodDelete:
		if err := s.store.DeleteBudget(r.Context(), ownerID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

// handleUpdateBudget replaces the budget definition wholesale. Consumed
// amounts are never stored, so there is nothing to reconcile here.
func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request, ownerID, id int64) {
	var req createBudgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	target, err := resolveAmount(req.TargetCents, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, err := s.store.UpdateBudget(r.Context(), ownerID, core.Budget{
		ID:       id,
		OwnerID:  ownerID,
		Title:    strings.TrimSpace(req.Title),
		Target:   target,
		Category: strings.TrimSpace(req.Category),
		Month:    req.Month,
		Year:     req.Year,
		Status:   core.BudgetStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}
