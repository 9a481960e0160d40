package http

import (
	"net/http"
	"strings"

	"momentum/internal/core"
)

func (s *Server) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := parseMonthParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.summary.MonthlySummary(r.Context(), ownerID, params.Year, params.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := parseMonthParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	typ := core.TypeExpense
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		typ = core.TransactionType(v)
	}

	breakdown, err := s.summary.CategoryBreakdown(r.Context(), ownerID, typ, params.Year, params.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if breakdown == nil {
		breakdown = []core.CategoryAmount{}
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleBudgetProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := parseMonthParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	progress, err := s.summary.BudgetProgress(r.Context(), ownerID, params.Year, params.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if progress == nil {
		progress = []core.BudgetProgress{}
	}
	writeJSON(w, http.StatusOK, progress)
}
