package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"momentum/internal/core"
	"momentum/internal/services"
	"momentum/internal/storage"
)

// createTransactionRequest is the POST body. Amount comes either as an
// exact cent count or a decimal string; cents win when both are set.
type createTransactionRequest struct {
	Type          string     `json:"type"`
	Category      string     `json:"category"`
	AmountCents   *int64     `json:"amount_cents"`
	Amount        string     `json:"amount,omitempty"`
	Description   string     `json:"description"`
	Date          *time.Time `json:"date"`
	PaymentMethod string     `json:"payment_method"`
	Recurring     bool       `json:"recurring"`
	Frequency     string     `json:"frequency"`
	GoalID        *int64     `json:"goal_id"`
}

type updateTransactionRequest struct {
	Type          *string    `json:"type"`
	Category      *string    `json:"category"`
	AmountCents   *int64     `json:"amount_cents"`
	Amount        *string    `json:"amount"`
	Description   *string    `json:"description"`
	Date          *time.Time `json:"date"`
	PaymentMethod *string    `json:"payment_method"`
	Recurring     *bool      `json:"recurring"`
	Frequency     *string    `json:"frequency"`
	GoalID        *int64     `json:"goal_id"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTransaction(w, r)
	case http.MethodGet:
		s.handleListTransactions(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := resolveAmount(req.AmountCents, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := core.TransactionInput{
		Type:          core.TransactionType(strings.TrimSpace(req.Type)),
		Category:      strings.TrimSpace(req.Category),
		Amount:        amount,
		Description:   strings.TrimSpace(req.Description),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Recurring:     req.Recurring,
		Frequency:     strings.TrimSpace(req.Frequency),
		GoalID:        req.GoalID,
	}
	if req.Date != nil {
		in.Date = *req.Date
	}

	tx, err := s.ledger.CreateTransaction(r.Context(), ownerID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	filter := storage.TransactionFilter{
		Type:     core.TransactionType(strings.TrimSpace(query.Get("type"))),
		Category: strings.TrimSpace(query.Get("category")),
	}
	if query.Get("year") != "" || query.Get("month") != "" {
		params, err := parseMonthParams(query)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Year = params.Year
		filter.Month = params.Month
	}
	if raw := strings.TrimSpace(query.Get("goal_id")); raw != "" {
		goalID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || goalID <= 0 {
			writeError(w, r, errBadID)
			return
		}
		filter.GoalID = &goalID
	}

	txs, err := s.store.ListTransactions(r.Context(), ownerID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idFromPath(r.URL.Path, "/api/transactions/")
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tx, err := s.store.GetTransaction(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	case http.MethodPut, http.MethodPatch:
		s.handleUpdateTransaction(w, r, ownerID, id)
	case http.MethodDelete:
		if err := s.ledger.DeleteTransaction(r.Context(), ownerID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT, PATCH, DELETE")
	}
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request, ownerID, id int64) {
	var req updateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	patch := services.TransactionPatch{
		Category:      req.Category,
		Description:   req.Description,
		Date:          req.Date,
		PaymentMethod: req.PaymentMethod,
		Recurring:     req.Recurring,
		Frequency:     req.Frequency,
		GoalID:        req.GoalID,
	}
	if req.Type != nil {
		typ := core.TransactionType(strings.TrimSpace(*req.Type))
		patch.Type = &typ
	}
	if req.AmountCents != nil || req.Amount != nil {
		var decimal string
		if req.Amount != nil {
			decimal = *req.Amount
		}
		amount, err := resolveAmount(req.AmountCents, decimal)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Amount = &amount
	}

	tx, err := s.ledger.UpdateTransaction(r.Context(), ownerID, id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
