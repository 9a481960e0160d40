package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"momentum/internal/core"
	"momentum/internal/services"
	"momentum/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ledger := services.NewLedger(store, nil, 3)
	summary := services.NewSummary(store)
	srv := NewServer(":0", ledger, summary, store)
	t.Cleanup(func() { srv.limiter.stop() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set("X-Account-ID", owner)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestCreateTransactionRequiresAccount(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "", map[string]any{
		"type": "expense", "category": "Food", "amount_cents": 1000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing account header: code = %d, want 400", rec.Code)
	}
}

func TestCreateExpense(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
		"type":         "expense",
		"category":     "Food",
		"amount_cents": 2500,
		"description":  "groceries",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}

	tx := decodeBody[core.Transaction](t, rec)
	if tx.ID == 0 || tx.Amount.Cents != 2500 || tx.Category != "Food" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestCreateExpenseDecimalAmount(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
		"type":     "expense",
		"category": "Food",
		"amount":   "12,50",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	tx := decodeBody[core.Transaction](t, rec)
	if tx.Amount.Cents != 1250 {
		t.Fatalf("amount = %d, want 1250", tx.Amount.Cents)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []map[string]any{
		{"type": "expense", "category": "Food", "amount_cents": -100},
		{"type": "savings", "amount_cents": 100},
		{"type": "transfer", "category": "x", "amount_cents": 100},
		{"type": "expense", "category": "", "amount_cents": 100},
	}
	for i, body := range cases {
		rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "1", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("case %d: code = %d, want 422 (body %s)", i, rec.Code, rec.Body.String())
		}
	}
}

func TestSavingsLifecycleOverAPI(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/goals", "1", map[string]any{
		"title":        "Laptop",
		"target_cents": 100000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create goal: %d %s", rec.Code, rec.Body.String())
	}
	goal := decodeBody[core.Goal](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
		"type":         "savings",
		"amount_cents": 100000,
		"goal_id":      goal.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create savings: %d %s", rec.Code, rec.Body.String())
	}
	tx := decodeBody[core.Transaction](t, rec)
	if tx.Category != "Laptop" {
		t.Fatalf("category = %q, want goal title", tx.Category)
	}

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/goals/%d", goal.ID), "1", nil)
	got := decodeBody[core.Goal](t, rec)
	if got.Current.Cents != 100000 || got.Status != core.GoalCompleted {
		t.Fatalf("goal after funding: %+v", got)
	}

	// Goal with linked transactions cannot be deleted.
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/goals/%d", goal.ID), "1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete linked goal: code = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", tx.ID), "1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete savings: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/goals/%d", goal.ID), "1", nil)
	got = decodeBody[core.Goal](t, rec)
	if got.Current.Cents != 0 || got.Status != core.GoalActive {
		t.Fatalf("goal after delete: %+v", got)
	}

	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/goals/%d", goal.ID), "1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete unlinked goal: code = %d", rec.Code)
	}
}

func TestUpdateTransactionOverAPI(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/goals", "1", map[string]any{
		"title": "Fund", "target_cents": 100000,
	})
	goal := decodeBody[core.Goal](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
		"type": "savings", "amount_cents": 30000, "goal_id": goal.ID,
	})
	tx := decodeBody[core.Transaction](t, rec)

	rec = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/transactions/%d", tx.ID), "1", map[string]any{
		"amount_cents": 100000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[core.Transaction](t, rec)
	if updated.ID != tx.ID {
		t.Fatalf("id changed across update: %d != %d", updated.ID, tx.ID)
	}

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/goals/%d", goal.ID), "1", nil)
	got := decodeBody[core.Goal](t, rec)
	if got.Current.Cents != 100000 || got.Status != core.GoalCompleted {
		t.Fatalf("goal after update: %+v", got)
	}
}

func TestTransactionNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/transactions/999", "1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/api/transactions/999", "1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestOwnerIsolationOverAPI(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
		"type": "expense", "category": "Food", "amount_cents": 2500,
	})
	tx := decodeBody[core.Transaction](t, rec)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/transactions/%d", tx.ID), "2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other owner must see 404, got %d", rec.Code)
	}
}

func TestSummaryEndpoints(t *testing.T) {
	srv := newTestServer(t)

	seed := func(typ, category string, cents int64) {
		rec := doJSON(t, srv, http.MethodPost, "/api/transactions", "1", map[string]any{
			"type": typ, "category": category, "amount_cents": cents,
			"date": "2026-08-10T12:00:00Z",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %s: %d %s", category, rec.Code, rec.Body.String())
		}
	}
	seed("income", "Salary", 300000)
	seed("expense", "Food", 40000)
	seed("expense", "Transport", 10000)

	rec := doJSON(t, srv, http.MethodGet, "/api/summary/monthly?year=2026&month=8", "1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("monthly: %d %s", rec.Code, rec.Body.String())
	}
	summary := decodeBody[core.MonthlySummary](t, rec)
	if summary.Balance != 250000 {
		t.Fatalf("balance = %d, want 250000", summary.Balance)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/summary/categories?year=2026&month=8", "1", nil)
	cats := decodeBody[[]core.CategoryAmount](t, rec)
	if len(cats) != 2 || cats[0].Name != "Food" {
		t.Fatalf("unexpected breakdown: %+v", cats)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/summary/categories?year=2026&month=8&type=savings", "1", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("savings breakdown: code = %d, want 422", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/budgets", "1", map[string]any{
		"title": "Food", "category": "Food", "target_cents": 80000, "month": 8, "year": 2026,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create budget: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/summary/budgets?year=2026&month=8", "1", nil)
	progress := decodeBody[[]core.BudgetProgress](t, rec)
	if len(progress) != 1 {
		t.Fatalf("expected 1 budget, got %d", len(progress))
	}
	if progress[0].Consumed.Cents != 40000 || progress[0].Percentage != 50 {
		t.Fatalf("unexpected progress: %+v", progress[0])
	}
}

func TestBadMonthParams(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/summary/monthly?year=2026&month=13", "1", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("month=13: code = %d, want 422", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/api/transactions", "1", map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatalf("Allow header missing")
	}
}
