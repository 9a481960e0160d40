package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"momentum/internal/core"
	"momentum/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestLedger(t *testing.T) (*Ledger, *storage.SQLiteRepository) {
	t.Helper()
	store := newTestStore(t)
	return NewLedger(store, nil, 3), store
}

func createGoal(t *testing.T, store *storage.SQLiteRepository, ownerID int64, title string, targetCents int64) core.Goal {
	t.Helper()
	goal, err := store.CreateGoal(context.Background(), core.Goal{
		OwnerID: ownerID,
		Title:   title,
		Target:  core.Money{Cents: targetCents},
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return goal
}

func mustGoal(t *testing.T, store *storage.SQLiteRepository, ownerID, id int64) core.Goal {
	t.Helper()
	goal, err := store.GetGoal(context.Background(), ownerID, id)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	return goal
}

func savingsInput(goalID int64, cents int64) core.TransactionInput {
	return core.TransactionInput{
		Type:   core.TypeSavings,
		Amount: core.Money{Cents: cents},
		GoalID: &goalID,
	}
}

// Funding a goal to exactly its target completes it.
func TestCreateSavingsCompletesGoal(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Laptop", 100000)

	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 100000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Category != "Laptop" {
		t.Fatalf("savings category must be the goal title, got %q", tx.Category)
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 100000 {
		t.Fatalf("expected current 100000, got %d", got.Current.Cents)
	}
	if got.Status != core.GoalCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

// Deleting the funding transaction reverts amount and status.
func TestDeleteSavingsReopensGoal(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Laptop", 100000)
	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 100000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ledger.DeleteTransaction(ctx, 1, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 0 {
		t.Fatalf("expected current 0, got %d", got.Current.Cents)
	}
	if got.Status != core.GoalActive {
		t.Fatalf("expected active after delete, got %s", got.Status)
	}

	if _, err := store.GetTransaction(ctx, 1, tx.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected transaction gone, got %v", err)
	}
}

// An expense leaves goals untouched.
func TestCreateExpenseLeavesGoalsAlone(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Fund", 50000)
	if _, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 30000)); err != nil {
		t.Fatalf("seed savings: %v", err)
	}

	if _, err := ledger.CreateTransaction(ctx, 1, core.TransactionInput{
		Type:     core.TypeExpense,
		Category: "Coffee",
		Amount:   core.Money{Cents: 5000},
	}); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 30000 {
		t.Fatalf("goal must be unchanged at 30000, got %d", got.Current.Cents)
	}

	now := time.Now()
	expenses, err := store.SumAmountByType(ctx, 1, core.TypeExpense, now.Year(), int(now.Month()))
	if err != nil {
		t.Fatalf("sum expenses: %v", err)
	}
	if expenses != 5000 {
		t.Fatalf("expected expenses 5000, got %d", expenses)
	}
}

// Invalid input is rejected before any store mutation.
func TestCreateInvalidMutatesNothing(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Fund", 50000)

	cases := []core.TransactionInput{
		savingsInput(goal.ID, -1000), // negative amount
		savingsInput(goal.ID, 0),
		{Type: core.TypeSavings, Amount: core.Money{Cents: 100}},                                     // no goal
		{Type: core.TypeExpense, Category: "x", Amount: core.Money{Cents: 100}, GoalID: &goal.ID},    // goal on expense
		{Type: "transfer", Category: "x", Amount: core.Money{Cents: 100}},                            // bad type
	}
	for i, in := range cases {
		if _, err := ledger.CreateTransaction(ctx, 1, in); !core.IsValidationError(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 0 {
		t.Fatalf("goal must be untouched, got %d", got.Current.Cents)
	}
	txs, err := store.ListTransactions(ctx, 1, storage.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("ledger must be empty, got %d rows", len(txs))
	}
}

// A savings transaction against someone else's goal is rejected cleanly.
func TestCreateSavingsForeignGoal(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 2, "Not yours", 100000)

	_, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 1000))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got := mustGoal(t, store, 2, goal.ID)
	if got.Current.Cents != 0 {
		t.Fatalf("foreign goal must be untouched, got %d", got.Current.Cents)
	}
}

// One cent below target stays active; reaching it completes.
func TestCompletionBoundary(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Boundary", 100000)

	if _, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 99999)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := mustGoal(t, store, 1, goal.ID); got.Status != core.GoalActive {
		t.Fatalf("one cent below target must stay active, got %s", got.Status)
	}

	if _, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := mustGoal(t, store, 1, goal.ID); got.Status != core.GoalCompleted {
		t.Fatalf("reaching target must complete, got %s", got.Status)
	}
}

// Create then delete round-trips the goal back to its prior state.
func TestRoundTrip(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Trip", 100000)
	if _, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 40000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 60000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := mustGoal(t, store, 1, goal.ID); got.Status != core.GoalCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	if err := ledger.DeleteTransaction(ctx, 1, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 40000 || got.Status != core.GoalActive {
		t.Fatalf("expected 40000/active after round trip, got %d/%s", got.Current.Cents, got.Status)
	}
}

// Re-typing a savings row to expense compensates the goal like a delete.
func TestUpdateRetypeCompensatesGoal(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Fund", 100000)
	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 30000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	expense := core.TypeExpense
	category := "Misc"
	updated, err := ledger.UpdateTransaction(ctx, 1, tx.ID, TransactionPatch{
		Type:     &expense,
		Category: &category,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Type != core.TypeExpense || updated.GoalID != nil {
		t.Fatalf("expected goal-less expense, got %+v", updated)
	}
	if updated.ID != tx.ID {
		t.Fatalf("id must be stable across update, got %d != %d", updated.ID, tx.ID)
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 0 {
		t.Fatalf("old goal must be debited to 0, got %d", got.Current.Cents)
	}
}

// Reassigning a savings row debits the old goal and credits the new one.
func TestUpdateReassignGoal(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	oldGoal := createGoal(t, store, 1, "Old", 100000)
	newGoal := createGoal(t, store, 1, "New", 100000)

	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(oldGoal.ID, 25000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := ledger.UpdateTransaction(ctx, 1, tx.ID, TransactionPatch{GoalID: &newGoal.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Category != "New" {
		t.Fatalf("category must follow the new goal title, got %q", updated.Category)
	}

	if got := mustGoal(t, store, 1, oldGoal.ID); got.Current.Cents != 0 {
		t.Fatalf("old goal must be 0, got %d", got.Current.Cents)
	}
	if got := mustGoal(t, store, 1, newGoal.ID); got.Current.Cents != 25000 {
		t.Fatalf("new goal must be 25000, got %d", got.Current.Cents)
	}
}

// Changing only the amount re-runs compensation with the new value.
func TestUpdateAmount(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Fund", 100000)
	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 30000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	amount := core.Money{Cents: 100000}
	if _, err := ledger.UpdateTransaction(ctx, 1, tx.ID, TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 100000 || got.Status != core.GoalCompleted {
		t.Fatalf("expected 100000/completed, got %d/%s", got.Current.Cents, got.Status)
	}
}

// An update to a bogus goal leaves everything untouched.
func TestUpdateToMissingGoalRollsBack(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Fund", 100000)
	tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 30000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	missing := goal.ID + 999
	if _, err := ledger.UpdateTransaction(ctx, 1, tx.ID, TransactionPatch{GoalID: &missing}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Nothing moved.
	if got := mustGoal(t, store, 1, goal.ID); got.Current.Cents != 30000 {
		t.Fatalf("goal must keep 30000, got %d", got.Current.Cents)
	}
	if _, err := store.GetTransaction(ctx, 1, tx.ID); err != nil {
		t.Fatalf("original row must survive: %v", err)
	}
}

// Two concurrent savings writes against one goal must both land.
func TestConcurrentSavingsNoLostUpdate(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Race", 100000)

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, 10000))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != 20000 {
		t.Fatalf("expected 20000 after both writes, got %d", got.Current.Cents)
	}
}

// A row reassigned between goals while it is deleted and fresh savings
// land on the destination must leave both goals equal to their ledger
// sums on every interleaving. Catches a lock taken for a goal the row
// no longer references.
func TestConcurrentReassignDeleteKeepsSums(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goalA := createGoal(t, store, 1, "Origin", 100000000)
	goalB := createGoal(t, store, 1, "Destination", 100000000)

	const rounds = 60
	for round := 0; round < rounds; round++ {
		tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goalA.ID, 100))
		if err != nil {
			t.Fatalf("round %d create: %v", round, err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 3)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, errs[0] = ledger.UpdateTransaction(ctx, 1, tx.ID, TransactionPatch{GoalID: &goalB.ID})
		}()
		go func() {
			defer wg.Done()
			errs[1] = ledger.DeleteTransaction(ctx, 1, tx.ID)
		}()
		go func() {
			defer wg.Done()
			_, errs[2] = ledger.CreateTransaction(ctx, 1, savingsInput(goalB.ID, 100))
		}()
		wg.Wait()

		// The update and the delete race for one row; the loser sees it
		// gone, which is fine. The create must always land.
		for i, err := range errs[:2] {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("round %d worker %d: %v", round, i, err)
			}
		}
		if errs[2] != nil {
			t.Fatalf("round %d concurrent create: %v", round, errs[2])
		}

		if err := ledger.DeleteTransaction(ctx, 1, tx.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("round %d cleanup: %v", round, err)
		}

		for _, goalID := range []int64{goalA.ID, goalB.ID} {
			sum, err := store.SumGoalTransactions(ctx, 1, goalID)
			if err != nil {
				t.Fatalf("round %d sum: %v", round, err)
			}
			got := mustGoal(t, store, 1, goalID)
			if got.Current.Cents != sum {
				t.Fatalf("round %d goal %d: stored %d != ledger sum %d", round, goalID, got.Current.Cents, sum)
			}
		}
	}
}

// Stored goal amount always equals the ledger sum after a mixed workload.
func TestSumInvariantAfterMixedWorkload(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	goal := createGoal(t, store, 1, "Invariant", 1000000)

	var ids []int64
	for _, cents := range []int64{10000, 20000, 30000, 40000} {
		tx, err := ledger.CreateTransaction(ctx, 1, savingsInput(goal.ID, cents))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, tx.ID)
	}
	if err := ledger.DeleteTransaction(ctx, 1, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	amount := core.Money{Cents: 5000}
	if _, err := ledger.UpdateTransaction(ctx, 1, ids[2], TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("update: %v", err)
	}

	ledgerSum, err := store.SumGoalTransactions(ctx, 1, goal.ID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	got := mustGoal(t, store, 1, goal.ID)
	if got.Current.Cents != ledgerSum {
		t.Fatalf("stored %d != ledger sum %d", got.Current.Cents, ledgerSum)
	}
	if got.Current.Cents != 55000 {
		t.Fatalf("expected 55000, got %d", got.Current.Cents)
	}
}

func TestDeleteMissingTransaction(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.DeleteTransaction(context.Background(), 1, 12345); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
