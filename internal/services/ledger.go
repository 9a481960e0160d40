// Package services holds the orchestration layer: the reconciliation
// engine that keeps goal aggregates consistent with the ledger, the
// aggregate query service, and the drift auditor.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"momentum/internal/amqp"
	"momentum/internal/core"
	"momentum/internal/storage"
)

// ReconciliationError reports that the two halves of a paired write
// (goal compensation and ledger mutation) could not both complete after
// bounded retries. The successful half has been rolled back; from the
// caller's point of view the operation had no effect.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed during %s: %v", e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// TransactionPatch is a partial update; nil fields keep their value.
// Changing Type away from savings drops the goal link automatically.
type TransactionPatch struct {
	Type          *core.TransactionType
	Category      *string
	Amount        *core.Money
	Description   *string
	Date          *time.Time
	PaymentMethod *string
	Recurring     *bool
	Frequency     *string
	GoalID        *int64
}

// Ledger is the reconciliation engine: the single place where a ledger
// mutation is translated into a goal-amount delta. Every mutation that
// touches a goal runs inside that goal's critical section, so two
// concurrent savings writes against one goal always compose.
type Ledger struct {
	store      *storage.SQLiteRepository
	events     *amqp.Client
	maxRetries int
	goalLocks  keyedMutex
}

func NewLedger(store *storage.SQLiteRepository, events *amqp.Client, maxRetries int) *Ledger {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Ledger{
		store:      store,
		events:     events,
		maxRetries: maxRetries,
	}
}

// CreateTransaction validates the input, credits the referenced goal
// for savings rows, then inserts the ledger row. The goal write comes
// first so a reader can never observe a ledger row whose goal write is
// missing.
func (s *Ledger) CreateTransaction(ctx context.Context, ownerID int64, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	tx := transactionFromInput(ownerID, in)

	if tx.Type == core.TypeSavings {
		unlock := s.lockGoals(*tx.GoalID)
		defer unlock()
	}

	created, err := s.applyCreate(ctx, tx)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publishEvent(ctx, amqp.OpCreate, created, nil)
	return created, nil
}

// DeleteTransaction removes a ledger row, debiting its goal first.
// A compensation that would drive the goal below zero clamps at zero;
// concurrent double-deletes are a benign race, not corruption.
func (s *Ledger) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	tx, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return err
	}

	// The lock is picked from a read taken before it is held, so a
	// concurrent update can re-point the row in between. The re-read
	// under the lock must still reference a goal whose lock we hold;
	// otherwise release and retry against the goal it references now.
	for {
		held := goalLockSet(tx.GoalID)
		unlock := s.lockGoals(held...)

		cur, err := s.store.GetTransaction(ctx, ownerID, id)
		if err != nil {
			unlock()
			return err
		}
		if !goalsCovered(cur, held) {
			unlock()
			tx = cur
			continue
		}

		err = s.applyDelete(ctx, cur)
		unlock()
		if err != nil {
			return err
		}

		s.publishEvent(ctx, amqp.OpDelete, cur, nil)
		return nil
	}
}

// UpdateTransaction is delete-then-create under one critical section:
// the old row's goal is compensated exactly as a delete would, and the
// merged row's goal is credited exactly as a create would. Re-typing a
// savings row or re-pointing its goal therefore never skips either
// side of the compensation.
func (s *Ledger) UpdateTransaction(ctx context.Context, ownerID, id int64, patch TransactionPatch) (core.Transaction, error) {
	existing, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return core.Transaction{}, err
	}

	// Same re-validation as DeleteTransaction: the row read under the
	// locks must reference only goals the locks cover, or the lock set
	// was computed from a stale read and has to be rebuilt.
	for {
		held := goalLockSet(existing.GoalID, patch.GoalID)
		unlock := s.lockGoals(held...)

		cur, err := s.store.GetTransaction(ctx, ownerID, id)
		if err != nil {
			unlock()
			return core.Transaction{}, err
		}
		if !goalsCovered(cur, held) {
			unlock()
			existing = cur
			continue
		}

		updated, prevGoal, err := s.applyUpdate(ctx, ownerID, cur, patch)
		unlock()
		if err != nil {
			return core.Transaction{}, err
		}

		s.publishEvent(ctx, amqp.OpUpdate, updated, prevGoal)
		return updated, nil
	}
}

// applyUpdate performs the delete-then-create pair for an update. Locks
// for every goal involved must already be held. It returns the goal the
// row stopped referencing, if any, so the event can carry it.
func (s *Ledger) applyUpdate(ctx context.Context, ownerID int64, existing core.Transaction, patch TransactionPatch) (core.Transaction, *int64, error) {
	merged, err := mergePatch(existing, patch)
	if err != nil {
		return core.Transaction{}, nil, err
	}

	// Fail fast before mutating anything when the new goal is bogus.
	if merged.Type == core.TypeSavings {
		if _, err := s.store.GetGoal(ctx, ownerID, *merged.GoalID); err != nil {
			return core.Transaction{}, nil, fmt.Errorf("fetch goal: %w", err)
		}
	}

	if err := s.applyDelete(ctx, existing); err != nil {
		return core.Transaction{}, nil, err
	}

	updated, err := s.applyCreate(ctx, merged)
	if err != nil {
		// Put the original row and its goal delta back so the caller
		// sees no partial effect.
		if _, rerr := s.applyCreate(ctx, existing); rerr != nil {
			slog.ErrorContext(ctx, "Update rollback failed, stores may drift until next audit",
				"transaction_id", existing.ID,
				"owner_id", ownerID,
				"error", rerr)
		}
		return core.Transaction{}, nil, &ReconciliationError{Op: "update", Err: err}
	}

	var prevGoal *int64
	if existing.GoalID != nil && !sameGoalRef(existing.GoalID, updated.GoalID) {
		prevGoal = existing.GoalID
	}
	return updated, prevGoal, nil
}

// applyCreate performs the goal-credit + row-insert pair. Goal locks
// for any referenced goal must already be held.
func (s *Ledger) applyCreate(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.Type != core.TypeSavings {
		created, err := s.store.InsertTransaction(ctx, tx)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
		}
		return created, nil
	}

	goal, err := s.store.GetGoal(ctx, tx.OwnerID, *tx.GoalID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("fetch goal: %w", err)
	}

	// Savings rows always carry the goal's title as category.
	tx.Category = goal.Title

	if _, err := s.store.SetGoalAmountAndStatus(ctx, tx.OwnerID, goal.ID, goal.Current.Cents+tx.Amount.Cents); err != nil {
		// First half failed cleanly: nothing to unwind.
		return core.Transaction{}, fmt.Errorf("credit goal: %w", err)
	}

	created, err := s.insertWithRetry(ctx, tx)
	if err != nil {
		s.restoreGoalAmount(ctx, tx.OwnerID, goal.ID, goal.Current.Cents)
		return core.Transaction{}, &ReconciliationError{Op: "create", Err: err}
	}
	return created, nil
}

// applyDelete performs the goal-debit + row-delete pair. The goal is
// compensated before the row is removed, never after.
func (s *Ledger) applyDelete(ctx context.Context, tx core.Transaction) error {
	if tx.Type != core.TypeSavings || tx.GoalID == nil {
		if err := s.store.DeleteTransaction(ctx, tx.OwnerID, tx.ID); err != nil {
			return err
		}
		return nil
	}

	goal, err := s.store.GetGoal(ctx, tx.OwnerID, *tx.GoalID)
	if err != nil {
		return fmt.Errorf("fetch goal: %w", err)
	}

	if _, err := s.store.SetGoalAmountAndStatus(ctx, tx.OwnerID, goal.ID, goal.Current.Cents-tx.Amount.Cents); err != nil {
		return fmt.Errorf("debit goal: %w", err)
	}

	if err := s.deleteWithRetry(ctx, tx.OwnerID, tx.ID); err != nil {
		s.restoreGoalAmount(ctx, tx.OwnerID, goal.ID, goal.Current.Cents)
		return &ReconciliationError{Op: "delete", Err: err}
	}
	return nil
}

func (s *Ledger) insertWithRetry(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		created, err := s.store.InsertTransaction(ctx, tx)
		if err == nil {
			return created, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return core.Transaction{}, lastErr
}

func (s *Ledger) deleteWithRetry(ctx context.Context, ownerID, id int64) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.store.DeleteTransaction(ctx, ownerID, id)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// restoreGoalAmount rolls a goal back to a known amount after the other
// half of a paired write failed. A rollback that itself fails is logged
// as drift; the audit sweep repairs it from the ledger.
func (s *Ledger) restoreGoalAmount(ctx context.Context, ownerID, goalID, cents int64) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if _, lastErr = s.store.SetGoalAmountAndStatus(ctx, ownerID, goalID, cents); lastErr == nil {
			return
		}
	}
	slog.ErrorContext(ctx, "Goal rollback failed, goal has drifted until next audit",
		"goal_id", goalID,
		"owner_id", ownerID,
		"amount_cents", cents,
		"error", lastErr)
}

func (s *Ledger) publishEvent(ctx context.Context, op string, tx core.Transaction, prevGoalID *int64) {
	if s.events == nil {
		return
	}
	ev := amqp.NewLedgerEvent(op, tx.ID, tx.OwnerID, tx.GoalID)
	ev.PrevGoalID = prevGoalID
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		// The mutation already committed; the nightly sweep covers
		// consumers that miss this event.
		slog.WarnContext(ctx, "Failed to publish ledger event",
			"op", op,
			"transaction_id", tx.ID,
			"error", err)
	}
}

// lockGoals locks the given goal ids in ascending order and returns the
// matching unlock. Ordered acquisition keeps two-goal updates (goal
// reassignment) deadlock-free.
func (s *Ledger) lockGoals(ids ...int64) func() {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var locked []*sync.Mutex
	var prev int64 = -1
	for _, id := range sorted {
		if id == prev {
			continue
		}
		prev = id
		m := s.goalLocks.get(id)
		m.Lock()
		locked = append(locked, m)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// keyedMutex hands out one mutex per goal id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) get(id int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	return m
}

func goalLockSet(ids ...*int64) []int64 {
	var out []int64
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}

// goalsCovered reports whether every goal the row references is in the
// held lock set.
func goalsCovered(tx core.Transaction, held []int64) bool {
	if tx.GoalID == nil {
		return true
	}
	for _, id := range held {
		if id == *tx.GoalID {
			return true
		}
	}
	return false
}

func sameGoalRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func transactionFromInput(ownerID int64, in core.TransactionInput) core.Transaction {
	return core.Transaction{
		OwnerID:       ownerID,
		Type:          in.Type,
		Category:      in.Category,
		Amount:        in.Amount,
		Description:   in.Description,
		Date:          in.Date,
		PaymentMethod: in.PaymentMethod,
		Recurring:     in.Recurring,
		Frequency:     in.Frequency,
		GoalID:        in.GoalID,
	}
}

// mergePatch folds a partial update into the stored row and re-checks
// the transaction invariants on the result.
func mergePatch(existing core.Transaction, patch TransactionPatch) (core.Transaction, error) {
	merged := existing

	if patch.Type != nil {
		merged.Type = *patch.Type
	}
	if patch.Category != nil {
		merged.Category = *patch.Category
	}
	if patch.Amount != nil {
		merged.Amount = *patch.Amount
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
	}
	if patch.Date != nil {
		merged.Date = *patch.Date
	}
	if patch.PaymentMethod != nil {
		merged.PaymentMethod = *patch.PaymentMethod
	}
	if patch.Recurring != nil {
		merged.Recurring = *patch.Recurring
	}
	if patch.Frequency != nil {
		merged.Frequency = *patch.Frequency
	}
	if patch.GoalID != nil {
		merged.GoalID = patch.GoalID
	}
	if merged.Type != core.TypeSavings {
		merged.GoalID = nil
	}

	in := core.TransactionInput{
		Type:          merged.Type,
		Category:      merged.Category,
		Amount:        merged.Amount,
		Description:   merged.Description,
		Date:          merged.Date,
		PaymentMethod: merged.PaymentMethod,
		Recurring:     merged.Recurring,
		Frequency:     merged.Frequency,
		GoalID:        merged.GoalID,
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}

	return merged, nil
}
