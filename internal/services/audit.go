package services

import (
	"context"
	"fmt"
	"log/slog"

	"momentum/internal/storage"
)

// AuditResult reports one goal's recompute: the stored amount, the
// amount re-derived from the ledger, and whether a mismatch was fixed.
type AuditResult struct {
	GoalID   int64
	OwnerID  int64
	Stored   int64
	Computed int64
	Repaired bool
}

// Drift is the stored amount minus the ledger-derived amount; zero
// means the sum invariant holds.
func (r AuditResult) Drift() int64 {
	return r.Stored - r.Computed
}

// Auditor re-derives goal amounts from the ledger. It is the safety net
// behind the engine: any drift left by a failed rollback is found and,
// when repair is enabled, fixed here. Recomputing is idempotent; running
// it twice yields the same amount.
type Auditor struct {
	store  *storage.SQLiteRepository
	repair bool
}

func NewAuditor(store *storage.SQLiteRepository, repair bool) *Auditor {
	return &Auditor{store: store, repair: repair}
}

// RecomputeGoal checks one goal against the ledger sum.
func (a *Auditor) RecomputeGoal(ctx context.Context, ownerID, goalID int64) (AuditResult, error) {
	goal, err := a.store.GetGoal(ctx, ownerID, goalID)
	if err != nil {
		return AuditResult{}, err
	}

	computed, err := a.store.SumGoalTransactions(ctx, ownerID, goalID)
	if err != nil {
		return AuditResult{}, err
	}

	result := AuditResult{
		GoalID:   goalID,
		OwnerID:  ownerID,
		Stored:   goal.Current.Cents,
		Computed: computed,
	}

	if result.Drift() == 0 {
		return result, nil
	}

	slog.WarnContext(ctx, "Goal amount drifted from ledger",
		"goal_id", goalID,
		"owner_id", ownerID,
		"stored_cents", result.Stored,
		"drift_cents", result.Drift())

	if !a.repair {
		return result, nil
	}

	// Repair re-reads the sum inside one UPDATE rather than writing the
	// computed value: the engine may have moved the goal since the read
	// above, and the auditor holds none of its locks.
	repaired, err := a.store.RepairGoalAmount(ctx, ownerID, goalID)
	if err != nil {
		return result, fmt.Errorf("repair goal %d: %w", goalID, err)
	}
	result.Repaired = true

	slog.InfoContext(ctx, "Goal amount repaired from ledger",
		"goal_id", goalID,
		"owner_id", ownerID,
		"amount_cents", repaired.Current.Cents)

	return result, nil
}

// Sweep recomputes every goal across all owners and returns the results
// for goals that had drifted. Used by the scheduled full audit.
func (a *Auditor) Sweep(ctx context.Context) ([]AuditResult, error) {
	goals, err := a.store.ListAllGoals(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit sweep: %w", err)
	}

	var drifted []AuditResult
	for _, goal := range goals {
		if ctx.Err() != nil {
			return drifted, ctx.Err()
		}
		result, err := a.RecomputeGoal(ctx, goal.OwnerID, goal.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to audit goal",
				"goal_id", goal.ID,
				"owner_id", goal.OwnerID,
				"error", err)
			continue
		}
		if result.Drift() != 0 {
			drifted = append(drifted, result)
		}
	}

	slog.InfoContext(ctx, "Audit sweep finished",
		"goals", len(goals),
		"drifted", len(drifted))

	return drifted, nil
}
