package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"momentum/internal/amqp"
	"momentum/internal/services"
)

// AuditWorker keeps goal amounts honest against the ledger. It consumes
// ledger events to recompute the touched goal shortly after each
// mutation, and runs a scheduled full sweep to catch anything the event
// stream missed.
type AuditWorker struct {
	auditor  *services.Auditor
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewAuditWorker(auditor *services.Auditor, schedule string) *AuditWorker {
	return &AuditWorker{
		auditor:  auditor,
		schedule: schedule,
	}
}

// HandleLedgerEvent recomputes every goal a ledger mutation touched:
// the row's current goal and, on a reassignment, the goal it left.
// Events without a goal carry no reconciliation work and are dropped.
func (w *AuditWorker) HandleLedgerEvent(ev *amqp.LedgerEvent) error {
	goalIDs := eventGoalIDs(ev)
	if len(goalIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.InfoContext(ctx, "Processing ledger event",
		"op", ev.Op,
		"transaction_id", ev.TransactionID,
		"owner_id", ev.OwnerID)

	for _, goalID := range goalIDs {
		result, err := w.auditor.RecomputeGoal(ctx, ev.OwnerID, goalID)
		if err != nil {
			return fmt.Errorf("recompute goal %d: %w", goalID, err)
		}

		if result.Drift() != 0 {
			slog.WarnContext(ctx, "Ledger event exposed goal drift",
				"goal_id", result.GoalID,
				"owner_id", result.OwnerID,
				"drift_cents", result.Drift(),
				"repaired", result.Repaired)
		}
	}
	return nil
}

func eventGoalIDs(ev *amqp.LedgerEvent) []int64 {
	var ids []int64
	if ev.GoalID != nil {
		ids = append(ids, *ev.GoalID)
	}
	if ev.PrevGoalID != nil && (ev.GoalID == nil || *ev.PrevGoalID != *ev.GoalID) {
		ids = append(ids, *ev.PrevGoalID)
	}
	return ids
}

// Start schedules the periodic full sweep.
func (w *AuditWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("audit worker already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(w.schedule, w.runSweep); err != nil {
		return fmt.Errorf("schedule audit sweep %q: %w", w.schedule, err)
	}
	c.Start()

	w.cron = c
	w.running = true
	slog.Info("Audit sweep scheduled", "schedule", w.schedule)
	return nil
}

// Stop halts the sweep schedule and waits for a running sweep to finish.
func (w *AuditWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.cron = nil
	w.running = false
	slog.Info("Audit worker stopped")
}

// RunSweepNow triggers one full sweep outside the schedule, used at
// worker startup to recover from downtime.
func (w *AuditWorker) RunSweepNow(ctx context.Context) error {
	drifted, err := w.auditor.Sweep(ctx)
	if err != nil {
		return err
	}
	for _, result := range drifted {
		slog.WarnContext(ctx, "Sweep found drifted goal",
			"goal_id", result.GoalID,
			"owner_id", result.OwnerID,
			"drift_cents", result.Drift(),
			"repaired", result.Repaired)
	}
	return nil
}

func (w *AuditWorker) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := w.RunSweepNow(ctx); err != nil {
		slog.ErrorContext(ctx, "Scheduled audit sweep failed", "error", err)
	}
}
