// Package storage persists the three owner-scoped collections behind the
// reconciliation engine: the transaction ledger, savings goals and
// monthly budgets. All methods are owner-scoped; an id that exists but
// belongs to another owner behaves like a missing row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"momentum/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned
	// by the caller.
	ErrNotFound = errors.New("not found")

	// ErrGoalInUse is returned when deleting a goal that still has
	// savings transactions referencing it.
	ErrGoalInUse = errors.New("goal has linked transactions")
)

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	Type     core.TransactionType
	Category string
	Year     int
	Month    int
	GoalID   *int64
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Single connection: sqlite allows one writer and the engine relies
	// on statement-level atomicity for goal updates.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable, for readiness checks.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// --- ledger store ---

// InsertTransaction inserts a ledger row. A zero ID lets sqlite assign
// one; a non-zero ID re-inserts the row under its old id, which keeps
// ids stable across the engine's delete-then-create update path.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, owner_id, type, category, amount_cents, description, tx_date, payment_method, recurring, frequency, goal_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableRowID(tx.ID), tx.OwnerID, string(tx.Type), tx.Category, tx.Amount.Cents, tx.Description,
		tx.Date.UTC().Format(time.RFC3339), tx.PaymentMethod, boolToInt(tx.Recurring), tx.Frequency, nullableID(tx.GoalID))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction id: %w", err)
	}
	tx.ID = id

	return tx, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, ownerID, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, type, category, amount_cents, description, tx_date, payment_method, recurring, frequency, goal_id
		FROM transactions
		WHERE id = ? AND owner_id = ?`, id, ownerID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, ErrNotFound
		}
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, ownerID int64, f TransactionFilter) ([]core.Transaction, error) {
	query := `
		SELECT id, owner_id, type, category, amount_cents, description, tx_date, payment_method, recurring, frequency, goal_id
		FROM transactions
		WHERE owner_id = ?`
	args := []any{ownerID}

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Year != 0 {
		query += " AND strftime('%Y', tx_date) = ?"
		args = append(args, fmt.Sprintf("%04d", f.Year))
	}
	if f.Month != 0 {
		query += " AND strftime('%m', tx_date) = ?"
		args = append(args, fmt.Sprintf("%02d", f.Month))
	}
	if f.GoalID != nil {
		query += " AND goal_id = ?"
		args = append(args, *f.GoalID)
	}
	query += " ORDER BY tx_date DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SumAmountByType totals transactions of one type for a year+month.
func (r *SQLiteRepository) SumAmountByType(ctx context.Context, ownerID int64, typ core.TransactionType, year, month int) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE owner_id = ? AND type = ?
		  AND strftime('%Y', tx_date) = ? AND strftime('%m', tx_date) = ?`,
		ownerID, string(typ), fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum %s amounts: %w", typ, err)
	}
	return total, nil
}

// SumCategoriesByType groups one type's transactions by category for a
// year+month, largest first.
func (r *SQLiteRepository) SumCategoriesByType(ctx context.Context, ownerID int64, typ core.TransactionType, year, month int) ([]core.CategoryAmount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, SUM(amount_cents)
		FROM transactions
		WHERE owner_id = ? AND type = ?
		  AND strftime('%Y', tx_date) = ? AND strftime('%m', tx_date) = ?
		GROUP BY category
		ORDER BY SUM(amount_cents) DESC`,
		ownerID, string(typ), fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	if err != nil {
		return nil, fmt.Errorf("sum categories: %w", err)
	}
	defer rows.Close()

	var sums []core.CategoryAmount
	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return nil, fmt.Errorf("sum categories: %w", err)
		}
		sums = append(sums, ca)
	}
	return sums, rows.Err()
}

// SumGoalTransactions re-derives a goal's accumulated amount from the
// ledger. Used by the audit path as the consistency check.
func (r *SQLiteRepository) SumGoalTransactions(ctx context.Context, ownerID, goalID int64) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE owner_id = ? AND goal_id = ? AND type = 'savings'`,
		ownerID, goalID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum goal transactions: %w", err)
	}
	return total, nil
}

func (r *SQLiteRepository) CountGoalTransactions(ctx context.Context, ownerID, goalID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE owner_id = ? AND goal_id = ? AND type = 'savings'`,
		ownerID, goalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count goal transactions: %w", err)
	}
	return count, nil
}

// --- goal store ---

func (r *SQLiteRepository) CreateGoal(ctx context.Context, goal core.Goal) (core.Goal, error) {
	if goal.Priority == "" {
		goal.Priority = core.PriorityMedium
	}
	if err := goal.Validate(); err != nil {
		return core.Goal{}, err
	}
	goal.Status = core.GoalStatusFor(goal.Current, goal.Target)

	var due any
	if goal.DueDate != nil {
		due = goal.DueDate.UTC().Format(time.RFC3339)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (owner_id, title, target_cents, current_cents, status, priority, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		goal.OwnerID, goal.Title, goal.Target.Cents, goal.Current.Cents,
		string(goal.Status), string(goal.Priority), due)
	if err != nil {
		return core.Goal{}, fmt.Errorf("create goal: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Goal{}, fmt.Errorf("create goal id: %w", err)
	}
	goal.ID = id

	return goal, nil
}

func (r *SQLiteRepository) GetGoal(ctx context.Context, ownerID, id int64) (core.Goal, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, target_cents, current_cents, status, priority, due_date
		FROM goals
		WHERE id = ? AND owner_id = ?`, id, ownerID)

	goal, err := scanGoal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Goal{}, ErrNotFound
		}
		return core.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return goal, nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, ownerID int64) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, target_cents, current_cents, status, priority, due_date
		FROM goals
		WHERE owner_id = ?
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []core.Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("list goals: %w", err)
		}
		goals = append(goals, goal)
	}
	return goals, rows.Err()
}

// ListAllGoals returns every goal across owners, for the audit sweep.
func (r *SQLiteRepository) ListAllGoals(ctx context.Context) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, target_cents, current_cents, status, priority, due_date
		FROM goals
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all goals: %w", err)
	}
	defer rows.Close()

	var goals []core.Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("list all goals: %w", err)
		}
		goals = append(goals, goal)
	}
	return goals, rows.Err()
}

// SetGoalAmountAndStatus is the only mutation path for a goal's amount.
// The new amount is clamped at zero and the status is derived against
// the target in the same statement, so amount and status never disagree.
func (r *SQLiteRepository) SetGoalAmountAndStatus(ctx context.Context, ownerID, id, newCents int64) (core.Goal, error) {
	if newCents < 0 {
		newCents = 0
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE goals
		SET current_cents = ?,
		    status = CASE WHEN ? >= target_cents THEN 'completed' ELSE 'active' END,
		    updated_at = datetime('now')
		WHERE id = ? AND owner_id = ?`,
		newCents, newCents, id, ownerID)
	if err != nil {
		return core.Goal{}, fmt.Errorf("set goal amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Goal{}, fmt.Errorf("set goal amount: %w", err)
	}
	if affected == 0 {
		return core.Goal{}, ErrNotFound
	}

	return r.GetGoal(ctx, ownerID, id)
}

// RepairGoalAmount resets a goal's amount to its ledger sum and derives
// status from that same sum, all inside one UPDATE. The audit worker
// runs in its own process, outside the engine's goal locks; because the
// sum is read and written in a single statement, a repair racing a live
// mutation can only ever land a sum the ledger actually held.
func (r *SQLiteRepository) RepairGoalAmount(ctx context.Context, ownerID, id int64) (core.Goal, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE goals
		SET current_cents = (
			SELECT COALESCE(SUM(amount_cents), 0)
			FROM transactions
			WHERE owner_id = goals.owner_id AND goal_id = goals.id AND type = 'savings'
		),
		    status = CASE WHEN (
			SELECT COALESCE(SUM(amount_cents), 0)
			FROM transactions
			WHERE owner_id = goals.owner_id AND goal_id = goals.id AND type = 'savings'
		    ) >= target_cents THEN 'completed' ELSE 'active' END,
		    updated_at = datetime('now')
		WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return core.Goal{}, fmt.Errorf("repair goal amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Goal{}, fmt.Errorf("repair goal amount: %w", err)
	}
	if affected == 0 {
		return core.Goal{}, ErrNotFound
	}

	return r.GetGoal(ctx, ownerID, id)
}

// GoalMetadata is the patch for the goal CRUD surface. Amount and status
// are excluded: those mutate only through SetGoalAmountAndStatus.
type GoalMetadata struct {
	Title    *string
	Target   *core.Money
	Priority *core.GoalPriority
	DueDate  *time.Time
	ClearDue bool
}

func (r *SQLiteRepository) UpdateGoalMetadata(ctx context.Context, ownerID, id int64, patch GoalMetadata) (core.Goal, error) {
	goal, err := r.GetGoal(ctx, ownerID, id)
	if err != nil {
		return core.Goal{}, err
	}

	if patch.Title != nil {
		goal.Title = *patch.Title
	}
	if patch.Target != nil {
		goal.Target = *patch.Target
	}
	if patch.Priority != nil {
		goal.Priority = *patch.Priority
	}
	if patch.ClearDue {
		goal.DueDate = nil
	} else if patch.DueDate != nil {
		goal.DueDate = patch.DueDate
	}

	if err := goal.Validate(); err != nil {
		return core.Goal{}, err
	}

	// A target change can flip completion either way.
	goal.Status = core.GoalStatusFor(goal.Current, goal.Target)

	var due any
	if goal.DueDate != nil {
		due = goal.DueDate.UTC().Format(time.RFC3339)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE goals
		SET title = ?, target_cents = ?, status = ?, priority = ?, due_date = ?, updated_at = datetime('now')
		WHERE id = ? AND owner_id = ?`,
		goal.Title, goal.Target.Cents, string(goal.Status), string(goal.Priority), due, id, ownerID)
	if err != nil {
		return core.Goal{}, fmt.Errorf("update goal metadata: %w", err)
	}

	return goal, nil
}

// DeleteGoal removes a goal. Deletion is blocked while savings
// transactions still reference it; the ledger rows must be deleted or
// re-typed first so the sum invariant cannot silently break.
func (r *SQLiteRepository) DeleteGoal(ctx context.Context, ownerID, id int64) error {
	linked, err := r.CountGoalTransactions(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if linked > 0 {
		return fmt.Errorf("delete goal %d: %w", id, ErrGoalInUse)
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM goals WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- budget store ---

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if b.Status == "" {
		b.Status = core.BudgetActive
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (owner_id, title, target_cents, category, month, year, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.OwnerID, b.Title, b.Target.Cents, b.Category, b.Month, b.Year, string(b.Status))
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget id: %w", err)
	}
	b.ID = id

	return b, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, ownerID, id int64) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, target_cents, category, month, year, status
		FROM budgets
		WHERE id = ? AND owner_id = ?`, id, ownerID)

	var b core.Budget
	var status string
	err := row.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Target.Cents, &b.Category, &b.Month, &b.Year, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Budget{}, ErrNotFound
		}
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	b.Status = core.BudgetStatus(status)
	return b, nil
}

// ListBudgets returns the owner's budgets, optionally narrowed to one
// period. Year/month of zero mean "all periods".
func (r *SQLiteRepository) ListBudgets(ctx context.Context, ownerID int64, year, month int) ([]core.Budget, error) {
	query := `
		SELECT id, owner_id, title, target_cents, category, month, year, status
		FROM budgets
		WHERE owner_id = ?`
	args := []any{ownerID}
	if year != 0 {
		query += " AND year = ?"
		args = append(args, year)
	}
	if month != 0 {
		query += " AND month = ?"
		args = append(args, month)
	}
	query += " ORDER BY year DESC, month DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		var b core.Budget
		var status string
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Target.Cents, &b.Category, &b.Month, &b.Year, &status); err != nil {
			return nil, fmt.Errorf("list budgets: %w", err)
		}
		b.Status = core.BudgetStatus(status)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (r *SQLiteRepository) UpdateBudget(ctx context.Context, ownerID int64, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE budgets
		SET title = ?, target_cents = ?, category = ?, month = ?, year = ?, status = ?, updated_at = datetime('now')
		WHERE id = ? AND owner_id = ?`,
		b.Title, b.Target.Cents, b.Category, b.Month, b.Year, string(b.Status), b.ID, ownerID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	if affected == 0 {
		return core.Budget{}, ErrNotFound
	}
	b.OwnerID = ownerID
	return b, nil
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, ownerID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx        core.Transaction
		typ       string
		date      string
		recurring int64
		goalID    sql.NullInt64
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &typ, &tx.Category, &tx.Amount.Cents,
		&tx.Description, &date, &tx.PaymentMethod, &recurring, &tx.Frequency, &goalID)
	if err != nil {
		return core.Transaction{}, err
	}

	tx.Type = core.TransactionType(typ)
	tx.Recurring = recurring != 0
	if goalID.Valid {
		tx.GoalID = &goalID.Int64
	}
	tx.Date, err = time.Parse(time.RFC3339, strings.TrimSpace(date))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date %q: %w", date, err)
	}

	return tx, nil
}

func scanGoal(row rowScanner) (core.Goal, error) {
	var (
		goal     core.Goal
		status   string
		priority string
		due      sql.NullString
	)
	err := row.Scan(&goal.ID, &goal.OwnerID, &goal.Title, &goal.Target.Cents,
		&goal.Current.Cents, &status, &priority, &due)
	if err != nil {
		return core.Goal{}, err
	}

	goal.Status = core.GoalStatus(status)
	goal.Priority = core.GoalPriority(priority)
	if due.Valid && due.String != "" {
		t, err := time.Parse(time.RFC3339, due.String)
		if err != nil {
			return core.Goal{}, fmt.Errorf("parse goal due date %q: %w", due.String, err)
		}
		goal.DueDate = &t
	}

	return goal, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableRowID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
