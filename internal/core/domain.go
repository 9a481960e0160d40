package core

import (
	"errors"
	"strings"
	"time"
)

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
	TypeSavings TransactionType = "savings"
)

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
)

const (
	BudgetActive   BudgetStatus = "active"
	BudgetInactive BudgetStatus = "inactive"
)

const (
	PriorityLow    GoalPriority = "low"
	PriorityMedium GoalPriority = "medium"
	PriorityHigh   GoalPriority = "high"
)

type (
	TransactionType string
	GoalStatus      string
	BudgetStatus    string
	GoalPriority    string

	// Transaction is a single money movement in the ledger. For savings
	// transactions GoalID is set and Category carries the goal's title.
	Transaction struct {
		ID            int64           `json:"id"`
		OwnerID       int64           `json:"owner_id"`
		Type          TransactionType `json:"type"`
		Category      string          `json:"category"`
		Amount        Money           `json:"amount_cents"`
		Description   string          `json:"description"`
		Date          time.Time       `json:"date"`
		PaymentMethod string          `json:"payment_method,omitempty"`
		Recurring     bool            `json:"recurring"`
		Frequency     string          `json:"frequency,omitempty"`
		GoalID        *int64          `json:"goal_id,omitempty"`
	}

	// Goal is a savings target. Current and Status are derived from the
	// ledger and mutate only through reconciliation.
	Goal struct {
		ID       int64        `json:"id"`
		OwnerID  int64        `json:"owner_id"`
		Title    string       `json:"title"`
		Target   Money        `json:"target_cents"`
		Current  Money        `json:"current_cents"`
		Status   GoalStatus   `json:"status"`
		Priority GoalPriority `json:"priority"`
		DueDate  *time.Time   `json:"due_date,omitempty"`
	}

	// Budget is a monthly spending ceiling. An empty Category means the
	// budget covers all expenses for the period. Budgets never mutate
	// transactions; consumption is computed from the ledger on read.
	Budget struct {
		ID       int64        `json:"id"`
		OwnerID  int64        `json:"owner_id"`
		Title    string       `json:"title"`
		Target   Money        `json:"target_cents"`
		Category string       `json:"category,omitempty"`
		Month    int          `json:"month"`
		Year     int          `json:"year"`
		Status   BudgetStatus `json:"status"`
	}

	// TransactionInput is the caller-supplied part of a transaction,
	// validated before any store mutation.
	TransactionInput struct {
		Type          TransactionType
		Category      string
		Amount        Money
		Description   string
		Date          time.Time
		PaymentMethod string
		Recurring     bool
		Frequency     string
		GoalID        *int64
	}
)

var (
	ErrInvalidType    = errors.New("invalid transaction type")
	ErrGoalRequired   = errors.New("savings transaction requires a goal")
	ErrGoalNotAllowed = errors.New("goal can only be set on a savings transaction")
	ErrEmptyCategory  = errors.New("empty category")
	ErrEmptyTitle     = errors.New("empty title")
	ErrInvalidTarget  = errors.New("invalid target amount")
	ErrInvalidPeriod  = errors.New("invalid budget period")
	ErrInvalidStatus  = errors.New("invalid status")
)

// validationErrors lists every error the Validate methods can return, so
// the API boundary can tell malformed input apart from internal failures.
var validationErrors = []error{
	ErrInvalidAmount,
	ErrInvalidType,
	ErrGoalRequired,
	ErrGoalNotAllowed,
	ErrEmptyCategory,
	ErrEmptyTitle,
	ErrInvalidTarget,
	ErrInvalidPeriod,
	ErrInvalidStatus,
}

// IsValidationError reports whether err stems from input validation.
func IsValidationError(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeSavings:
		return true
	}
	return false
}

func (p GoalPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Validate checks the transaction invariants: positive amount, a known
// type, the savings/goal pairing, and a category for non-savings rows.
// Savings rows need no caller category since it comes from the goal.
func (in TransactionInput) Validate() error {
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if in.Type == TypeSavings {
		if in.GoalID == nil {
			return ErrGoalRequired
		}
		return nil
	}
	if in.GoalID != nil {
		return ErrGoalNotAllowed
	}
	if strings.TrimSpace(in.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// GoalStatusFor derives a goal's status from its amounts. A goal is
// completed exactly when the accumulated amount reaches the target; a
// compensating edit that drops below target re-opens it.
func GoalStatusFor(current, target Money) GoalStatus {
	if current.Cents >= target.Cents {
		return GoalCompleted
	}
	return GoalActive
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return ErrEmptyTitle
	}
	if g.Target.Cents <= 0 {
		return ErrInvalidTarget
	}
	if g.Priority != "" && !g.Priority.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return ErrEmptyTitle
	}
	if b.Target.Cents <= 0 {
		return ErrInvalidTarget
	}
	if b.Month < 1 || b.Month > 12 || b.Year < 1970 {
		return ErrInvalidPeriod
	}
	if b.Status != "" && b.Status != BudgetActive && b.Status != BudgetInactive {
		return ErrInvalidStatus
	}
	return nil
}
