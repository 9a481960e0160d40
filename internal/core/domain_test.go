package core

import (
	"errors"
	"testing"
	"time"
)

func goalRef(id int64) *int64 { return &id }

func TestTransactionInputValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		in   TransactionInput
		want error
	}{
		{
			name: "valid expense",
			in:   TransactionInput{Type: TypeExpense, Category: "Groceries", Amount: Money{Cents: 5000}, Date: now},
		},
		{
			name: "valid income",
			in:   TransactionInput{Type: TypeIncome, Category: "Salary", Amount: Money{Cents: 250000}, Date: now},
		},
		{
			name: "valid savings",
			in:   TransactionInput{Type: TypeSavings, Amount: Money{Cents: 10000}, Date: now, GoalID: goalRef(1)},
		},
		{
			name: "unknown type",
			in:   TransactionInput{Type: "transfer", Category: "x", Amount: Money{Cents: 100}},
			want: ErrInvalidType,
		},
		{
			name: "zero amount",
			in:   TransactionInput{Type: TypeExpense, Category: "x", Amount: Money{Cents: 0}},
			want: ErrInvalidAmount,
		},
		{
			name: "negative amount",
			in:   TransactionInput{Type: TypeSavings, Amount: Money{Cents: -1000}, GoalID: goalRef(1)},
			want: ErrInvalidAmount,
		},
		{
			name: "savings without goal",
			in:   TransactionInput{Type: TypeSavings, Amount: Money{Cents: 100}},
			want: ErrGoalRequired,
		},
		{
			name: "goal on expense",
			in:   TransactionInput{Type: TypeExpense, Category: "x", Amount: Money{Cents: 100}, GoalID: goalRef(1)},
			want: ErrGoalNotAllowed,
		},
		{
			name: "expense without category",
			in:   TransactionInput{Type: TypeExpense, Category: "  ", Amount: Money{Cents: 100}},
			want: ErrEmptyCategory,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsValidationError(err) {
				t.Fatalf("%v should classify as validation error", err)
			}
		})
	}
}

func TestGoalStatusFor(t *testing.T) {
	target := Money{Cents: 100000}
	cases := []struct {
		current int64
		want    GoalStatus
	}{
		{0, GoalActive},
		{99999, GoalActive}, // one cent below target stays active
		{100000, GoalCompleted},
		{100001, GoalCompleted},
	}
	for _, tc := range cases {
		if got := GoalStatusFor(Money{Cents: tc.current}, target); got != tc.want {
			t.Fatalf("current=%d expected %s, got %s", tc.current, tc.want, got)
		}
	}
}

func TestGoalValidate(t *testing.T) {
	good := Goal{Title: "Emergency fund", Target: Money{Cents: 100000}, Priority: PriorityHigh}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Goal{Title: "", Target: Money{Cents: 1}}).Validate(); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if err := (Goal{Title: "x", Target: Money{Cents: 0}}).Validate(); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if err := (Goal{Title: "x", Target: Money{Cents: 1}, Priority: "urgent"}).Validate(); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestBudgetValidate(t *testing.T) {
	good := Budget{Title: "Food", Target: Money{Cents: 30000}, Month: 8, Year: 2026, Status: BudgetActive}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []Budget{
		{Title: "", Target: Money{Cents: 1}, Month: 1, Year: 2026},
		{Title: "x", Target: Money{Cents: 0}, Month: 1, Year: 2026},
		{Title: "x", Target: Money{Cents: 1}, Month: 13, Year: 2026},
		{Title: "x", Target: Money{Cents: 1}, Month: 0, Year: 2026},
		{Title: "x", Target: Money{Cents: 1}, Month: 1, Year: 2026, Status: "paused"},
	}
	for i, b := range bads {
		if err := b.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}
