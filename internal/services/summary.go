package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"momentum/internal/core"
	"momentum/internal/storage"
)

// Summary is the aggregate query service. It only reads: monthly
// summaries, category breakdowns and budget progress are derived from
// the ledger on demand, never persisted.
type Summary struct {
	store *storage.SQLiteRepository
}

func NewSummary(store *storage.SQLiteRepository) *Summary {
	return &Summary{store: store}
}

// MonthlySummary sums the ledger by type for one period. The three type
// sums are independent queries and run concurrently. NetSavings is the
// period sum of savings transactions; balance ignores savings entirely.
func (s *Summary) MonthlySummary(ctx context.Context, ownerID int64, year, month int) (core.MonthlySummary, error) {
	var income, expenses, savings int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		income, err = s.store.SumAmountByType(gctx, ownerID, core.TypeIncome, year, month)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.store.SumAmountByType(gctx, ownerID, core.TypeExpense, year, month)
		return err
	})
	g.Go(func() error {
		var err error
		savings, err = s.store.SumAmountByType(gctx, ownerID, core.TypeSavings, year, month)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthlySummary{}, fmt.Errorf("monthly summary: %w", err)
	}

	return core.MonthlySummary{
		Year:          year,
		Month:         month,
		TotalIncome:   core.Money{Cents: income},
		TotalExpenses: core.Money{Cents: expenses},
		Balance:       income - expenses,
		NetSavings:    core.Money{Cents: savings},
	}, nil
}

// CategoryBreakdown groups one transaction type by category for the
// period. Only expense and income make sense here; savings categories
// mirror goal titles and are queried through the goals surface instead.
func (s *Summary) CategoryBreakdown(ctx context.Context, ownerID int64, typ core.TransactionType, year, month int) ([]core.CategoryAmount, error) {
	if typ != core.TypeExpense && typ != core.TypeIncome {
		return nil, core.ErrInvalidType
	}
	sums, err := s.store.SumCategoriesByType(ctx, ownerID, typ, year, month)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	return sums, nil
}

// BudgetProgress joins the period's active budgets against the expense
// category sums. A budget without a category is measured against all
// expenses for the period.
func (s *Summary) BudgetProgress(ctx context.Context, ownerID int64, year, month int) ([]core.BudgetProgress, error) {
	budgets, err := s.store.ListBudgets(ctx, ownerID, year, month)
	if err != nil {
		return nil, fmt.Errorf("budget progress: %w", err)
	}

	var (
		byCategory    map[string]int64
		totalExpenses int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sums, err := s.store.SumCategoriesByType(gctx, ownerID, core.TypeExpense, year, month)
		if err != nil {
			return err
		}
		byCategory = make(map[string]int64, len(sums))
		for _, ca := range sums {
			byCategory[ca.Name] = ca.Amount.Cents
		}
		return nil
	})
	g.Go(func() error {
		var err error
		totalExpenses, err = s.store.SumAmountByType(gctx, ownerID, core.TypeExpense, year, month)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("budget progress: %w", err)
	}

	var progress []core.BudgetProgress
	for _, b := range budgets {
		if b.Status != core.BudgetActive {
			continue
		}
		consumed := totalExpenses
		if b.Category != "" {
			consumed = byCategory[b.Category]
		}
		progress = append(progress, core.BudgetProgress{
			Budget:     b,
			Consumed:   core.Money{Cents: consumed},
			Percentage: float64(consumed) / float64(b.Target.Cents) * 100,
		})
	}
	return progress, nil
}
