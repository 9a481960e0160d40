package core

// CategoryAmount is an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"category"`
	Amount Money  `json:"amount_cents"`
}

// MonthlySummary sums the ledger by type for one year+month.
// Balance is income minus expenses; NetSavings is the period sum of
// savings transactions (savings do not count as expenses).
type MonthlySummary struct {
	Year          int   `json:"year"`
	Month         int   `json:"month"`
	TotalIncome   Money `json:"total_income_cents"`
	TotalExpenses Money `json:"total_expenses_cents"`
	Balance       int64 `json:"balance_cents"`
	NetSavings    Money `json:"net_savings_cents"`
}

// BudgetProgress joins a budget against its consumed amount for the
// period. Percentage is consumed over target and may exceed 100.
type BudgetProgress struct {
	Budget     Budget  `json:"budget"`
	Consumed   Money   `json:"consumed_cents"`
	Percentage float64 `json:"percentage"`
}
