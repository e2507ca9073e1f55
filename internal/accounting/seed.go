package accounting

import (
	"context"
	"errors"
	"fmt"
)

// ChartSeed describes one account of a starter chart. ParentNumber refers to an
// account listed earlier in the same chart.
type ChartSeed struct {
	Number       string
	Name         string
	Type         AccountType
	Category     AccountCategory
	ParentNumber string
}

// DefaultChart is the starter chart whose numbers match the default account mappings.
var DefaultChart = []ChartSeed{
	{Number: "1000", Name: "Cash", Type: AccountTypeAsset, Category: "CASH"},
	{Number: "1010", Name: "Petty Cash", Type: AccountTypeAsset, Category: "CASH", ParentNumber: "1000"},
	{Number: "1100", Name: "Bank", Type: AccountTypeAsset, Category: "BANK"},
	{Number: "1200", Name: "Accounts Receivable", Type: AccountTypeAsset, Category: "RECEIVABLE"},
	{Number: "1300", Name: "Input Tax Receivable", Type: AccountTypeAsset, Category: "CURRENT_ASSET"},
	{Number: "1500", Name: "Equipment", Type: AccountTypeAsset, Category: "FIXED_ASSET"},
	{Number: "2100", Name: "Accounts Payable", Type: AccountTypeLiability, Category: "PAYABLE"},
	{Number: "2200", Name: "Output Tax Payable", Type: AccountTypeLiability, Category: "TAX_PAYABLE"},
	{Number: "3000", Name: "Owner Capital", Type: AccountTypeEquity, Category: "CAPITAL"},
	{Number: "3100", Name: "Retained Earnings", Type: AccountTypeEquity, Category: "RETAINED_EARNINGS"},
	{Number: "4000", Name: "Sales Revenue", Type: AccountTypeRevenue, Category: "OPERATING_REVENUE"},
	{Number: "4100", Name: "Other Income", Type: AccountTypeRevenue, Category: "OTHER_INCOME"},
	{Number: "5000", Name: "Operating Expenses", Type: AccountTypeExpense, Category: "OPERATING_EXPENSE"},
	{Number: "5100", Name: "Cost of Sales", Type: AccountTypeExpense, Category: "COST_OF_SALES"},
	{Number: "5200", Name: "Salaries", Type: AccountTypeExpense, Category: "PAYROLL", ParentNumber: "5000"},
}

// SeedChart creates the accounts of chart that do not exist yet and returns how
// many were created. Existing numbers are left untouched.
func (s *Service) SeedChart(ctx context.Context, chart []ChartSeed, actor string) (int, error) {
	ids := make(map[string]int64, len(chart))
	created := 0
	for _, seed := range chart {
		if existing, err := s.GetAccountByNumber(ctx, seed.Number); err == nil {
			ids[seed.Number] = existing.ID
			continue
		} else if !errors.Is(err, ErrAccountNotFound) {
			return created, err
		}
		in := CreateAccountInput{
			Number:   seed.Number,
			Name:     seed.Name,
			Type:     seed.Type,
			Category: seed.Category,
			Actor:    actor,
		}
		if seed.ParentNumber != "" {
			parentID, ok := ids[seed.ParentNumber]
			if !ok {
				return created, fmt.Errorf("accounting: seed %s: parent %s not seeded before it", seed.Number, seed.ParentNumber)
			}
			in.ParentID = &parentID
		}
		acc, err := s.CreateAccount(ctx, in)
		if err != nil {
			return created, fmt.Errorf("accounting: seed %s: %w", seed.Number, err)
		}
		ids[acc.Number] = acc.ID
		created++
	}
	return created, nil
}
