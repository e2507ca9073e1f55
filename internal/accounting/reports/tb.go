// Package reports builds presentation structures from account balances.
package reports

import (
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Account type labels used to fill the named totals of a trial balance.
const (
	TypeAsset     = "ASSET"
	TypeLiability = "LIABILITY"
	TypeEquity    = "EQUITY"
	TypeRevenue   = "REVENUE"
	TypeExpense   = "EXPENSE"
)

// AccountBalance models a ledger account with its debit-positive balance.
type AccountBalance struct {
	Number       string
	Name         string
	Type         string
	CreditNormal bool
	Balance      money.Money
}

// Debit returns the balance when it sits on the debit side.
func (a AccountBalance) Debit() money.Money {
	if a.Balance.IsPositive() {
		return a.Balance
	}
	return money.Zero
}

// Credit returns the balance when it sits on the credit side, as a positive amount.
func (a AccountBalance) Credit() money.Money {
	if a.Balance.IsNegative() {
		return a.Balance.Neg()
	}
	return money.Zero
}

// Normal returns the balance signed by the account's normal side.
func (a AccountBalance) Normal() money.Money {
	if a.CreditNormal {
		return a.Balance.Neg()
	}
	return a.Balance
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Number  string      `json:"number"`
	Name    string      `json:"name"`
	Debit   money.Money `json:"debit"`
	Credit  money.Money `json:"credit"`
	Balance money.Money `json:"balance"`
}

// TrialBalanceGroup aggregates the accounts of one type.
type TrialBalanceGroup struct {
	Type     string                `json:"type"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    money.Money           `json:"debit"`
	Credit   money.Money           `json:"credit"`
	Total    money.Money           `json:"total"`
}

// TrialBalance holds per-type groups and totals in normal-balance sign.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  money.Money         `json:"total_debit"`
	TotalCredit money.Money         `json:"total_credit"`
	Assets      money.Money         `json:"assets"`
	Liabilities money.Money         `json:"liabilities"`
	Equity      money.Money         `json:"equity"`
	Revenue     money.Money         `json:"revenue"`
	Expenses    money.Money         `json:"expenses"`
}

// NetIncome is revenue minus expenses.
func (tb TrialBalance) NetIncome() money.Money {
	return tb.Revenue.Sub(tb.Expenses)
}

// Balanced reports assets == liabilities + equity + net income.
func (tb TrialBalance) Balanced() bool {
	return tb.Assets.Equal(tb.Liabilities.Add(tb.Equity).Add(tb.NetIncome()))
}

// BuildTrialBalance partitions balances by type. Groups follow typeOrder; types not
// listed are appended alphabetically.
func BuildTrialBalance(accounts []AccountBalance, typeOrder []string) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	for _, acc := range accounts {
		grp, ok := groups[acc.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: acc.Type, Accounts: []TrialBalanceAccount{}}
			groups[acc.Type] = grp
		}
		row := TrialBalanceAccount{
			Number:  acc.Number,
			Name:    acc.Name,
			Debit:   acc.Debit(),
			Credit:  acc.Credit(),
			Balance: acc.Normal(),
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		grp.Total = grp.Total.Add(row.Balance)
	}

	keys := make([]string, 0, len(groups))
	listed := make(map[string]bool, len(typeOrder))
	for _, t := range typeOrder {
		listed[t] = true
		if _, ok := groups[t]; ok {
			keys = append(keys, t)
		}
	}
	var extra []string
	for t := range groups {
		if !listed[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	result := TrialBalance{Groups: []TrialBalanceGroup{}}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Number < grp.Accounts[j].Number
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
		switch key {
		case TypeAsset:
			result.Assets = grp.Total
		case TypeLiability:
			result.Liabilities = grp.Total
		case TypeEquity:
			result.Equity = grp.Total
		case TypeRevenue:
			result.Revenue = grp.Total
		case TypeExpense:
			result.Expenses = grp.Total
		}
	}
	return result
}
