package accounting

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// IntegrityIssue describes one discrepancy found by CheckIntegrity.
type IntegrityIssue struct {
	Kind      string `json:"kind"`
	AccountID int64  `json:"account_id,omitempty"`
	EntryID   int64  `json:"entry_id,omitempty"`
	Detail    string `json:"detail"`
}

// IntegrityReport summarises a ledger integrity scan.
type IntegrityReport struct {
	AccountsChecked int              `json:"accounts_checked"`
	EntriesChecked  int              `json:"entries_checked"`
	Issues          []IntegrityIssue `json:"issues"`
}

// OK reports whether no discrepancy was found.
func (r IntegrityReport) OK() bool { return len(r.Issues) == 0 }

// CheckIntegrity verifies that every entry balances and that each account balance
// equals both the sum of its ledger rows and its latest running balance. It only
// reports; nothing is repaired.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{Issues: []IntegrityIssue{}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ListJournalEntries(ctx, JournalFilter{})
		if err != nil {
			return err
		}
		report.EntriesChecked = len(entries)
		for _, entry := range entries {
			debit, credit := entry.Totals()
			if !debit.Equal(credit) {
				report.Issues = append(report.Issues, IntegrityIssue{
					Kind:    "unbalanced_entry",
					EntryID: entry.ID,
					Detail:  fmt.Sprintf("entry %d debit %s credit %s", entry.Number, debit, credit),
				})
			}
		}

		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		report.AccountsChecked = len(accounts)
		for _, acc := range accounts {
			rows, err := tx.ListLedgerEntries(ctx, LedgerFilter{AccountID: acc.ID})
			if err != nil {
				return err
			}
			sum := money.Zero
			var latest *LedgerEntry
			for i := range rows {
				sum = sum.Add(rows[i].Debit).Sub(rows[i].Credit)
				if latest == nil || rows[i].ID > latest.ID {
					latest = &rows[i]
				}
			}
			if !acc.Balance.Equal(sum) {
				report.Issues = append(report.Issues, IntegrityIssue{
					Kind:      "balance_mismatch",
					AccountID: acc.ID,
					Detail:    fmt.Sprintf("account %s balance %s ledger sum %s", acc.Number, acc.Balance, sum),
				})
			}
			if latest != nil && !latest.RunningBalance.Equal(acc.Balance) {
				report.Issues = append(report.Issues, IntegrityIssue{
					Kind:      "running_balance_mismatch",
					AccountID: acc.ID,
					Detail:    fmt.Sprintf("account %s balance %s latest running %s", acc.Number, acc.Balance, latest.RunningBalance),
				})
			}
		}
		return nil
	})
	return report, err
}
