package accounting

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// appendLedger writes one ledger row for a posted line and moves the account balance.
// The previous running balance is the latest appended row for the account, so a
// back-dated posting never rewrites rows that were already emitted.
func (s *Service) appendLedger(ctx context.Context, tx TxRepository, entry JournalEntry, line JournalLine) (LedgerEntry, error) {
	previous, err := tx.LatestRunningBalance(ctx, line.AccountID)
	if err != nil {
		return LedgerEntry{}, err
	}
	running := previous.Add(line.Debit).Sub(line.Credit)
	description := line.Description
	if description == "" {
		description = entry.Description
	}
	row, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
		Date:           entry.Date,
		AccountID:      line.AccountID,
		AccountNumber:  line.AccountNumber,
		JournalEntryID: entry.ID,
		EntryNumber:    entry.Number,
		LineNo:         line.LineNo,
		Debit:          line.Debit,
		Credit:         line.Credit,
		RunningBalance: running,
		Department:     line.Department,
		Module:         entry.Module,
		Description:    description,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.SetAccountBalance(ctx, line.AccountID, running, s.now()); err != nil {
		return LedgerEntry{}, err
	}
	return row, nil
}

// GetAccountLedger lists the ledger rows of one account in date order.
func (s *Service) GetAccountLedger(ctx context.Context, accountID int64, r DateRange) ([]LedgerEntry, error) {
	var rows []LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListLedgerEntries(ctx, LedgerFilter{AccountID: accountID, Range: r})
		return err
	})
	return rows, err
}

// GetLedger lists ledger rows matching the filter ordered by date, entry number, line.
func (s *Service) GetLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var rows []LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, err = tx.ListLedgerEntries(ctx, filter)
		return err
	})
	return rows, err
}

// GetAccountSummary reduces the account's ledger rows in range into totals. The
// closing balance is opening (rows before the range) plus the net movement.
func (s *Service) GetAccountSummary(ctx context.Context, accountID int64, r DateRange) (AccountSummary, error) {
	var (
		acc  Account
		rows []LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		rows, err = tx.ListLedgerEntries(ctx, LedgerFilter{AccountID: accountID, Range: DateRange{To: r.To}})
		return err
	})
	if err != nil {
		return AccountSummary{}, err
	}
	return Summarize(acc, rows, r), nil
}

// Summarize folds ledger rows of one account. Rows dated before r.From form the
// opening balance; rows after r.To are ignored.
func Summarize(acc Account, rows []LedgerEntry, r DateRange) AccountSummary {
	summary := AccountSummary{
		AccountID:     acc.ID,
		AccountNumber: acc.Number,
		TotalDebit:    money.Zero,
		TotalCredit:   money.Zero,
	}
	opening := money.Zero
	var first, last time.Time
	for _, row := range rows {
		if row.AccountID != acc.ID {
			continue
		}
		if !r.To.IsZero() && row.Date.After(r.To) {
			continue
		}
		if !r.From.IsZero() && row.Date.Before(r.From) {
			opening = opening.Add(row.Debit).Sub(row.Credit)
			continue
		}
		summary.TotalDebit = summary.TotalDebit.Add(row.Debit)
		summary.TotalCredit = summary.TotalCredit.Add(row.Credit)
		summary.TransactionCount++
		if first.IsZero() || row.Date.Before(first) {
			first = row.Date
		}
		if last.IsZero() || row.Date.After(last) {
			last = row.Date
		}
	}
	summary.Net = summary.TotalDebit.Sub(summary.TotalCredit)
	summary.OpeningBalance = opening
	summary.ClosingBalance = opening.Add(summary.Net)
	if summary.TransactionCount > 0 {
		summary.FirstDate = &first
		summary.LastDate = &last
	}
	return summary
}
