package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// RepositoryPort abstracts transactional repository behaviour. Every call to WithTx
// is one atomic unit: fn's writes commit together or not at all. Implementations
// translate isolation conflicts into ErrSerializationFailure.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByNumber(ctx context.Context, number string) (Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetAccountBalance(ctx context.Context, id int64, balance money.Money, at time.Time) error

	NextEntryNumber(ctx context.Context) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error)
	LinkSource(ctx context.Context, refType, refID string, entryID int64) error
	GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error)

	LatestRunningBalance(ctx context.Context, accountID int64) (money.Money, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")
