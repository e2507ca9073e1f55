package subledger

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists documents and their payments.
type Repository interface {
	NextNumber(ctx context.Context, kind Kind) (string, error)
	NumberTaken(ctx context.Context, kind Kind, number string) (bool, error)
	Insert(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, kind Kind, id int64) (Document, error)
	// Update saves doc when the stored version equals expectedVersion and appends
	// payment when non-nil, atomically. The returned document carries the new version.
	Update(ctx context.Context, doc Document, expectedVersion int64, payment *Payment) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}

// Ledger is the slice of the posting engine the subsidiary ledgers depend on.
type Ledger interface {
	Post(ctx context.Context, input accounting.PostingInput) (accounting.JournalEntry, error)
	Reverse(ctx context.Context, input accounting.ReverseInput) (accounting.JournalEntry, error)
	GetAccountByNumber(ctx context.Context, number string) (accounting.Account, error)
}

// CacheInvalidator drops cached aging snapshots after a mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// MetricsPort counts applied payments.
type MetricsPort interface {
	PaymentApplied(kind string)
}

// AuditPort records document events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
