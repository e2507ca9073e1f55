package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives posting counters.
type MetricsPort interface {
	JournalPosted(referenceType string)
	PostingRetried()
}

// Options configures optional collaborators of the Service.
type Options struct {
	Audit      AuditPort
	Metrics    MetricsPort
	Logger     *slog.Logger
	Currencies money.CurrencySet
	MaxRetries int
}

// Service is the single writer of journal and ledger history. It also serves the
// chart of accounts and ledger queries.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	metrics    MetricsPort
	logger     *slog.Logger
	currencies money.CurrencySet
	maxRetries int
	now        func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currencies := opts.Currencies
	if currencies.Default() == "" {
		currencies = money.DefaultCurrencySet()
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Service{
		repo:       repo,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		logger:     logger,
		currencies: currencies,
		maxRetries: retries,
		now:        time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Currencies exposes the enabled currency set.
func (s *Service) Currencies() money.CurrencySet { return s.currencies }

// withRetry runs fn in a repository transaction, retrying serialization failures.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	attempts := s.maxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !errors.Is(err, ErrSerializationFailure) {
			return err
		}
		if attempt == attempts {
			break
		}
		if s.metrics != nil {
			s.metrics.PostingRetried()
		}
		s.logger.WarnContext(ctx, "ledger transaction conflict, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 5 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConcurrentUpdate, attempts, err)
}

// Post validates and commits a balanced journal entry together with its ledger rows
// and account balance updates.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if _, _, err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if input.Date.IsZero() {
		input.Date = truncateDay(s.now())
	}
	var entry JournalEntry
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.post(ctx, tx, input)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterPost(ctx, "journal.post", entry, nil)
	return entry, nil
}

// Reverse posts a new entry that swaps debit and credit of every line of the
// original. The original entry is left untouched.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, shared.Validationf("accounting: entry id required")
	}
	var reversal JournalEntry
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetJournalWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.ReversedBy != nil {
			return fmt.Errorf("%w: entry %d reversed by %d", ErrAlreadyReversed, original.Number, *original.ReversedBy)
		}
		date := original.Date
		if input.Date != nil {
			date = truncateDay(*input.Date)
		}
		originalID := original.ID
		posting := PostingInput{
			Date:          date,
			Reference:     original.Reference,
			Description:   defaultReversalDescription(input.Description, original.Number),
			Department:    original.Department,
			Module:        original.Module,
			ReferenceType: ReferenceTypeReversal,
			ReferenceID:   strconv.FormatInt(original.ID, 10),
			CreatedBy:     input.Actor,
			Lines:         reverseLines(original.Lines),
			reversalOf:    &originalID,
		}
		reversal, err = s.post(ctx, tx, posting)
		if errors.Is(err, ErrSourceAlreadyLinked) {
			return fmt.Errorf("%w: entry %d", ErrAlreadyReversed, original.Number)
		}
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterPost(ctx, "journal.reverse", reversal, map[string]any{"original_id": input.EntryID})
	return reversal, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	lines := make([]JournalLine, 0, len(input.Lines))
	lockIDs := make([]int64, 0, len(input.Lines))
	seen := make(map[int64]bool, len(input.Lines))
	for idx, line := range input.Lines {
		acc, err := s.resolvePostable(ctx, tx, line)
		if err != nil {
			return JournalEntry{}, err
		}
		department := line.Department
		if department == "" {
			department = input.Department
		}
		lines = append(lines, JournalLine{
			LineNo:        idx + 1,
			AccountID:     acc.ID,
			AccountNumber: acc.Number,
			Debit:         line.Debit,
			Credit:        line.Credit,
			Description:   line.Description,
			Department:    department,
		})
		if !seen[acc.ID] {
			seen[acc.ID] = true
			lockIDs = append(lockIDs, acc.ID)
		}
	}
	sort.Slice(lockIDs, func(i, j int) bool { return lockIDs[i] < lockIDs[j] })
	for _, id := range lockIDs {
		if _, err := tx.GetAccountForUpdate(ctx, id); err != nil {
			return JournalEntry{}, err
		}
	}

	number := input.Number
	if number == 0 {
		next, err := tx.NextEntryNumber(ctx)
		if err != nil {
			return JournalEntry{}, err
		}
		number = next
	}
	inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
		Number:        number,
		Date:          truncateDay(input.Date),
		Reference:     input.Reference,
		Description:   input.Description,
		Department:    input.Department,
		Module:        input.Module,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		CreatedBy:     input.CreatedBy,
		PostedAt:      s.now(),
		Status:        JournalStatusPosted,
		ReversalOf:    input.reversalOf,
	})
	if err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines, err = tx.InsertJournalLines(ctx, inserted.ID, lines)
	if err != nil {
		return JournalEntry{}, err
	}
	if input.ReferenceType != "" && input.ReferenceID != "" {
		if err := tx.LinkSource(ctx, input.ReferenceType, input.ReferenceID, inserted.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return JournalEntry{}, fmt.Errorf("%w: %s/%s", ErrSourceAlreadyLinked, input.ReferenceType, input.ReferenceID)
			}
			return JournalEntry{}, err
		}
	}
	for _, line := range inserted.Lines {
		if _, err := s.appendLedger(ctx, tx, inserted, line); err != nil {
			return JournalEntry{}, err
		}
	}
	return inserted, nil
}

func (s *Service) resolvePostable(ctx context.Context, tx TxRepository, line PostingLineInput) (Account, error) {
	var (
		acc Account
		err error
	)
	if line.AccountID != 0 {
		acc, err = tx.GetAccount(ctx, line.AccountID)
	} else {
		acc, err = tx.GetAccountByNumber(ctx, strings.TrimSpace(line.AccountNumber))
	}
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, lineAccountLabel(line))
		}
		return Account{}, err
	}
	if !acc.Postable() {
		return Account{}, fmt.Errorf("%w: %s is not open for posting", ErrAccountNotFound, acc.Number)
	}
	return acc, nil
}

func (s *Service) afterPost(ctx context.Context, action string, entry JournalEntry, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.JournalPosted(entry.ReferenceType)
	}
	debit, _ := entry.Totals()
	s.logger.InfoContext(ctx, "journal posted",
		slog.String("action", action),
		slog.Int64("entry_id", entry.ID),
		slog.Int64("number", entry.Number),
		slog.String("amount", debit.String()),
	)
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = entry.Number
	meta["reference_type"] = entry.ReferenceType
	meta["reference_id"] = entry.ReferenceID
	meta["amount"] = debit.String()
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    entry.CreatedBy,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// GetJournalEntry loads one entry with its lines and derived status.
func (s *Service) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournalWithLines(ctx, id)
		return err
	})
	return entry, err
}

// ListJournalEntries retrieves journal entries matching the filter, newest number first.
func (s *Service) ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, filter)
		return err
	})
	return entries, err
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
			Department:  line.Department,
		})
	}
	return out
}

func defaultReversalDescription(desc string, number int64) string {
	if desc != "" {
		return desc
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}

func lineAccountLabel(line PostingLineInput) string {
	if line.AccountID != 0 {
		return "id " + strconv.FormatInt(line.AccountID, 10)
	}
	return "number " + line.AccountNumber
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
