package subledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	referenceTypePayment = "payment"
	idempotencyModule    = "subledger.payment"
)

// Options configures optional collaborators of the Service.
type Options struct {
	Locker      lock.Locker
	Cache       CacheInvalidator
	Idempotency shared.IdempotencyGuard
	Audit       AuditPort
	Metrics     MetricsPort
	Logger      *slog.Logger
	Currencies  money.CurrencySet
}

// Service manages receivable invoices and payable bills.
type Service struct {
	repo        Repository
	ledger      Ledger
	accounts    mappings.Resolver
	locker      lock.Locker
	cache       CacheInvalidator
	idempotency shared.IdempotencyGuard
	audit       AuditPort
	metrics     MetricsPort
	logger      *slog.Logger
	currencies  money.CurrencySet
	now         func() time.Time
}

// NewService constructs the subsidiary ledger service.
func NewService(repo Repository, ledger Ledger, accounts mappings.Resolver, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocal(0)
	}
	currencies := opts.Currencies
	if currencies.Default() == "" {
		currencies = money.DefaultCurrencySet()
	}
	return &Service{
		repo:        repo,
		ledger:      ledger,
		accounts:    accounts,
		locker:      locker,
		cache:       opts.Cache,
		idempotency: opts.Idempotency,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		logger:      logger,
		currencies:  currencies,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and stores a document. With Issue set the recognition entry is
// posted immediately.
func (s *Service) Create(ctx context.Context, in CreateInput) (Document, error) {
	if !in.Kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, in.Kind)
	}
	in.Counterparty.Name = strings.TrimSpace(in.Counterparty.Name)
	in.Counterparty.ID = strings.TrimSpace(in.Counterparty.ID)
	if in.Counterparty.Name == "" || in.Counterparty.ID == "" {
		return Document{}, fmt.Errorf("%w: counterparty id and name required", ErrInvalidDocument)
	}
	currency, err := s.currencies.Resolve(in.Currency)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	lines, err := buildLines(in.Lines)
	if err != nil {
		return Document{}, err
	}
	now := s.now()
	issue := in.IssueDate
	if issue.IsZero() {
		issue = now
	}
	issue = truncateDay(issue)
	terms := in.Terms
	if terms == "" {
		terms = TermsNet30
	}
	due, ok := DueDateFor(terms, issue, in.DueDate)
	if !ok {
		return Document{}, fmt.Errorf("%w: terms %s require an explicit due date", ErrInvalidDocument, terms)
	}
	if due.Before(issue) {
		return Document{}, fmt.Errorf("%w: due date before issue date", ErrInvalidDocument)
	}

	doc := Document{
		Kind:         in.Kind,
		Number:       strings.TrimSpace(in.Number),
		Counterparty: in.Counterparty,
		IssueDate:    issue,
		DueDate:      due,
		Terms:        terms,
		Currency:     currency,
		Discount:     in.Discount,
		Lines:        lines,
		Payments:     []Payment{},
		Approval:     Approval{Required: in.Kind == KindPayable && in.ApprovalRequired},
		Notes:        in.Notes,
		CreatedBy:    in.Actor,
		Status:       StatusDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateDiscount(doc); err != nil {
		return Document{}, err
	}
	if doc.Number == "" {
		if doc.Number, err = s.repo.NextNumber(ctx, in.Kind); err != nil {
			return Document{}, err
		}
	} else if in.Issue {
		taken, err := s.repo.NumberTaken(ctx, in.Kind, doc.Number)
		if err != nil {
			return Document{}, err
		}
		if taken {
			return Document{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, doc.Number)
		}
	}

	// An issued document is only stored once its recognition entry is posted.
	var entry *accounting.JournalEntry
	if in.Issue {
		if entry, err = s.recognize(ctx, &doc, in.Actor); err != nil {
			return Document{}, err
		}
	}
	created, err := s.repo.Insert(ctx, Recompute(doc, now))
	if err != nil {
		if entry != nil {
			return Document{}, s.compensate(ctx, doc, entry.ID, in.Actor, err)
		}
		return Document{}, err
	}
	action := "create"
	if in.Issue {
		action = "create_issued"
	}
	s.afterMutation(ctx, in.Actor, action, created, nil)
	return created, nil
}

func buildLines(inputs []LineInput) ([]LineItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidDocument)
	}
	hundred := decimal.NewFromInt(100)
	lines := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidDocument, i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrInvalidDocument, i+1)
		}
		if in.TaxRate.IsNegative() || in.TaxRate.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: line %d tax rate must be within 0-100", ErrInvalidDocument, i+1)
		}
		lines = append(lines, LineItem{
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
		})
	}
	return lines, nil
}

func validateDiscount(doc Document) error {
	if doc.Discount.IsZero() {
		return nil
	}
	if doc.Kind != KindPayable {
		return fmt.Errorf("%w: discount applies to payables only", ErrInvalidDocument)
	}
	if doc.Discount.IsNegative() {
		return fmt.Errorf("%w: discount must not be negative", ErrInvalidDocument)
	}
	subtotal := money.Zero
	for _, line := range doc.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(line.Quantity))
	}
	if doc.Discount.GreaterThan(subtotal) {
		return fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvalidDocument, doc.Discount, subtotal)
	}
	return nil
}

// UpdateLines replaces the lines of a document that has not been issued.
func (s *Service) UpdateLines(ctx context.Context, in UpdateLinesInput) (Document, error) {
	lines, err := buildLines(in.Lines)
	if err != nil {
		return Document{}, err
	}
	var updated Document
	err = s.withDocumentLock(ctx, in.Kind, in.ID, func() error {
		doc, err := s.load(ctx, in.Kind, in.ID)
		if err != nil {
			return err
		}
		if !editable(doc) {
			return fmt.Errorf("%w: %s is %s", ErrNotEditable, doc.Number, doc.Status)
		}
		doc.Lines = lines
		if in.Discount != nil {
			doc.Discount = *in.Discount
		}
		if in.DueDate != nil {
			due := truncateDay(*in.DueDate)
			if due.Before(doc.IssueDate) {
				return fmt.Errorf("%w: due date before issue date", ErrInvalidDocument)
			}
			doc.DueDate = due
		}
		if in.Notes != nil {
			doc.Notes = *in.Notes
		}
		if err := validateDiscount(doc); err != nil {
			return err
		}
		updated, err = s.save(ctx, doc, nil)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterMutation(ctx, in.Actor, "update_lines", updated, nil)
	return updated, nil
}

func editable(doc Document) bool {
	return doc.IssuedAt == nil && doc.Status != StatusCancelled && doc.AmountPaid.IsZero()
}

// Issue moves a draft to SENT or RECEIVED and posts its recognition entry.
func (s *Service) Issue(ctx context.Context, kind Kind, id int64, actor string) (Document, error) {
	var issued Document
	err := s.withDocumentLock(ctx, kind, id, func() error {
		doc, err := s.load(ctx, kind, id)
		if err != nil {
			return err
		}
		if doc.IssuedAt != nil || doc.Status == StatusCancelled {
			return fmt.Errorf("%w: %s is already %s", ErrNotEditable, doc.Number, doc.Status)
		}
		entry, err := s.recognize(ctx, &doc, actor)
		if err != nil {
			return err
		}
		issued, err = s.save(ctx, doc, nil)
		if err != nil && entry != nil {
			return s.compensate(ctx, doc, entry.ID, actor, err)
		}
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterMutation(ctx, actor, "issue", issued, nil)
	return issued, nil
}

// recognize posts the recognition entry of doc and marks it issued. The returned
// entry is nil when the document total is zero.
func (s *Service) recognize(ctx context.Context, doc *Document, actor string) (*accounting.JournalEntry, error) {
	input, err := s.recognitionEntry(ctx, *doc, actor)
	if err != nil {
		return nil, err
	}
	var entry *accounting.JournalEntry
	if len(input.Lines) > 0 {
		posted, err := s.ledger.Post(ctx, input)
		if err != nil {
			return nil, err
		}
		entry = &posted
		doc.RecognitionEntryID = &posted.ID
	}
	now := s.now()
	doc.IssuedAt = &now
	return entry, nil
}

// recognitionEntry books the document against revenue or expense. Zero lines are
// omitted; a zero-total document yields no lines.
func (s *Service) recognitionEntry(ctx context.Context, doc Document, actor string) (accounting.PostingInput, error) {
	doc = Recompute(doc, s.now())
	input := accounting.PostingInput{
		Date:          doc.IssueDate,
		Reference:     doc.Number,
		Description:   doc.Kind.describe(doc.Number, doc.Counterparty.Name),
		Module:        doc.Kind.Slug(),
		ReferenceType: doc.Kind.referenceType(),
		ReferenceID:   doc.Number,
		CreatedBy:     actor,
	}
	if !doc.Total.IsPositive() {
		return input, nil
	}
	type leg struct {
		key    mappings.Key
		amount money.Money
		debit  bool
	}
	var legs []leg
	if doc.Kind == KindReceivable {
		legs = []leg{
			{mappings.KeyReceivable, doc.Total, true},
			{mappings.KeyRevenue, doc.Subtotal, false},
			{mappings.KeyTaxPayable, doc.Tax, false},
		}
	} else {
		legs = []leg{
			{mappings.KeyExpense, doc.Subtotal.Sub(doc.Discount), true},
			{mappings.KeyTaxReceivable, doc.Tax, true},
			{mappings.KeyPayable, doc.Total, false},
		}
	}
	for _, l := range legs {
		if !l.amount.IsPositive() {
			continue
		}
		acc, err := s.requiredAccount(ctx, l.key)
		if err != nil {
			return accounting.PostingInput{}, err
		}
		line := accounting.PostingLineInput{AccountID: acc.ID, Description: doc.Number}
		if l.debit {
			line.Debit = l.amount
		} else {
			line.Credit = l.amount
		}
		input.Lines = append(input.Lines, line)
	}
	return input, nil
}

// RecordPayment applies a payment under the document lock and posts the cash entry.
// A rejected payment leaves neither the document nor the ledger changed.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (Document, Payment, error) {
	if !in.Amount.IsPositive() {
		return Document{}, Payment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if in.Method == "" {
		in.Method = MethodBankTransfer
	}
	if !in.Method.Valid() {
		return Document{}, Payment{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, in.Method)
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	in.Date = truncateDay(in.Date)

	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrDuplicateRequest) {
				return s.replayPayment(ctx, in)
			}
			return Document{}, Payment{}, err
		}
	}

	var (
		updated         Document
		payment         Payment
		issuedByPayment bool
	)
	err := s.withDocumentLock(ctx, in.Kind, in.DocumentID, func() error {
		doc, err := s.load(ctx, in.Kind, in.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status == StatusCancelled {
			return fmt.Errorf("%w: %s is cancelled", ErrNotPayable, doc.Number)
		}
		doc = Recompute(doc, s.now())
		if !doc.BalanceDue.IsPositive() {
			return fmt.Errorf("%w: %s", ErrAlreadyFullyPaid, doc.Number)
		}
		if in.Amount.GreaterThan(doc.BalanceDue) {
			return fmt.Errorf("%w: %s balance due %s, payment %s", ErrOverpayment, doc.Number, doc.BalanceDue, in.Amount)
		}

		cash, err := s.requiredAccount(ctx, mappings.KeyCash)
		if err != nil {
			return err
		}
		controlKey := mappings.KeyReceivable
		if doc.Kind == KindPayable {
			controlKey = mappings.KeyPayable
		}
		control, err := s.requiredAccount(ctx, controlKey)
		if err != nil {
			return err
		}

		// A draft is issued by its first payment so the control account carries
		// the receivable or payable being settled.
		var recognition *accounting.JournalEntry
		if doc.IssuedAt == nil {
			if recognition, err = s.recognize(ctx, &doc, in.Actor); err != nil {
				return err
			}
			issuedByPayment = true
		}

		payment = Payment{
			ID:         shared.NewID(),
			Date:       in.Date,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			RecordedBy: in.Actor,
			RecordedAt: s.now(),
		}
		debit, credit := cash, control
		if doc.Kind == KindPayable {
			debit, credit = control, cash
		}
		entry, err := s.ledger.Post(ctx, accounting.PostingInput{
			Date:          payment.Date,
			Reference:     doc.Number,
			Description:   fmt.Sprintf("Payment %s on %s", payment.ID, doc.Number),
			Module:        doc.Kind.Slug(),
			ReferenceType: referenceTypePayment,
			ReferenceID:   payment.ID,
			CreatedBy:     in.Actor,
			Lines: []accounting.PostingLineInput{
				{AccountID: debit.ID, Debit: in.Amount, Description: doc.Number},
				{AccountID: credit.ID, Credit: in.Amount, Description: doc.Number},
			},
		})
		if err != nil {
			if recognition != nil {
				return s.compensate(ctx, doc, recognition.ID, in.Actor, err)
			}
			return err
		}
		payment.JournalEntryID = &entry.ID

		doc.Payments = append(append([]Payment(nil), doc.Payments...), payment)
		doc.AmountPaid = doc.AmountPaid.Add(in.Amount)
		updated, err = s.save(ctx, doc, &payment)
		if err != nil {
			err = s.compensate(ctx, doc, entry.ID, in.Actor, err)
			if recognition != nil {
				err = s.compensate(ctx, doc, recognition.ID, in.Actor, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if in.IdempotencyKey != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(ctx, in.IdempotencyKey); derr != nil {
				s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", derr))
			}
		}
		return Document{}, Payment{}, err
	}
	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Complete(ctx, in.IdempotencyKey, paymentRef(updated.Kind, updated.ID, payment.ID)); err != nil {
			s.logger.WarnContext(ctx, "store idempotency result", slog.String("key", in.IdempotencyKey), slog.Any("error", err))
		}
	}
	if s.metrics != nil {
		s.metrics.PaymentApplied(updated.Kind.Slug())
	}
	s.afterMutation(ctx, in.Actor, "payment", updated, map[string]any{
		"payment_id": payment.ID,
		"amount":     payment.Amount.String(),
		"issued":     issuedByPayment,
	})
	return updated, payment, nil
}

func paymentRef(kind Kind, documentID int64, paymentID string) string {
	return fmt.Sprintf("%s/%d/%s", kind, documentID, paymentID)
}

// replayPayment answers a repeated idempotency key with the payment it recorded.
// A key still in flight, or reused for another document, is a duplicate request.
func (s *Service) replayPayment(ctx context.Context, in PaymentInput) (Document, Payment, error) {
	ref, err := s.idempotency.Result(ctx, in.IdempotencyKey)
	if err != nil {
		return Document{}, Payment{}, err
	}
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 || parts[0] != string(in.Kind) || parts[1] != strconv.FormatInt(in.DocumentID, 10) {
		return Document{}, Payment{}, fmt.Errorf("%w: key %s", shared.ErrDuplicateRequest, in.IdempotencyKey)
	}
	doc, err := s.Get(ctx, in.Kind, in.DocumentID)
	if err != nil {
		return Document{}, Payment{}, err
	}
	for _, payment := range doc.Payments {
		if payment.ID == parts[2] {
			s.logger.DebugContext(ctx, "payment replayed", slog.String("key", in.IdempotencyKey), slog.String("payment_id", payment.ID))
			return doc, payment, nil
		}
	}
	return Document{}, Payment{}, fmt.Errorf("%w: key %s", shared.ErrDuplicateRequest, in.IdempotencyKey)
}

// Approve records approval of a payable that requires it.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (Document, error) {
	approver := strings.TrimSpace(in.ApprovedBy)
	if approver == "" {
		return Document{}, fmt.Errorf("%w: approver required", ErrInvalidDocument)
	}
	var approved Document
	err := s.withDocumentLock(ctx, KindPayable, in.ID, func() error {
		doc, err := s.load(ctx, KindPayable, in.ID)
		if err != nil {
			return err
		}
		if !doc.Approval.Required || doc.Approval.ApprovedBy != "" || doc.Status == StatusCancelled {
			return fmt.Errorf("%w: %s", ErrNotApprovable, doc.Number)
		}
		now := s.now()
		doc.Approval.ApprovedBy = approver
		doc.Approval.ApprovedAt = &now
		doc.Approval.Notes = in.Notes
		approved, err = s.save(ctx, doc, nil)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterMutation(ctx, approver, "approve", approved, nil)
	return approved, nil
}

// Cancel voids a document with no payments and reverses its recognition entry.
func (s *Service) Cancel(ctx context.Context, kind Kind, id int64, actor, reason string) (Document, error) {
	var cancelled Document
	err := s.withDocumentLock(ctx, kind, id, func() error {
		doc, err := s.load(ctx, kind, id)
		if err != nil {
			return err
		}
		if doc.Status == StatusCancelled || !doc.AmountPaid.IsZero() {
			return fmt.Errorf("%w: %s is %s with %s paid", ErrNotCancellable, doc.Number, doc.Status, doc.AmountPaid)
		}
		var reversal *accounting.JournalEntry
		if doc.RecognitionEntryID != nil {
			entry, err := s.ledger.Reverse(ctx, accounting.ReverseInput{
				EntryID:     *doc.RecognitionEntryID,
				Actor:       actor,
				Description: fmt.Sprintf("Cancel %s", doc.Number),
			})
			if err != nil {
				return err
			}
			reversal = &entry
		}
		doc.Status = StatusCancelled
		if reason = strings.TrimSpace(reason); reason != "" {
			doc.Notes = strings.TrimSpace(doc.Notes + "\nCancelled: " + reason)
		}
		cancelled, err = s.save(ctx, doc, nil)
		if err != nil && reversal != nil {
			return s.compensate(ctx, doc, reversal.ID, actor, err)
		}
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.afterMutation(ctx, actor, "cancel", cancelled, map[string]any{"reason": reason})
	return cancelled, nil
}

// Delete soft deletes a draft or cancelled document.
func (s *Service) Delete(ctx context.Context, kind Kind, id int64, actor string) error {
	var deleted Document
	err := s.withDocumentLock(ctx, kind, id, func() error {
		doc, err := s.load(ctx, kind, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusCancelled && !editable(doc) {
			return fmt.Errorf("%w: only draft or cancelled documents can be deleted", ErrNotEditable)
		}
		doc.Deleted = true
		deleted, err = s.save(ctx, doc, nil)
		return err
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, actor, "delete", deleted, nil)
	return nil
}

// Get returns a document with status and aging evaluated as of now.
func (s *Service) Get(ctx context.Context, kind Kind, id int64) (Document, error) {
	doc, err := s.load(ctx, kind, id)
	if err != nil {
		return Document{}, err
	}
	return Recompute(doc, s.now()), nil
}

// List returns documents matching the filter, each evaluated as of now.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	// Stored status can be stale, so a status filter is applied after recompute and
	// pagination with it.
	query := filter
	if filter.Status != "" {
		query.Limit, query.Offset = 0, 0
	}
	docs, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range docs {
		docs[i] = Recompute(docs[i], now)
	}
	if filter.Status == "" {
		return docs, nil
	}
	filtered := docs[:0]
	for _, doc := range docs {
		if doc.Status == filter.Status {
			filtered = append(filtered, doc)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []Document{}, nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered, nil
}

// RefreshAging persists status and aging of every open document as of now and
// returns how many changed. Documents locked by a concurrent writer are skipped.
func (s *Service) RefreshAging(ctx context.Context) (int, error) {
	now := s.now()
	changed := 0
	for _, kind := range []Kind{KindReceivable, KindPayable} {
		docs, err := s.repo.List(ctx, ListFilter{Kind: kind})
		if err != nil {
			return changed, err
		}
		for _, doc := range docs {
			if !doc.Open() {
				continue
			}
			fresh := Recompute(doc, now)
			if fresh.Status == doc.Status && agingEqual(fresh.Aging, doc.Aging) {
				continue
			}
			err := s.withDocumentLock(ctx, kind, doc.ID, func() error {
				_, err := s.repo.Update(ctx, fresh, doc.Version, nil)
				return err
			})
			switch {
			case err == nil:
				changed++
			case errors.Is(err, ErrConcurrentModification), errors.Is(err, lock.ErrNotAcquired):
				s.logger.DebugContext(ctx, "aging refresh skipped document", slog.Int64("document_id", doc.ID), slog.Any("error", err))
			default:
				return changed, err
			}
		}
	}
	if changed > 0 {
		s.invalidate(ctx)
	}
	return changed, nil
}

func agingEqual(a, b Aging) bool {
	return a.Current.Equal(b.Current) && a.Days30.Equal(b.Days30) && a.Days60.Equal(b.Days60) &&
		a.Days90.Equal(b.Days90) && a.Days90Plus.Equal(b.Days90Plus)
}

func (s *Service) load(ctx context.Context, kind Kind, id int64) (Document, error) {
	if !kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, kind)
	}
	doc, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Deleted {
		return Document{}, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return doc, nil
}

// save recomputes doc and writes it guarded by the version it was read at.
func (s *Service) save(ctx context.Context, doc Document, payment *Payment) (Document, error) {
	now := s.now()
	doc.UpdatedAt = now
	return s.repo.Update(ctx, Recompute(doc, now), doc.Version, payment)
}

// compensate reverses a journal entry whose document save failed.
func (s *Service) compensate(ctx context.Context, doc Document, entryID int64, actor string, cause error) error {
	_, err := s.ledger.Reverse(ctx, accounting.ReverseInput{
		EntryID:     entryID,
		Actor:       actor,
		Description: fmt.Sprintf("Compensate failed save of %s", doc.Number),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "compensating reversal failed",
			slog.String("document", doc.Number),
			slog.Int64("entry_id", entryID),
			slog.Any("error", err),
		)
		return wrapLedgerPostError(doc, entryID, cause, err)
	}
	return cause
}

func (s *Service) requiredAccount(ctx context.Context, key mappings.Key) (accounting.Account, error) {
	number, err := s.accounts.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, mappings.ErrMappingNotFound) {
			return accounting.Account{}, fmt.Errorf("%w: no mapping for %s", ErrRequiredAccountNotFound, key)
		}
		return accounting.Account{}, err
	}
	acc, err := s.ledger.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, accounting.ErrAccountNotFound) {
			return accounting.Account{}, fmt.Errorf("%w: %s account %s", ErrRequiredAccountNotFound, key, number)
		}
		return accounting.Account{}, err
	}
	if !acc.Postable() {
		return accounting.Account{}, fmt.Errorf("%w: %s account %s is not open for posting", ErrRequiredAccountNotFound, key, number)
	}
	return acc, nil
}

func (s *Service) withDocumentLock(ctx context.Context, kind Kind, id int64, fn func() error) error {
	release, err := s.locker.Acquire(ctx, shared.DocumentLockKey(kind.Slug(), id))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) afterMutation(ctx context.Context, actor, action string, doc Document, meta map[string]any) {
	s.invalidate(ctx)
	s.logger.InfoContext(ctx, "subledger document changed",
		slog.String("action", action),
		slog.String("kind", string(doc.Kind)),
		slog.String("number", doc.Number),
		slog.String("status", string(doc.Status)),
		slog.String("balance_due", doc.BalanceDue.String()),
	)
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = doc.Number
	meta["status"] = string(doc.Status)
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   doc.Kind.Slug() + "." + action,
		Entity:   "subledger_document",
		EntityID: strconv.FormatInt(doc.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "aging cache bump failed", slog.Any("error", err))
	}
}
