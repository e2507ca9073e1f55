package subledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	payments map[string]int
}

func (m *countingMetrics) PaymentApplied(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payments == nil {
		m.payments = map[string]int{}
	}
	m.payments[kind]++
}

type fixture struct {
	svc      *Service
	ledger   *accounting.Service
	repo     *MemoryRepository
	accounts map[string]accounting.Account
	cache    *countingCache
	metrics  *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := accounting.NewService(accounting.NewMemoryStore(), accounting.Options{MaxRetries: 1})
	ledger.WithNow(func() time.Time { return fixedNow })

	accounts := map[string]accounting.Account{}
	for _, a := range []struct {
		key, number, name string
		typ               accounting.AccountType
	}{
		{"cash", "1000", "Cash", accounting.AccountTypeAsset},
		{"ar", "1200", "Accounts Receivable", accounting.AccountTypeAsset},
		{"tax_in", "1300", "Input Tax", accounting.AccountTypeAsset},
		{"ap", "2100", "Accounts Payable", accounting.AccountTypeLiability},
		{"tax_out", "2200", "Output Tax", accounting.AccountTypeLiability},
		{"revenue", "4000", "Sales", accounting.AccountTypeRevenue},
		{"expense", "5000", "Purchases", accounting.AccountTypeExpense},
	} {
		acc, err := ledger.CreateAccount(ctx, accounting.CreateAccountInput{Number: a.number, Name: a.name, Type: a.typ, Actor: "tester"})
		require.NoError(t, err)
		accounts[a.key] = acc
	}

	repo := NewMemoryRepository()
	cache := &countingCache{}
	metrics := &countingMetrics{}
	svc := NewService(repo, ledger, mappings.NewStatic(nil), Options{
		Locker:      lock.NewLocal(200 * time.Millisecond),
		Cache:       cache,
		Idempotency: shared.NewMemoryIdempotency(),
		Metrics:     metrics,
	})
	svc.WithNow(func() time.Time { return fixedNow })
	return &fixture{svc: svc, ledger: ledger, repo: repo, accounts: accounts, cache: cache, metrics: metrics}
}

func (f *fixture) balance(t *testing.T, key string) string {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), f.accounts[key].ID)
	require.NoError(t, err)
	return bal.String()
}

func (f *fixture) journalCount(t *testing.T) int {
	t.Helper()
	entries, err := f.ledger.ListJournalEntries(context.Background(), accounting.JournalFilter{})
	require.NoError(t, err)
	return len(entries)
}

func singleLine(amount string) []LineInput {
	return []LineInput{{Description: "services", Quantity: decimal.NewFromInt(1), UnitPrice: money.MustParse(amount)}}
}

func (f *fixture) issuedInvoice(t *testing.T, amount string, issue, due time.Time) Document {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		IssueDate:    issue,
		DueDate:      &due,
		Lines:        singleLine(amount),
		Issue:        true,
		Actor:        "tester",
	})
	require.NoError(t, err)
	return doc
}

func TestCreateAssignsNumberAndDueDate(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(context.Background(), CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		IssueDate:    day(2024, 3, 1),
		Terms:        TermsNet15,
		Lines:        singleLine("250"),
		Actor:        "tester",
	})
	require.NoError(t, err)
	require.Equal(t, "INV-000001", doc.Number)
	require.Equal(t, day(2024, 3, 16), doc.DueDate)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, money.Currency("USD"), doc.Currency)
	require.Equal(t, "250.00", doc.BalanceDue.String())
	require.Nil(t, doc.RecognitionEntryID)
	require.Zero(t, f.journalCount(t))

	bill, err := f.svc.Create(context.Background(), CreateInput{
		Kind:         KindPayable,
		Counterparty: Counterparty{ID: "V-1", Name: "Supplies Co"},
		Lines:        singleLine("80"),
	})
	require.NoError(t, err)
	require.Equal(t, "BILL-000001", bill.Number)
	require.Equal(t, day(2024, 4, 14), bill.DueDate)

	_, err = f.svc.Create(context.Background(), CreateInput{
		Kind:         KindReceivable,
		Number:       "INV-000001",
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		Lines:        singleLine("1"),
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInput{
		Kind:         KindPayable,
		Counterparty: Counterparty{ID: "V-1", Name: "Vendor"},
		IssueDate:    day(2024, 3, 1),
		Lines:        singleLine("100"),
	}
	before := day(2024, 2, 1)
	cases := map[string]func(in *CreateInput){
		"unknown kind":        func(in *CreateInput) { in.Kind = "LOAN" },
		"missing name":        func(in *CreateInput) { in.Counterparty.Name = " " },
		"no lines":            func(in *CreateInput) { in.Lines = nil },
		"zero quantity":       func(in *CreateInput) { in.Lines[0].Quantity = decimal.Zero },
		"negative price":      func(in *CreateInput) { in.Lines[0].UnitPrice = money.MustParse("-1") },
		"tax above hundred":   func(in *CreateInput) { in.Lines[0].TaxRate = decimal.NewFromInt(101) },
		"due before issue":    func(in *CreateInput) { in.DueDate = &before },
		"custom without due":  func(in *CreateInput) { in.Terms = TermsCustom },
		"discount > subtotal": func(in *CreateInput) { in.Discount = money.MustParse("100.01") },
		"negative discount":   func(in *CreateInput) { in.Discount = money.MustParse("-1") },
		"disabled currency":   func(in *CreateInput) { in.Currency = "EUR" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			in.Lines = singleLine("100")
			mutate(&in)
			_, err := f.svc.Create(ctx, in)
			require.ErrorIs(t, err, ErrInvalidDocument)
			require.True(t, shared.Is(err, shared.KindValidation))
		})
	}

	in := base
	in.Kind = KindReceivable
	in.Discount = money.MustParse("5")
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidDocument, "receivables do not take discounts")
}

func TestIssueInvoicePostsRecognitionEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		IssueDate:    day(2024, 3, 1),
		Lines: []LineInput{
			{Description: "widgets", Quantity: decimal.NewFromInt(10), UnitPrice: money.MustParse("50"), TaxRate: decimal.NewFromInt(10)},
			{Description: "shipping", Quantity: decimal.NewFromInt(1), UnitPrice: money.MustParse("20")},
		},
	})
	require.NoError(t, err)

	doc, err = f.svc.Issue(ctx, KindReceivable, doc.ID, "tester")
	require.NoError(t, err)
	require.Equal(t, StatusSent, doc.Status)
	require.NotNil(t, doc.IssuedAt)
	require.NotNil(t, doc.RecognitionEntryID)
	require.Equal(t, "570.00", doc.Total.String())

	entry, err := f.ledger.GetJournalEntry(ctx, *doc.RecognitionEntryID)
	require.NoError(t, err)
	require.Equal(t, "invoice", entry.ReferenceType)
	require.Equal(t, doc.Number, entry.ReferenceID)
	require.Len(t, entry.Lines, 3)
	require.Equal(t, "570.00", f.balance(t, "ar"))
	require.Equal(t, "-520.00", f.balance(t, "revenue"))
	require.Equal(t, "-50.00", f.balance(t, "tax_out"))

	_, err = f.svc.Issue(ctx, KindReceivable, doc.ID, "tester")
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestIssueBillBooksExpenseNetOfDiscount(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Create(context.Background(), CreateInput{
		Kind:         KindPayable,
		Counterparty: Counterparty{ID: "V-1", Name: "Vendor"},
		IssueDate:    day(2024, 3, 1),
		Discount:     money.MustParse("10"),
		Lines: []LineInput{
			{Quantity: decimal.NewFromInt(2), UnitPrice: money.MustParse("100"), TaxRate: decimal.NewFromInt(5)},
		},
		Issue: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, doc.Status)
	require.Equal(t, "200.00", doc.Total.String())
	require.Equal(t, "190.00", f.balance(t, "expense"))
	require.Equal(t, "10.00", f.balance(t, "tax_in"))
	require.Equal(t, "-200.00", f.balance(t, "ap"))
}

func TestIssuedCreateLeavesNothingBehindOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{
		Kind:         KindReceivable,
		Number:       "INV-X",
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		Lines:        singleLine("100"),
		Issue:        true,
	}

	f.svc.accounts = mappings.NewStatic(map[mappings.Key]string{mappings.KeyRevenue: "4999"})
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrRequiredAccountNotFound)

	docs, err := f.svc.List(ctx, ListFilter{Kind: KindReceivable})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Zero(t, f.journalCount(t))
	require.Zero(t, f.cache.bumps)

	f.svc.accounts = mappings.NewStatic(nil)
	doc, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "INV-X", doc.Number)
	require.Equal(t, StatusSent, doc.Status)
	require.NotNil(t, doc.RecognitionEntryID)
	require.Equal(t, "100.00", f.balance(t, "ar"))

	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateNumber)
	require.Equal(t, 1, f.journalCount(t))
}

func TestPaymentOnDraftIssuesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-1", Name: "Acme"},
		IssueDate:    day(2024, 3, 1),
		Lines:        singleLine("1000"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, draft.Status)

	doc, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: draft.ID, Amount: money.MustParse("400")})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, doc.Status)
	require.Equal(t, "600.00", doc.BalanceDue.String())
	require.NotNil(t, doc.IssuedAt)
	require.NotNil(t, doc.RecognitionEntryID)
	require.Equal(t, 2, f.journalCount(t))
	require.Equal(t, "600.00", f.balance(t, "ar"))
	require.Equal(t, "400.00", f.balance(t, "cash"))
	require.Equal(t, "-1000.00", f.balance(t, "revenue"))

	_, err = f.svc.Issue(ctx, KindReceivable, draft.ID, "tester")
	require.ErrorIs(t, err, ErrNotEditable)

	f.svc.accounts = mappings.NewStatic(map[mappings.Key]string{mappings.KeyRevenue: "4999"})
	other, err := f.svc.Create(ctx, CreateInput{Kind: KindReceivable, Counterparty: Counterparty{ID: "C-2", Name: "Beta"}, Lines: singleLine("50")})
	require.NoError(t, err)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: other.ID, Amount: money.MustParse("50")})
	require.ErrorIs(t, err, ErrRequiredAccountNotFound)
	got, err := f.svc.Get(ctx, KindReceivable, other.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Nil(t, got.IssuedAt)
	require.Equal(t, 2, f.journalCount(t))
}

func TestOverdueInvoiceAgesIntoThirtyDayBucket(t *testing.T) {
	f := newFixture(t)
	due := day(2024, 3, 15).AddDate(0, 0, -30)
	doc := f.issuedInvoice(t, "1000", due.AddDate(0, 0, -30), due)

	got, err := f.svc.Get(context.Background(), KindReceivable, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, got.Status)
	require.Equal(t, "1000.00", got.Aging.Days30.String())
	require.True(t, got.Aging.Current.IsZero())
	require.True(t, got.Aging.Days60.IsZero())
	require.True(t, got.Aging.Days90.IsZero())
	require.True(t, got.Aging.Days90Plus.IsZero())
}

func TestFullPaymentSettlesInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "1000", day(2024, 3, 1), day(2024, 3, 31))
	journalsBefore := f.journalCount(t)

	paid, payment, err := f.svc.RecordPayment(ctx, PaymentInput{
		Kind:       KindReceivable,
		DocumentID: doc.ID,
		Amount:     money.MustParse("1000"),
		Method:     MethodBankTransfer,
		Actor:      "cashier",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.True(t, paid.BalanceDue.IsZero())
	require.True(t, paid.Aging.Total().IsZero())
	require.Len(t, paid.Payments, 1)
	require.Equal(t, day(2024, 3, 15), payment.Date)
	require.Equal(t, journalsBefore+1, f.journalCount(t))

	entry, err := f.ledger.GetJournalEntry(ctx, *payment.JournalEntryID)
	require.NoError(t, err)
	require.Equal(t, "payment", entry.ReferenceType)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, f.accounts["cash"].ID, entry.Lines[0].AccountID)
	require.Equal(t, "1000.00", entry.Lines[0].Debit.String())
	require.Equal(t, f.accounts["ar"].ID, entry.Lines[1].AccountID)
	require.Equal(t, "1000.00", entry.Lines[1].Credit.String())

	require.Equal(t, "1000.00", f.balance(t, "cash"))
	require.Equal(t, "0.00", f.balance(t, "ar"))
	require.Equal(t, 1, f.metrics.payments["receivable"])

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrAlreadyFullyPaid)
}

func TestOverpaymentRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "1000", day(2024, 3, 1), day(2024, 3, 31))
	journalsBefore := f.journalCount(t)

	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{
		Kind:       KindReceivable,
		DocumentID: doc.ID,
		Amount:     money.MustParse("1200"),
	})
	require.ErrorIs(t, err, ErrOverpayment)
	require.True(t, shared.Is(err, shared.KindStateConflict))

	got, err := f.svc.Get(ctx, KindReceivable, doc.ID)
	require.NoError(t, err)
	require.True(t, got.AmountPaid.IsZero())
	require.Equal(t, "1000.00", got.BalanceDue.String())
	require.Empty(t, got.Payments)
	require.Equal(t, doc.Version, got.Version)
	require.Equal(t, journalsBefore, f.journalCount(t))
	require.Equal(t, "0.00", f.balance(t, "cash"))
}

func TestPartialPaymentsOnBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.Create(ctx, CreateInput{
		Kind:         KindPayable,
		Counterparty: Counterparty{ID: "V-1", Name: "Vendor"},
		IssueDate:    day(2024, 3, 1),
		Lines:        singleLine("300"),
		Issue:        true,
	})
	require.NoError(t, err)

	bill, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindPayable, DocumentID: bill.ID, Amount: money.MustParse("100"), Method: MethodCheque})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, bill.Status)
	require.Equal(t, "200.00", bill.BalanceDue.String())
	require.Equal(t, "-100.00", f.balance(t, "cash"))
	require.Equal(t, "-200.00", f.balance(t, "ap"))

	bill, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindPayable, DocumentID: bill.ID, Amount: money.MustParse("200")})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, bill.Status)
	require.Equal(t, "0.00", f.balance(t, "ap"))
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.Zero})
	require.ErrorIs(t, err, ErrInvalidPayment)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("1"), Method: "BARTER"})
	require.ErrorIs(t, err, ErrInvalidPayment)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: 999, Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrDocumentNotFound)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindPayable, DocumentID: doc.ID, Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrDocumentNotFound, "kind must match")
}

func TestPaymentRequiresMappedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	f.svc.accounts = mappings.NewStatic(map[mappings.Key]string{mappings.KeyCash: "1999"})
	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("10")})
	require.ErrorIs(t, err, ErrRequiredAccountNotFound)
	require.True(t, shared.Is(err, shared.KindReference))

	f.svc.accounts = mappings.NewStatic(nil)
	_, err = f.ledger.DeactivateAccount(ctx, f.accounts["cash"].ID, "tester")
	require.NoError(t, err)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("10")})
	require.ErrorIs(t, err, ErrRequiredAccountNotFound)

	got, err := f.svc.Get(ctx, KindReceivable, doc.ID)
	require.NoError(t, err)
	require.True(t, got.AmountPaid.IsZero())
}

func TestIdempotentPaymentKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	in := PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("40"), IdempotencyKey: "pay-1"}
	first, payment, err := f.svc.RecordPayment(ctx, in)
	require.NoError(t, err)
	journals := f.journalCount(t)

	replayed, again, err := f.svc.RecordPayment(ctx, in)
	require.NoError(t, err)
	require.Equal(t, payment.ID, again.ID)
	require.Equal(t, first.Version, replayed.Version)
	require.Equal(t, "60.00", replayed.BalanceDue.String())
	require.Equal(t, journals, f.journalCount(t))
	require.Equal(t, 1, f.metrics.payments["receivable"])

	got, err := f.svc.Get(ctx, KindReceivable, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "40.00", got.AmountPaid.String())
	require.Len(t, got.Payments, 1)

	other := f.issuedInvoice(t, "10", day(2024, 3, 1), day(2024, 3, 31))
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: other.ID, Amount: money.MustParse("5"), IdempotencyKey: "pay-1"})
	require.ErrorIs(t, err, shared.ErrDuplicateRequest, "a key belongs to one document")

	rejected := PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("500"), IdempotencyKey: "pay-2"}
	_, _, err = f.svc.RecordPayment(ctx, rejected)
	require.ErrorIs(t, err, ErrOverpayment)
	rejected.Amount = money.MustParse("60")
	_, _, err = f.svc.RecordPayment(ctx, rejected)
	require.NoError(t, err, "a failed attempt releases its key")
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = lock.NewLocal(5 * time.Second)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("30")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrOverpayment) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	got, err := f.svc.Get(ctx, KindReceivable, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "90.00", got.AmountPaid.String())
	require.Len(t, got.Payments, 3)
	require.Equal(t, "10.00", f.balance(t, "ar"))
}

func TestLockContentionSurfacesConcurrencyError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	release, err := f.svc.locker.Acquire(ctx, shared.DocumentLockKey(KindReceivable.Slug(), doc.ID))
	require.NoError(t, err)
	defer release()

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("10")})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.True(t, shared.Is(err, shared.KindConcurrency))
}

type conflictingRepo struct {
	*MemoryRepository
	fail bool
}

func (r *conflictingRepo) Update(ctx context.Context, doc Document, expected int64, payment *Payment) (Document, error) {
	if r.fail && payment != nil {
		return Document{}, ErrConcurrentModification
	}
	return r.MemoryRepository.Update(ctx, doc, expected, payment)
}

func TestFailedSaveReversesPaymentEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &conflictingRepo{MemoryRepository: f.repo}
	f.svc.repo = repo
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))

	repo.fail = true
	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("25")})
	require.ErrorIs(t, err, ErrConcurrentModification)

	require.Equal(t, "0.00", f.balance(t, "cash"))
	require.Equal(t, "100.00", f.balance(t, "ar"))
	payments, err := f.ledger.ListJournalEntries(ctx, accounting.JournalFilter{ReferenceType: "payment"})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, accounting.JournalStatusReversed, payments[0].Status)
}

func TestStaleVersionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 31))
	_, err := f.repo.Update(ctx, doc, doc.Version-1, nil)
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestApproveBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.Create(ctx, CreateInput{
		Kind:             KindPayable,
		Counterparty:     Counterparty{ID: "V-1", Name: "Vendor"},
		Lines:            singleLine("75"),
		ApprovalRequired: true,
		Issue:            true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, bill.Status)

	_, err = f.svc.Approve(ctx, ApproveInput{ID: bill.ID})
	require.ErrorIs(t, err, ErrInvalidDocument)

	bill, err = f.svc.Approve(ctx, ApproveInput{ID: bill.ID, ApprovedBy: "cfo", Notes: "ok"})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, bill.Status)
	require.Equal(t, "cfo", bill.Approval.ApprovedBy)

	_, err = f.svc.Approve(ctx, ApproveInput{ID: bill.ID, ApprovedBy: "cfo"})
	require.ErrorIs(t, err, ErrNotApprovable)

	plain, err := f.svc.Create(ctx, CreateInput{Kind: KindPayable, Counterparty: Counterparty{ID: "V-2", Name: "Other"}, Lines: singleLine("5")})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, ApproveInput{ID: plain.ID, ApprovedBy: "cfo"})
	require.ErrorIs(t, err, ErrNotApprovable)
}

func TestUpdateLinesOnlyWhileDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, CreateInput{Kind: KindReceivable, Counterparty: Counterparty{ID: "C-1", Name: "Acme"}, Lines: singleLine("10")})
	require.NoError(t, err)

	notes := "revised"
	doc, err = f.svc.UpdateLines(ctx, UpdateLinesInput{Kind: KindReceivable, ID: doc.ID, Lines: singleLine("15"), Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, "15.00", doc.Total.String())
	require.Equal(t, "revised", doc.Notes)
	require.EqualValues(t, 2, doc.Version)

	_, err = f.svc.Issue(ctx, KindReceivable, doc.ID, "tester")
	require.NoError(t, err)
	_, err = f.svc.UpdateLines(ctx, UpdateLinesInput{Kind: KindReceivable, ID: doc.ID, Lines: singleLine("20")})
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestCancelReversesRecognition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "500", day(2024, 3, 1), day(2024, 3, 31))
	require.Equal(t, "500.00", f.balance(t, "ar"))

	cancelled, err := f.svc.Cancel(ctx, KindReceivable, doc.ID, "tester", "duplicate")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.True(t, cancelled.Aging.Total().IsZero())
	require.Equal(t, "0.00", f.balance(t, "ar"))
	require.Equal(t, "0.00", f.balance(t, "revenue"))

	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrNotPayable)
	_, err = f.svc.Cancel(ctx, KindReceivable, doc.ID, "tester", "")
	require.ErrorIs(t, err, ErrNotCancellable)

	require.NoError(t, f.svc.Delete(ctx, KindReceivable, doc.ID, "tester"))
	_, err = f.svc.Get(ctx, KindReceivable, doc.ID)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCancelRejectedAfterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "500", day(2024, 3, 1), day(2024, 3, 31))
	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: doc.ID, Amount: money.MustParse("1")})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, KindReceivable, doc.ID, "tester", "")
	require.ErrorIs(t, err, ErrNotCancellable)
	require.ErrorIs(t, f.svc.Delete(ctx, KindReceivable, doc.ID, "tester"), ErrNotEditable)
}

func TestControlAccountReconcilesWithOpenInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.issuedInvoice(t, "400", day(2024, 2, 1), day(2024, 3, 1))
	b := f.issuedInvoice(t, "250.50", day(2024, 3, 1), day(2024, 3, 31))
	c := f.issuedInvoice(t, "99.99", day(2024, 3, 5), day(2024, 4, 4))

	_, _, err := f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: a.ID, Amount: money.MustParse("150")})
	require.NoError(t, err)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: b.ID, Amount: money.MustParse("250.50")})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, KindReceivable, c.ID, "tester", "")
	require.NoError(t, err)

	draft, err := f.svc.Create(ctx, CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-3", Name: "Drafty"},
		IssueDate:    day(2024, 3, 10),
		Lines:        singleLine("1000"),
	})
	require.NoError(t, err)
	_, _, err = f.svc.RecordPayment(ctx, PaymentInput{Kind: KindReceivable, DocumentID: draft.ID, Amount: money.MustParse("400")})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateInput{
		Kind:         KindReceivable,
		Counterparty: Counterparty{ID: "C-4", Name: "Unissued"},
		Lines:        singleLine("75"),
	})
	require.NoError(t, err)

	docs, err := f.svc.List(ctx, ListFilter{Kind: KindReceivable})
	require.NoError(t, err)
	outstanding := money.Zero
	for _, doc := range docs {
		if doc.Open() && doc.IssuedAt != nil {
			outstanding = outstanding.Add(doc.BalanceDue)
		}
	}
	require.Equal(t, "850.00", outstanding.String())
	require.Equal(t, outstanding.String(), f.balance(t, "ar"))
}

func TestListFiltersByRecomputedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issuedInvoice(t, "10", day(2024, 1, 1), day(2024, 1, 31))
	f.issuedInvoice(t, "20", day(2024, 3, 1), day(2024, 3, 31))
	f.issuedInvoice(t, "30", day(2024, 1, 10), day(2024, 2, 10))

	overdue, err := f.svc.List(ctx, ListFilter{Kind: KindReceivable, Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 2)

	page, err := f.svc.List(ctx, ListFilter{Kind: KindReceivable, Status: StatusOverdue, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "30.00", page[0].Total.String())
}

func TestRefreshAgingPersistsStatusChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.issuedInvoice(t, "100", day(2024, 3, 1), day(2024, 3, 20))
	require.Equal(t, StatusSent, doc.Status)

	later := day(2024, 5, 1)
	f.svc.WithNow(func() time.Time { return later })
	bumps := f.cache.bumps

	changed, err := f.svc.RefreshAging(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, changed)
	require.Greater(t, f.cache.bumps, bumps)

	stored, err := f.repo.Get(ctx, KindReceivable, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, stored.Status)
	require.Equal(t, "100.00", stored.Aging.Days60.String())

	changed, err = f.svc.RefreshAging(ctx)
	require.NoError(t, err)
	require.Zero(t, changed)
}
