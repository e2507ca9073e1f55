package subledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Kind distinguishes customer invoices from vendor bills.
type Kind string

const (
	KindReceivable Kind = "RECEIVABLE"
	KindPayable    Kind = "PAYABLE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindReceivable || k == KindPayable }

// Slug is the lower-case name used in routes, lock keys and journal modules.
func (k Kind) Slug() string {
	if k == KindPayable {
		return "payable"
	}
	return "receivable"
}

// IssuedStatus is the status a document takes once it has been sent or received.
func (k Kind) IssuedStatus() Status {
	if k == KindPayable {
		return StatusReceived
	}
	return StatusSent
}

func (k Kind) numberPrefix() string {
	if k == KindPayable {
		return "BILL"
	}
	return "INV"
}

func (k Kind) referenceType() string {
	if k == KindPayable {
		return "bill"
	}
	return "invoice"
}

func (k Kind) describe(number, counterparty string) string {
	if k == KindPayable {
		return fmt.Sprintf("Bill %s from %s", number, counterparty)
	}
	return fmt.Sprintf("Invoice %s to %s", number, counterparty)
}

// FormatNumber renders a sequence value as a document number.
func (k Kind) FormatNumber(seq int64) string {
	return fmt.Sprintf("%s-%06d", k.numberPrefix(), seq)
}

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusReceived  Status = "RECEIVED"
	StatusApproved  Status = "APPROVED"
	StatusPartial   Status = "PARTIAL"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// Terms enumerates payment terms.
type Terms string

const (
	TermsNet15        Terms = "NET_15"
	TermsNet30        Terms = "NET_30"
	TermsNet45        Terms = "NET_45"
	TermsNet60        Terms = "NET_60"
	TermsDueOnReceipt Terms = "DUE_ON_RECEIPT"
	TermsCustom       Terms = "CUSTOM"
)

// Days returns the credit period of the terms. ok is false for CUSTOM and unknown terms.
func (t Terms) Days() (int, bool) {
	switch t {
	case TermsNet15:
		return 15, true
	case TermsNet30:
		return 30, true
	case TermsNet45:
		return 45, true
	case TermsNet60:
		return 60, true
	case TermsDueOnReceipt:
		return 0, true
	}
	return 0, false
}

// PaymentMethod enumerates how a payment was settled.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodCard         PaymentMethod = "CARD"
	MethodOther        PaymentMethod = "OTHER"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCheque, MethodCard, MethodOther:
		return true
	}
	return false
}

// Counterparty is the customer or vendor snapshot stored on the document.
type Counterparty struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
}

// LineItem is one billed line. Amount and TaxAmount are derived by Recompute.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   money.Money     `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Amount      money.Money     `json:"amount"`
	TaxAmount   money.Money     `json:"tax_amount"`
}

// Payment records one settlement applied to a document.
type Payment struct {
	ID             string        `json:"id"`
	Date           time.Time     `json:"date"`
	Amount         money.Money   `json:"amount"`
	Method         PaymentMethod `json:"method"`
	Reference      string        `json:"reference,omitempty"`
	JournalEntryID *int64        `json:"journal_entry_id,omitempty"`
	RecordedBy     string        `json:"recorded_by"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// Aging places the open balance in exactly one bucket.
type Aging struct {
	Current    money.Money `json:"current"`
	Days30     money.Money `json:"days_30"`
	Days60     money.Money `json:"days_60"`
	Days90     money.Money `json:"days_90"`
	Days90Plus money.Money `json:"days_90_plus"`
	AsOf       time.Time   `json:"as_of"`
}

// Total sums the buckets.
func (a Aging) Total() money.Money {
	return money.Sum(a.Current, a.Days30, a.Days60, a.Days90, a.Days90Plus)
}

// Approval tracks the payable approval workflow.
type Approval struct {
	Required   bool       `json:"required"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Document is a receivable invoice or a payable bill.
type Document struct {
	ID                 int64          `json:"id"`
	Kind               Kind           `json:"kind"`
	Number             string         `json:"number"`
	Counterparty       Counterparty   `json:"counterparty"`
	IssueDate          time.Time      `json:"issue_date"`
	DueDate            time.Time      `json:"due_date"`
	Terms              Terms          `json:"terms"`
	Currency           money.Currency `json:"currency"`
	Subtotal           money.Money    `json:"subtotal"`
	Tax                money.Money    `json:"tax"`
	Discount           money.Money    `json:"discount"`
	Total              money.Money    `json:"total"`
	AmountPaid         money.Money    `json:"amount_paid"`
	BalanceDue         money.Money    `json:"balance_due"`
	Status             Status         `json:"status"`
	Lines              []LineItem     `json:"lines"`
	Payments           []Payment      `json:"payments"`
	Aging              Aging          `json:"aging"`
	Approval           Approval       `json:"approval"`
	RecognitionEntryID *int64         `json:"recognition_entry_id,omitempty"`
	IssuedAt           *time.Time     `json:"issued_at,omitempty"`
	Notes              string         `json:"notes,omitempty"`
	CreatedBy          string         `json:"created_by"`
	Deleted            bool           `json:"-"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Open reports whether the document still carries exposure for aging purposes.
func (d Document) Open() bool {
	return !d.Deleted && d.Status != StatusCancelled
}

// Overdue reports whether the due date has passed with a balance outstanding.
func (d Document) Overdue(now time.Time) bool {
	return DaysPastDue(d.DueDate, now) > 0 && d.BalanceDue.IsPositive()
}

// LineInput describes a line on create or edit.
type LineInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   money.Money
	TaxRate     decimal.Decimal
}

// CreateInput holds the fields of a new document.
type CreateInput struct {
	Kind             Kind
	Number           string
	Counterparty     Counterparty
	IssueDate        time.Time
	DueDate          *time.Time
	Terms            Terms
	Currency         string
	Discount         money.Money
	Lines            []LineInput
	Notes            string
	ApprovalRequired bool
	Issue            bool
	Actor            string
}

// UpdateLinesInput replaces the lines of a draft document.
type UpdateLinesInput struct {
	Kind     Kind
	ID       int64
	Lines    []LineInput
	Discount *money.Money
	DueDate  *time.Time
	Notes    *string
	Actor    string
}

// PaymentInput applies a payment to a document.
type PaymentInput struct {
	Kind           Kind
	DocumentID     int64
	Amount         money.Money
	Date           time.Time
	Method         PaymentMethod
	Reference      string
	IdempotencyKey string
	Actor          string
}

// ApproveInput approves a payable.
type ApproveInput struct {
	ID         int64
	ApprovedBy string
	Notes      string
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind           Kind
	Status         Status
	CounterpartyID string
	IssuedFrom     time.Time
	IssuedTo       time.Time
	IncludeDeleted bool
	Limit          int
	Offset         int
}

var (
	// ErrInvalidDocument indicates malformed document attributes.
	ErrInvalidDocument = shared.NewError(shared.KindValidation, "subledger: invalid document")
	// ErrInvalidPayment indicates malformed payment attributes.
	ErrInvalidPayment = shared.NewError(shared.KindValidation, "subledger: invalid payment")
	// ErrAlreadyFullyPaid indicates the document has no balance due.
	ErrAlreadyFullyPaid = shared.NewError(shared.KindStateConflict, "subledger: document already fully paid")
	// ErrOverpayment indicates the payment exceeds the balance due.
	ErrOverpayment = shared.NewError(shared.KindStateConflict, "subledger: payment exceeds balance due")
	// ErrNotApprovable indicates approval is not required or already given.
	ErrNotApprovable = shared.NewError(shared.KindStateConflict, "subledger: document not approvable")
	// ErrNotEditable indicates the document is past draft.
	ErrNotEditable = shared.NewError(shared.KindStateConflict, "subledger: document not editable")
	// ErrNotCancellable indicates payments were applied or the document is closed.
	ErrNotCancellable = shared.NewError(shared.KindStateConflict, "subledger: document not cancellable")
	// ErrNotPayable indicates the document is cancelled.
	ErrNotPayable = shared.NewError(shared.KindStateConflict, "subledger: document does not accept payments")
	// ErrRequiredAccountNotFound indicates a mapped cash or control account is missing.
	ErrRequiredAccountNotFound = shared.NewError(shared.KindReference, "subledger: required account not found")
	// ErrConcurrentModification indicates the document changed since it was read.
	ErrConcurrentModification = shared.NewError(shared.KindConcurrency, "subledger: document modified concurrently")
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = shared.NewError(shared.KindNotFound, "subledger: document not found")
	// ErrDuplicateNumber indicates the document number is taken for the kind.
	ErrDuplicateNumber = shared.NewError(shared.KindValidation, "subledger: duplicate document number")
)

// LedgerPostError reports a journal failure that left ledger and document out of step,
// typically when a compensating reversal could not be posted.
type LedgerPostError struct {
	Err       error
	Retryable bool
	Message   string
}

func (e *LedgerPostError) Error() string { return e.Message }

func (e *LedgerPostError) Unwrap() error { return e.Err }

func wrapLedgerPostError(doc Document, entryID int64, cause, compensation error) *LedgerPostError {
	return &LedgerPostError{
		Err:       errors.Join(cause, compensation),
		Retryable: false,
		Message: fmt.Sprintf("subledger: %s %s saved no changes but journal entry %d could not be reversed (%v)",
			doc.Kind.Slug(), doc.Number, entryID, compensation),
	}
}
