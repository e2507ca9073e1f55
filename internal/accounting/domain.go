package accounting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// AccountTypes lists the types in chart order.
var AccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeRevenue,
	AccountTypeExpense,
}

// NumberRange returns the inclusive account number range reserved for the type.
func (t AccountType) NumberRange() (int, int, bool) {
	switch t {
	case AccountTypeAsset:
		return 1000, 1999, true
	case AccountTypeLiability:
		return 2000, 2999, true
	case AccountTypeEquity:
		return 3000, 3999, true
	case AccountTypeRevenue:
		return 4000, 4999, true
	case AccountTypeExpense:
		return 5000, 5999, true
	}
	return 0, 0, false
}

// CreditNormal reports whether the type increases on the credit side.
func (t AccountType) CreditNormal() bool {
	return t == AccountTypeLiability || t == AccountTypeEquity || t == AccountTypeRevenue
}

// AccountCategory is a subtype scoped to one AccountType.
type AccountCategory string

var categoriesByType = map[AccountType][]AccountCategory{
	AccountTypeAsset:     {"CASH", "BANK", "RECEIVABLE", "INVENTORY", "CURRENT_ASSET", "FIXED_ASSET", "OTHER_ASSET"},
	AccountTypeLiability: {"PAYABLE", "TAX_PAYABLE", "CURRENT_LIABILITY", "LONG_TERM_LIABILITY"},
	AccountTypeEquity:    {"CAPITAL", "RETAINED_EARNINGS", "DRAWINGS"},
	AccountTypeRevenue:   {"OPERATING_REVENUE", "OTHER_INCOME"},
	AccountTypeExpense:   {"COST_OF_SALES", "OPERATING_EXPENSE", "PAYROLL", "OTHER_EXPENSE"},
}

// Categories returns the categories allowed for the type.
func (t AccountType) Categories() []AccountCategory {
	return categoriesByType[t]
}

// JournalStatus enumerates journal lifecycle values. REVERSED is derived on read
// from the reversal link and never written to the original row.
type JournalStatus string

const (
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

// ReferenceTypeReversal tags entries produced by Reverse.
const ReferenceTypeReversal = "reversal"

// Account models a chart of accounts node. Balance is debit-positive.
type Account struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	Name              string          `json:"name"`
	Type              AccountType     `json:"type"`
	Category          AccountCategory `json:"category"`
	ParentID          *int64          `json:"parent_id,omitempty"`
	Currency          money.Currency  `json:"currency"`
	Balance           money.Money     `json:"balance"`
	IsActive          bool            `json:"is_active"`
	AllowTransactions bool            `json:"allow_transactions"`
	Description       string          `json:"description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NormalBalance presents the balance with the sign of the account's normal side.
func (a Account) NormalBalance() money.Money {
	if a.Type.CreditNormal() {
		return a.Balance.Neg()
	}
	return a.Balance
}

// Postable reports whether journal lines may reference the account.
func (a Account) Postable() bool {
	return a.IsActive && a.AllowTransactions
}

// AccountNode is an account with its direct children, composed recursively.
type AccountNode struct {
	Account
	Children []AccountNode `json:"children"`
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID            int64         `json:"id"`
	Number        int64         `json:"number"`
	Date          time.Time     `json:"date"`
	Reference     string        `json:"reference,omitempty"`
	Description   string        `json:"description,omitempty"`
	Department    string        `json:"department,omitempty"`
	Module        string        `json:"module,omitempty"`
	ReferenceType string        `json:"reference_type,omitempty"`
	ReferenceID   string        `json:"reference_id,omitempty"`
	CreatedBy     string        `json:"created_by"`
	PostedAt      time.Time     `json:"posted_at"`
	Status        JournalStatus `json:"status"`
	ReversalOf    *int64        `json:"reversal_of,omitempty"`
	ReversedBy    *int64        `json:"reversed_by,omitempty"`
	Lines         []JournalLine `json:"lines"`
}

// Totals returns the debit and credit sums of the entry.
func (e JournalEntry) Totals() (money.Money, money.Money) {
	debit, credit := money.Zero, money.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID            int64       `json:"id"`
	EntryID       int64       `json:"entry_id"`
	LineNo        int         `json:"line_no"`
	AccountID     int64       `json:"account_id"`
	AccountNumber string      `json:"account_number"`
	Debit         money.Money `json:"debit"`
	Credit        money.Money `json:"credit"`
	Description   string      `json:"description,omitempty"`
	Department    string      `json:"department,omitempty"`
}

// LedgerEntry is one append-only general ledger row.
type LedgerEntry struct {
	ID             int64       `json:"id"`
	Date           time.Time   `json:"date"`
	AccountID      int64       `json:"account_id"`
	AccountNumber  string      `json:"account_number"`
	JournalEntryID int64       `json:"journal_entry_id"`
	EntryNumber    int64       `json:"entry_number"`
	LineNo         int         `json:"line_no"`
	Debit          money.Money `json:"debit"`
	Credit         money.Money `json:"credit"`
	RunningBalance money.Money `json:"running_balance"`
	Department     string      `json:"department,omitempty"`
	Module         string      `json:"module,omitempty"`
	Description    string      `json:"description,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// DateRange bounds a query by inclusive calendar dates. Zero values are open ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

// LedgerFilter narrows general ledger queries.
type LedgerFilter struct {
	AccountID      int64
	JournalEntryID int64
	Department     string
	Module         string
	Range          DateRange
	Limit          int
	Offset         int
}

// JournalFilter narrows journal listings.
type JournalFilter struct {
	Range         DateRange
	Module        string
	ReferenceType string
	ReferenceID   string
	Limit         int
	Offset        int
}

// AccountSummary aggregates ledger activity for one account over a range.
type AccountSummary struct {
	AccountID        int64       `json:"account_id"`
	AccountNumber    string      `json:"account_number"`
	TotalDebit       money.Money `json:"total_debit"`
	TotalCredit      money.Money `json:"total_credit"`
	Net              money.Money `json:"net"`
	TransactionCount int         `json:"transaction_count"`
	FirstDate        *time.Time  `json:"first_date,omitempty"`
	LastDate         *time.Time  `json:"last_date,omitempty"`
	OpeningBalance   money.Money `json:"opening_balance"`
	ClosingBalance   money.Money `json:"closing_balance"`
}

// CreateAccountInput holds fields for a new account.
type CreateAccountInput struct {
	Number            string
	Name              string
	Type              AccountType
	Category          AccountCategory
	ParentID          *int64
	Currency          string
	AllowTransactions *bool
	Description       string
	Actor             string
}

// UpdateAccountInput carries mutable account attributes. Nil fields are left unchanged.
type UpdateAccountInput struct {
	ID                int64
	Name              *string
	Description       *string
	Category          *AccountCategory
	ParentID          *int64
	ClearParent       bool
	AllowTransactions *bool
	Actor             string
}

// PostingLineInput describes a journal line for posting request. AccountNumber is
// used when AccountID is zero.
type PostingLineInput struct {
	AccountID     int64
	AccountNumber string
	Debit         money.Money
	Credit        money.Money
	Description   string
	Department    string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Number        int64
	Date          time.Time
	Reference     string
	Description   string
	Department    string
	Module        string
	ReferenceType string
	ReferenceID   string
	CreatedBy     string
	Lines         []PostingLineInput

	reversalOf *int64
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID     int64
	Actor       string
	Description string
	Date        *time.Time
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.NewError(shared.KindValidation, "accounting: journal lines must balance")
	// ErrNoLines indicates an entry without lines.
	ErrNoLines = shared.NewError(shared.KindValidation, "accounting: journal requires lines")
	// ErrInvalidLine indicates a line with both, neither, or negative amounts.
	ErrInvalidLine = shared.NewError(shared.KindValidation, "accounting: invalid journal line")
	// ErrInvalidAccountNumberRange indicates a number outside its type's range.
	ErrInvalidAccountNumberRange = shared.NewError(shared.KindValidation, "accounting: account number outside range for type")
	// ErrDuplicateAccountNumber indicates the number is taken.
	ErrDuplicateAccountNumber = shared.NewError(shared.KindValidation, "accounting: duplicate account number")
	// ErrInvalidCategory indicates a category not allowed for the type.
	ErrInvalidCategory = shared.NewError(shared.KindValidation, "accounting: invalid account category")
	// ErrInvalidAccount indicates malformed account attributes.
	ErrInvalidAccount = shared.NewError(shared.KindValidation, "accounting: invalid account")
	// ErrDuplicateEntryNumber indicates a caller-supplied entry number is taken.
	ErrDuplicateEntryNumber = shared.NewError(shared.KindValidation, "accounting: duplicate entry number")
	// ErrAccountNotFound indicates a missing, inactive, or non-postable account.
	ErrAccountNotFound = shared.NewError(shared.KindReference, "accounting: account not found")
	// ErrParentTypeMismatch indicates a parent of a different type.
	ErrParentTypeMismatch = shared.NewError(shared.KindReference, "accounting: parent account type mismatch")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = shared.NewError(shared.KindStateConflict, "accounting: source already linked")
	// ErrAccountHasBalance indicates an account cannot be deactivated while it carries a balance.
	ErrAccountHasBalance = shared.NewError(shared.KindStateConflict, "accounting: account has a non-zero balance")
	// ErrAlreadyReversed indicates the entry has a reversal.
	ErrAlreadyReversed = shared.NewError(shared.KindStateConflict, "accounting: journal entry already reversed")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.NewError(shared.KindNotFound, "accounting: journal entry not found")
	// ErrSerializationFailure indicates a retryable transaction conflict.
	ErrSerializationFailure = shared.NewError(shared.KindConcurrency, "accounting: serialization failure")
	// ErrConcurrentUpdate indicates retries were exhausted.
	ErrConcurrentUpdate = shared.NewError(shared.KindConcurrency, "accounting: concurrent update, retry later")
)

// Validate ensures posting input meets minimum criteria and returns rounded totals.
func (in PostingInput) Validate() (money.Money, money.Money, error) {
	if len(in.Lines) == 0 {
		return money.Zero, money.Zero, ErrNoLines
	}
	debit, credit := money.Zero, money.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 && strings.TrimSpace(line.AccountNumber) == "" {
			return money.Zero, money.Zero, fmt.Errorf("%w: line %d missing account", ErrInvalidLine, idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return money.Zero, money.Zero, fmt.Errorf("%w: line %d negative amount", ErrInvalidLine, idx+1)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return money.Zero, money.Zero, fmt.Errorf("%w: line %d must carry exactly one of debit or credit", ErrInvalidLine, idx+1)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return debit, credit, fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit, credit)
	}
	return debit, credit, nil
}

func validateAccountNumber(number string, typ AccountType) error {
	lo, hi, ok := typ.NumberRange()
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, typ)
	}
	n, err := strconv.Atoi(number)
	if err != nil || strconv.Itoa(n) != number {
		return fmt.Errorf("%w: %q is not a plain integer", ErrInvalidAccountNumberRange, number)
	}
	if n < lo || n > hi {
		return fmt.Errorf("%w: %s must be within %d-%d for %s", ErrInvalidAccountNumberRange, number, lo, hi, typ)
	}
	return nil
}

func resolveCategory(typ AccountType, category AccountCategory) (AccountCategory, error) {
	allowed := typ.Categories()
	if category == "" {
		return allowed[0], nil
	}
	for _, c := range allowed {
		if c == category {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s not allowed for %s", ErrInvalidCategory, category, typ)
}
