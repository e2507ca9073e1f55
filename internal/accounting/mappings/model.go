package mappings

import (
	"errors"
	"time"
)

// Key names a ledger role resolved to a concrete account number.
type Key string

const (
	KeyCash          Key = "cash"
	KeyReceivable    Key = "receivable"
	KeyPayable       Key = "payable"
	KeyRevenue       Key = "revenue"
	KeyExpense       Key = "expense"
	KeyTaxPayable    Key = "tax_payable"
	KeyTaxReceivable Key = "tax_receivable"
)

// Keys lists every mapping the subsidiary ledgers rely on.
var Keys = []Key{KeyCash, KeyReceivable, KeyPayable, KeyRevenue, KeyExpense, KeyTaxPayable, KeyTaxReceivable}

// AccountMapping links a key to a ledger account number.
type AccountMapping struct {
	Key           Key       `json:"key"`
	AccountNumber string    `json:"account_number"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ErrMappingNotFound indicates no account is configured for the key.
var ErrMappingNotFound = errors.New("mappings: account mapping not found")
