package money

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// ErrInvalidCurrency is returned for codes outside ISO-4217 or the configured set.
var ErrInvalidCurrency = errors.New("money: invalid currency")

// Currency is an ISO-4217 code.
type Currency string

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return Currency(unit.String()), nil
}

// CurrencySet is the enumeration of currencies accepted by the ledger.
type CurrencySet struct {
	def     Currency
	allowed map[Currency]struct{}
}

// NewCurrencySet builds the enumeration; the default must be one of the codes.
func NewCurrencySet(def string, codes []string) (CurrencySet, error) {
	set := CurrencySet{allowed: make(map[Currency]struct{}, len(codes))}
	for _, code := range codes {
		c, err := ParseCurrency(code)
		if err != nil {
			return CurrencySet{}, err
		}
		set.allowed[c] = struct{}{}
	}
	d, err := ParseCurrency(def)
	if err != nil {
		return CurrencySet{}, err
	}
	set.allowed[d] = struct{}{}
	set.def = d
	return set, nil
}

// DefaultCurrencySet accepts only USD.
func DefaultCurrencySet() CurrencySet {
	return CurrencySet{def: "USD", allowed: map[Currency]struct{}{"USD": {}}}
}

// Default returns the currency applied when none is provided.
func (s CurrencySet) Default() Currency { return s.def }

// Resolve returns the default for blank input, otherwise the validated code.
func (s CurrencySet) Resolve(code string) (Currency, error) {
	if strings.TrimSpace(code) == "" {
		return s.def, nil
	}
	c, err := ParseCurrency(code)
	if err != nil {
		return "", err
	}
	if _, ok := s.allowed[c]; !ok {
		return "", fmt.Errorf("%w: %s not enabled", ErrInvalidCurrency, c)
	}
	return c, nil
}
