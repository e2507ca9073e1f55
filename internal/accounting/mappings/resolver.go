package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver returns the account number configured for a key.
type Resolver interface {
	Resolve(ctx context.Context, key Key) (string, error)
}

// Defaults mirror the seeded chart of accounts.
var Defaults = map[Key]string{
	KeyCash:          "1000",
	KeyReceivable:    "1200",
	KeyTaxReceivable: "1300",
	KeyPayable:       "2100",
	KeyTaxPayable:    "2200",
	KeyRevenue:       "4000",
	KeyExpense:       "5000",
}

// Static resolves keys from a fixed table, typically built from configuration.
type Static map[Key]string

// NewStatic merges overrides on top of Defaults. Blank overrides are ignored.
func NewStatic(overrides map[Key]string) Static {
	s := make(Static, len(Defaults))
	for k, v := range Defaults {
		s[k] = v
	}
	for k, v := range overrides {
		if v = strings.TrimSpace(v); v != "" {
			s[k] = v
		}
	}
	return s
}

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, key Key) (string, error) {
	number, ok := s[key]
	if !ok || number == "" {
		return "", fmt.Errorf("%w: %s", ErrMappingNotFound, key)
	}
	return number, nil
}

// Chain consults resolvers in order and returns the first hit.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, key Key) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		number, err := r.Resolve(ctx, key)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrMappingNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMappingNotFound, key)
}
