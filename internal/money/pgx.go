package money

import (
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ScanNumeric implements pgtype.NumericScanner so NUMERIC columns scan directly into Money.
func (m *Money) ScanNumeric(v pgtype.Numeric) error {
	if !v.Valid {
		*m = Zero
		return nil
	}
	if v.NaN || v.InfinityModifier != pgtype.Finite {
		return errors.New("money: cannot scan non-finite numeric")
	}
	*m = wrap(decimal.NewFromBigInt(v.Int, v.Exp))
	return nil
}

// Arg renders the amount as a query parameter. The text form is sent in text format
// and cast by Postgres to the column's NUMERIC type.
func (m Money) Arg() string {
	return m.String()
}
