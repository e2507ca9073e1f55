package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundingHalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"1.005":   "1.01",
		"1.004":   "1.00",
		"-1.005":  "-1.01",
		"2.675":   "2.68",
		"100":     "100.00",
		"0.125":   "0.13",
		"-0.125":  "-0.13",
		"19.9949": "19.99",
	}
	for in, want := range cases {
		require.Equal(t, want, MustParse(in).String(), in)
	}
}

func TestArithmeticStaysRounded(t *testing.T) {
	a := MustParse("10.10")
	b := MustParse("0.20")
	require.Equal(t, "10.30", a.Add(b).String())
	require.Equal(t, "9.90", a.Sub(b).String())
	require.Equal(t, "-10.10", a.Neg().String())
	require.Equal(t, "30.30", a.Mul(decimal.NewFromInt(3)).String())
	require.Equal(t, "0.83", MustParse("8.25").Percent(decimal.NewFromInt(10)).String())
	require.True(t, Sum(a, b, b.Neg()).Equal(a))
	require.True(t, Max(a, b).Equal(a))
	require.True(t, FromCents(1234).Equal(MustParse("12.34")))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,50")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestJSONRoundTripFormatsTwoDecimals(t *testing.T) {
	payload, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: FromInt(5)})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":5.00}`, string(payload))

	var decoded struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.345"}`), &decoded))
	require.Equal(t, "12.35", decoded.Amount.String())
}

func TestScanAndValue(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("42.499"))
	require.Equal(t, "42.50", m.String())
	v, err := m.Value()
	require.NoError(t, err)
	require.Equal(t, "42.50", v)
}

func TestCurrencySet(t *testing.T) {
	set, err := NewCurrencySet("usd", []string{"EUR"})
	require.NoError(t, err)
	require.Equal(t, Currency("USD"), set.Default())

	c, err := set.Resolve("")
	require.NoError(t, err)
	require.Equal(t, Currency("USD"), c)

	c, err = set.Resolve("eur")
	require.NoError(t, err)
	require.Equal(t, Currency("EUR"), c)

	_, err = set.Resolve("GBP")
	require.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = set.Resolve("XYZ1")
	require.ErrorIs(t, err, ErrInvalidCurrency)
}
