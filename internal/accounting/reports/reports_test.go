package reports

import (
	"testing"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

var order = []string{TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense}

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		{Number: "1100", Name: "Bank", Type: TypeAsset, Balance: money.FromInt(300)},
		{Number: "1000", Name: "Cash", Type: TypeAsset, Balance: money.FromInt(500)},
		{Number: "2100", Name: "Accounts Payable", Type: TypeLiability, CreditNormal: true, Balance: money.FromInt(-200)},
		{Number: "3000", Name: "Capital", Type: TypeEquity, CreditNormal: true, Balance: money.FromInt(-400)},
		{Number: "4000", Name: "Sales", Type: TypeRevenue, CreditNormal: true, Balance: money.FromInt(-500)},
		{Number: "5000", Name: "Rent", Type: TypeExpense, Balance: money.FromInt(300)},
	}

	tb := BuildTrialBalance(accounts, order)
	if len(tb.Groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(tb.Groups))
	}
	if tb.Groups[0].Accounts[0].Number != "1000" {
		t.Fatalf("expected accounts sorted by number, got %s first", tb.Groups[0].Accounts[0].Number)
	}
	if !tb.Assets.Equal(money.FromInt(800)) {
		t.Fatalf("unexpected assets: %s", tb.Assets)
	}
	if !tb.Revenue.Equal(money.FromInt(500)) {
		t.Fatalf("revenue should be presented credit-positive, got %s", tb.Revenue)
	}
	if !tb.TotalDebit.Equal(tb.TotalCredit) {
		t.Fatalf("debit %s != credit %s", tb.TotalDebit, tb.TotalCredit)
	}
	if !tb.NetIncome().Equal(money.FromInt(200)) {
		t.Fatalf("unexpected net income: %s", tb.NetIncome())
	}
	if !tb.Balanced() {
		t.Fatalf("expected balanced trial balance: %+v", tb)
	}
}

func TestBuildTrialBalanceReportsImbalance(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		{Number: "1000", Name: "Cash", Type: TypeAsset, Balance: money.FromInt(10)},
	}, order)
	if tb.Balanced() {
		t.Fatal("expected unbalanced trial balance")
	}
	if len(tb.Groups) != 1 {
		t.Fatalf("expected only populated groups, got %d", len(tb.Groups))
	}
}

func TestBuildTrialBalanceAppendsUnknownTypes(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		{Number: "9000", Name: "Suspense", Type: "MEMO", Balance: money.FromInt(1)},
		{Number: "1000", Name: "Cash", Type: TypeAsset, Balance: money.FromInt(1)},
	}, order)
	if tb.Groups[0].Type != TypeAsset || tb.Groups[1].Type != "MEMO" {
		t.Fatalf("unexpected group order: %+v", tb.Groups)
	}
}
