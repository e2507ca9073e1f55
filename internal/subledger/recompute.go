package subledger

import (
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// DaysPastDue is the whole number of days elapsed since due, floored. It is zero or
// negative until the due date has passed.
func DaysPastDue(due, now time.Time) int {
	return int(math.Floor(now.Sub(due).Hours() / 24))
}

// Recompute derives totals, balance, status and aging of doc as of now. It is pure
// and must run before every save.
func Recompute(doc Document, now time.Time) Document {
	subtotal, tax := money.Zero, money.Zero
	lines := make([]LineItem, len(doc.Lines))
	for i, line := range doc.Lines {
		line.Amount = line.UnitPrice.Mul(line.Quantity)
		line.TaxAmount = line.Amount.Percent(line.TaxRate)
		subtotal = subtotal.Add(line.Amount)
		tax = tax.Add(line.TaxAmount)
		lines[i] = line
	}
	doc.Lines = lines
	doc.Subtotal = subtotal
	doc.Tax = tax
	if doc.Kind != KindPayable {
		doc.Discount = money.Zero
	}
	doc.Total = subtotal.Add(tax).Sub(doc.Discount)
	doc.BalanceDue = doc.Total.Sub(doc.AmountPaid)
	doc.Status = nextStatus(doc, now)
	if doc.Status == StatusCancelled {
		doc.Aging = Aging{AsOf: now}
	} else {
		doc.Aging = ComputeAging(doc.BalanceDue, doc.DueDate, now)
	}
	return doc
}

func nextStatus(doc Document, now time.Time) Status {
	if doc.Status == StatusCancelled {
		return StatusCancelled
	}
	paid := doc.AmountPaid.IsPositive()
	switch {
	case paid && !doc.BalanceDue.IsPositive():
		if doc.AmountPaid.Cmp(doc.Total) >= 0 {
			return StatusPaid
		}
		return StatusPartial
	case doc.Overdue(now):
		return StatusOverdue
	case paid:
		return StatusPartial
	}
	return baseStatus(doc)
}

// baseStatus is the status implied by the workflow alone, ignoring payments and time.
func baseStatus(doc Document) Status {
	switch {
	case doc.Kind == KindPayable && doc.Approval.ApprovedBy != "":
		return StatusApproved
	case doc.IssuedAt != nil:
		return doc.Kind.IssuedStatus()
	}
	return StatusDraft
}

// ComputeAging places a positive balance in the single bucket matching its age.
func ComputeAging(balance money.Money, due, now time.Time) Aging {
	aging := Aging{AsOf: now}
	if !balance.IsPositive() {
		return aging
	}
	switch days := DaysPastDue(due, now); {
	case days <= 0:
		aging.Current = balance
	case days <= 30:
		aging.Days30 = balance
	case days <= 60:
		aging.Days60 = balance
	case days <= 90:
		aging.Days90 = balance
	default:
		aging.Days90Plus = balance
	}
	return aging
}

// DueDateFor derives the due date from terms. CUSTOM terms require explicit.
func DueDateFor(terms Terms, issue time.Time, explicit *time.Time) (time.Time, bool) {
	if explicit != nil {
		return truncateDay(*explicit), true
	}
	days, ok := terms.Days()
	if !ok {
		return time.Time{}, false
	}
	return truncateDay(issue).AddDate(0, 0, days), true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
