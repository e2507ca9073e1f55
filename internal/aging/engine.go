// Package aging aggregates open receivable and payable balances into aging reports,
// overdue listings and counterparty statements.
package aging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Source lists subsidiary ledger documents.
type Source interface {
	List(ctx context.Context, filter subledger.ListFilter) ([]subledger.Document, error)
}

// Report totals the aging buckets of every open document of one kind.
type Report struct {
	Kind          subledger.Kind `json:"kind"`
	AsOf          time.Time      `json:"as_of"`
	Current       money.Money    `json:"current"`
	Days30        money.Money    `json:"days_30"`
	Days60        money.Money    `json:"days_60"`
	Days90        money.Money    `json:"days_90"`
	Days90Plus    money.Money    `json:"days_90_plus"`
	Total         money.Money    `json:"total"`
	DocumentCount int            `json:"document_count"`
}

// Summary pairs the receivable and payable reports.
type Summary struct {
	AsOf        time.Time `json:"as_of"`
	Receivables Report    `json:"receivables"`
	Payables    Report    `json:"payables"`
}

// OverdueDocument is a document past its due date with a balance outstanding.
type OverdueDocument struct {
	subledger.Document
	DaysPastDue int `json:"days_past_due"`
}

// Statement lists one counterparty's documents over a period.
type Statement struct {
	Kind             subledger.Kind       `json:"kind"`
	CounterpartyID   string               `json:"counterparty_id"`
	CounterpartyName string               `json:"counterparty_name"`
	From             time.Time            `json:"from"`
	To               time.Time            `json:"to"`
	Documents        []subledger.Document `json:"documents"`
	Billed           money.Money          `json:"billed"`
	Paid             money.Money          `json:"paid"`
	Outstanding      money.Money          `json:"outstanding"`
}

// Engine computes aging views. Reports are cached under versioned keys which the
// subsidiary ledger bumps after every mutation.
type Engine struct {
	source Source
	cache  *cache.Versioned
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine wires the engine. A nil cache computes every report directly.
func NewEngine(source Source, c *cache.Versioned, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, cache: c, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) openDocuments(ctx context.Context, kind subledger.Kind, now time.Time) ([]subledger.Document, error) {
	docs, err := e.source.List(ctx, subledger.ListFilter{Kind: kind})
	if err != nil {
		return nil, err
	}
	open := docs[:0]
	for _, doc := range docs {
		if !doc.Open() {
			continue
		}
		open = append(open, subledger.Recompute(doc, now))
	}
	return open, nil
}

// GetAgingReport sums the buckets of the open documents of kind as of now.
func (e *Engine) GetAgingReport(ctx context.Context, kind subledger.Kind) (Report, error) {
	if !kind.Valid() {
		return Report{}, fmt.Errorf("%w: unknown kind %q", subledger.ErrInvalidDocument, kind)
	}
	now := e.now()
	key, err := e.cache.BuildKey(ctx, "report", kind.Slug(), now.UTC().Format("2006-01-02"))
	if err != nil {
		e.logger.WarnContext(ctx, "aging cache unavailable", slog.Any("error", err))
		return e.computeReport(ctx, kind, now)
	}
	ch := e.group.DoChan(key, func() (any, error) {
		// Every waiter on key shares this load.
		ctx := context.WithoutCancel(ctx)
		var (
			report  Report
			loadErr error
		)
		err := e.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
			computed, err := e.computeReport(ctx, kind, now)
			loadErr = err
			return computed, err
		})
		if loadErr != nil {
			return nil, loadErr
		}
		if err != nil {
			e.logger.WarnContext(ctx, "aging cache fetch failed", slog.String("key", key), slog.Any("error", err))
			return e.computeReport(ctx, kind, now)
		}
		return report, nil
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	}
}

func (e *Engine) computeReport(ctx context.Context, kind subledger.Kind, now time.Time) (Report, error) {
	docs, err := e.openDocuments(ctx, kind, now)
	if err != nil {
		return Report{}, err
	}
	report := Report{Kind: kind, AsOf: now}
	for _, doc := range docs {
		report.Current = report.Current.Add(doc.Aging.Current)
		report.Days30 = report.Days30.Add(doc.Aging.Days30)
		report.Days60 = report.Days60.Add(doc.Aging.Days60)
		report.Days90 = report.Days90.Add(doc.Aging.Days90)
		report.Days90Plus = report.Days90Plus.Add(doc.Aging.Days90Plus)
		report.Total = report.Total.Add(money.Max(doc.BalanceDue, money.Zero))
		report.DocumentCount++
	}
	return report, nil
}

// GetAgingSummary builds the receivable and payable reports concurrently.
func (e *Engine) GetAgingSummary(ctx context.Context) (Summary, error) {
	var summary Summary
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report, err := e.GetAgingReport(ctx, subledger.KindReceivable)
		if err != nil {
			return err
		}
		summary.Receivables = report
		return nil
	})
	g.Go(func() error {
		report, err := e.GetAgingReport(ctx, subledger.KindPayable)
		if err != nil {
			return err
		}
		summary.Payables = report
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	summary.AsOf = summary.Receivables.AsOf
	return summary, nil
}

// GetOverdueDocuments lists overdue documents of kind, earliest due date first.
func (e *Engine) GetOverdueDocuments(ctx context.Context, kind subledger.Kind) ([]OverdueDocument, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", subledger.ErrInvalidDocument, kind)
	}
	now := e.now()
	docs, err := e.openDocuments(ctx, kind, now)
	if err != nil {
		return nil, err
	}
	out := make([]OverdueDocument, 0)
	for _, doc := range docs {
		if !doc.Overdue(now) {
			continue
		}
		out = append(out, OverdueDocument{Document: doc, DaysPastDue: subledger.DaysPastDue(doc.DueDate, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

// GetCounterpartyStatement lists the non-cancelled documents issued to or by one
// counterparty within the range, oldest first, with billed, paid and outstanding totals.
// Zero bounds leave the range open.
func (e *Engine) GetCounterpartyStatement(ctx context.Context, kind subledger.Kind, counterpartyID string, from, to time.Time) (Statement, error) {
	if !kind.Valid() {
		return Statement{}, fmt.Errorf("%w: unknown kind %q", subledger.ErrInvalidDocument, kind)
	}
	if counterpartyID == "" {
		return Statement{}, shared.Validationf("aging: counterparty id required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Statement{}, shared.Validationf("aging: from must not be after to")
	}
	docs, err := e.source.List(ctx, subledger.ListFilter{
		Kind:           kind,
		CounterpartyID: counterpartyID,
		IssuedFrom:     from,
		IssuedTo:       to,
	})
	if err != nil {
		return Statement{}, err
	}
	now := e.now()
	st := Statement{Kind: kind, CounterpartyID: counterpartyID, From: from, To: to, Documents: []subledger.Document{}}
	for _, doc := range docs {
		if !doc.Open() {
			continue
		}
		doc = subledger.Recompute(doc, now)
		st.Documents = append(st.Documents, doc)
		st.Billed = st.Billed.Add(doc.Total)
		st.Paid = st.Paid.Add(doc.AmountPaid)
		st.Outstanding = st.Outstanding.Add(doc.BalanceDue)
		if st.CounterpartyName == "" {
			st.CounterpartyName = doc.Counterparty.Name
		}
	}
	sort.SliceStable(st.Documents, func(i, j int) bool {
		if st.Documents[i].IssueDate.Equal(st.Documents[j].IssueDate) {
			return st.Documents[i].ID < st.Documents[j].ID
		}
		return st.Documents[i].IssueDate.Before(st.Documents[j].IssueDate)
	})
	return st, nil
}
