package subledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// PostgresRepository persists documents in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const documentColumns = `id, kind, number, counterparty_id, counterparty_name, counterparty_email, counterparty_tax_id,
issue_date, due_date, terms, currency, subtotal, tax, discount, total, amount_paid, balance_due, status,
lines, aging, approval_required, approved_by, approved_at, approval_notes, recognition_entry_id, issued_at,
notes, created_by, deleted, version, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d          Document
		currency   string
		lines, age []byte
	)
	err := row.Scan(&d.ID, &d.Kind, &d.Number, &d.Counterparty.ID, &d.Counterparty.Name, &d.Counterparty.Email, &d.Counterparty.TaxID,
		&d.IssueDate, &d.DueDate, &d.Terms, &currency, &d.Subtotal, &d.Tax, &d.Discount, &d.Total, &d.AmountPaid, &d.BalanceDue, &d.Status,
		&lines, &age, &d.Approval.Required, &d.Approval.ApprovedBy, &d.Approval.ApprovedAt, &d.Approval.Notes, &d.RecognitionEntryID, &d.IssuedAt,
		&d.Notes, &d.CreatedBy, &d.Deleted, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	d.Currency = money.Currency(strings.TrimSpace(currency))
	if err := json.Unmarshal(lines, &d.Lines); err != nil {
		return Document{}, fmt.Errorf("decode lines of %s: %w", d.Number, err)
	}
	if len(age) > 0 {
		if err := json.Unmarshal(age, &d.Aging); err != nil {
			return Document{}, fmt.Errorf("decode aging of %s: %w", d.Number, err)
		}
	}
	d.Payments = []Payment{}
	return d, nil
}

func encodeJSON(doc Document) (string, string, error) {
	lines, err := json.Marshal(doc.Lines)
	if err != nil {
		return "", "", err
	}
	aging, err := json.Marshal(doc.Aging)
	if err != nil {
		return "", "", err
	}
	return string(lines), string(aging), nil
}

// NextNumber draws from the per-kind sequence, skipping numbers entered manually.
func (r *PostgresRepository) NextNumber(ctx context.Context, kind Kind) (string, error) {
	seq := "receivable_number_seq"
	if kind == KindPayable {
		seq = "payable_number_seq"
	}
	for {
		var next int64
		if err := r.pool.QueryRow(ctx, `SELECT nextval('`+seq+`')`).Scan(&next); err != nil {
			return "", err
		}
		number := kind.FormatNumber(next)
		taken, err := r.NumberTaken(ctx, kind, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
}

// NumberTaken reports whether a document of kind already uses number.
func (r *PostgresRepository) NumberTaken(ctx context.Context, kind Kind, number string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subledger_documents WHERE kind=$1 AND number=$2)`, kind, number).Scan(&taken)
	return taken, err
}

// Insert stores a new document.
func (r *PostgresRepository) Insert(ctx context.Context, doc Document) (Document, error) {
	lines, aging, err := encodeJSON(doc)
	if err != nil {
		return Document{}, err
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO subledger_documents (kind, number, counterparty_id, counterparty_name, counterparty_email, counterparty_tax_id,
issue_date, due_date, terms, currency, subtotal, tax, discount, total, amount_paid, balance_due, status,
lines, aging, approval_required, approved_by, approved_at, approval_notes, recognition_entry_id, issued_at,
notes, created_by, deleted, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
RETURNING `+documentColumns,
		doc.Kind, doc.Number, doc.Counterparty.ID, doc.Counterparty.Name, doc.Counterparty.Email, doc.Counterparty.TaxID,
		doc.IssueDate, doc.DueDate, doc.Terms, string(doc.Currency), doc.Subtotal.Arg(), doc.Tax.Arg(), doc.Discount.Arg(), doc.Total.Arg(),
		doc.AmountPaid.Arg(), doc.BalanceDue.Arg(), doc.Status, lines, aging, doc.Approval.Required, doc.Approval.ApprovedBy,
		doc.Approval.ApprovedAt, doc.Approval.Notes, doc.RecognitionEntryID, doc.IssuedAt, doc.Notes, doc.CreatedBy, doc.Deleted,
		max(doc.Version, 1), doc.CreatedAt, doc.UpdatedAt)
	created, err := scanDocument(row)
	if err != nil {
		if db.IsUniqueViolation(err, "subledger_documents_kind_number_key") {
			return Document{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, doc.Number)
		}
		return Document{}, err
	}
	return created, nil
}

// Get loads a document with its payments.
func (r *PostgresRepository) Get(ctx context.Context, kind Kind, id int64) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM subledger_documents WHERE id=$1 AND kind=$2`, id, kind))
	if err != nil {
		return Document{}, err
	}
	payments, err := r.loadPayments(ctx, r.pool, []int64{doc.ID})
	if err != nil {
		return Document{}, err
	}
	doc.Payments = append(doc.Payments, payments[doc.ID]...)
	return doc, nil
}

// Update saves doc guarded by expectedVersion and records payment in the same transaction.
func (r *PostgresRepository) Update(ctx context.Context, doc Document, expectedVersion int64, payment *Payment) (Document, error) {
	lines, aging, err := encodeJSON(doc)
	if err != nil {
		return Document{}, err
	}
	var updated Document
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE subledger_documents SET due_date=$4, subtotal=$5, tax=$6, discount=$7, total=$8, amount_paid=$9,
balance_due=$10, status=$11, lines=$12, aging=$13, approved_by=$14, approved_at=$15, approval_notes=$16, recognition_entry_id=$17,
issued_at=$18, notes=$19, deleted=$20, version=version+1, updated_at=$21
WHERE id=$1 AND kind=$2 AND version=$3 RETURNING `+documentColumns,
			doc.ID, doc.Kind, expectedVersion, doc.DueDate, doc.Subtotal.Arg(), doc.Tax.Arg(), doc.Discount.Arg(), doc.Total.Arg(),
			doc.AmountPaid.Arg(), doc.BalanceDue.Arg(), doc.Status, lines, aging, doc.Approval.ApprovedBy, doc.Approval.ApprovedAt,
			doc.Approval.Notes, doc.RecognitionEntryID, doc.IssuedAt, doc.Notes, doc.Deleted, doc.UpdatedAt)
		saved, err := scanDocument(row)
		if errors.Is(err, ErrDocumentNotFound) {
			var exists bool
			if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subledger_documents WHERE id=$1 AND kind=$2)`, doc.ID, doc.Kind).Scan(&exists); qerr != nil {
				return qerr
			}
			if exists {
				return fmt.Errorf("%w: %s expected version %d", ErrConcurrentModification, doc.Number, expectedVersion)
			}
			return err
		}
		if err != nil {
			return err
		}
		if payment != nil {
			if _, err := tx.Exec(ctx, `INSERT INTO subledger_payments (id, document_id, date, amount, method, reference, journal_entry_id, recorded_by, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				payment.ID, doc.ID, payment.Date, payment.Amount.Arg(), payment.Method, payment.Reference, payment.JournalEntryID,
				payment.RecordedBy, payment.RecordedAt); err != nil {
				return err
			}
		}
		payments, err := r.loadPayments(ctx, tx, []int64{saved.ID})
		if err != nil {
			return err
		}
		saved.Payments = append(saved.Payments, payments[saved.ID]...)
		updated = saved
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

// List returns matching documents ordered by id, payments included.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Kind != "" {
		add("kind = ?", filter.Kind)
	}
	if !filter.IncludeDeleted {
		where = append(where, "NOT deleted")
	}
	if filter.CounterpartyID != "" {
		add("counterparty_id = ?", filter.CounterpartyID)
	}
	if !filter.IssuedFrom.IsZero() {
		add("issue_date >= ?", filter.IssuedFrom)
	}
	if !filter.IssuedTo.IsZero() {
		add("issue_date <= ?", filter.IssuedTo)
	}
	query := `SELECT ` + documentColumns + ` FROM subledger_documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	ids := []int64{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return docs, nil
	}
	payments, err := r.loadPayments(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Payments = append(docs[i].Payments, payments[docs[i].ID]...)
	}
	return docs, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) loadPayments(ctx context.Context, q querier, ids []int64) (map[int64][]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, document_id, date, amount, method, reference, journal_entry_id, recorded_by, recorded_at
FROM subledger_payments WHERE document_id = ANY($1) ORDER BY recorded_at, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Payment, len(ids))
	for rows.Next() {
		var (
			p     Payment
			docID int64
		)
		if err := rows.Scan(&p.ID, &docID, &p.Date, &p.Amount, &p.Method, &p.Reference, &p.JournalEntryID, &p.RecordedBy, &p.RecordedAt); err != nil {
			return nil, err
		}
		out[docID] = append(out[docID], p)
	}
	return out, rows.Err()
}
