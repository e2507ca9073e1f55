package accounting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists accounting entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a serializable transaction. Serialization failures and
// deadlocks surface as ErrSerializationFailure so the service can retry.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if err != nil && db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrSerializationFailure, err)
	}
	return err
}

const accountColumns = `id, number, name, type, category, parent_id, currency, balance, is_active, allow_transactions, description, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var currency string
	err := row.Scan(&a.ID, &a.Number, &a.Name, &a.Type, &a.Category, &a.ParentID, &currency, &a.Balance,
		&a.IsActive, &a.AllowTransactions, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Currency = money.Currency(strings.TrimSpace(currency))
	return a, nil
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (number, name, type, category, parent_id, currency, balance, is_active, allow_transactions, description, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING `+accountColumns,
		a.Number, a.Name, a.Type, a.Category, a.ParentID, string(a.Currency), a.Balance.Arg(), a.IsActive, a.AllowTransactions, a.Description, a.CreatedAt, a.UpdatedAt)
	created, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "accounts_number_key") {
			return Account{}, fmt.Errorf("%w: %s", ErrDuplicateAccountNumber, a.Number)
		}
		return Account{}, err
	}
	return created, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, category=$3, parent_id=$4, is_active=$5, allow_transactions=$6, description=$7, updated_at=$8 WHERE id=$1`,
		a.ID, a.Name, a.Category, a.ParentID, a.IsActive, a.AllowTransactions, a.Description, a.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *txRepository) GetAccountByNumber(ctx context.Context, number string) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number=$1`, number))
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) SetAccountBalance(ctx context.Context, id int64, balance money.Money, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, updated_at=$3 WHERE id=$1`, id, balance.Arg(), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) NextEntryNumber(ctx context.Context) (int64, error) {
	for {
		var next int64
		if err := r.tx.QueryRow(ctx, `SELECT nextval('journal_entry_number_seq')`).Scan(&next); err != nil {
			return 0, err
		}
		var taken bool
		if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_entries WHERE number=$1)`, next).Scan(&taken); err != nil {
			return 0, err
		}
		if !taken {
			return next, nil
		}
	}
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, date, reference, description, department, module, reference_type, reference_id, created_by, posted_at, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		e.Number, e.Date, e.Reference, e.Description, e.Department, e.Module, e.ReferenceType, e.ReferenceID, e.CreatedBy, e.PostedAt, e.ReversalOf).Scan(&e.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "journal_entries_number_key") {
			return JournalEntry{}, fmt.Errorf("%w: %d", ErrDuplicateEntryNumber, e.Number)
		}
		return JournalEntry{}, err
	}
	e.Lines = nil
	return e, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, description, department)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			entryID, line.LineNo, line.AccountID, line.Debit.Arg(), line.Credit.Arg(), line.Description, line.Department).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		line.EntryID = entryID
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) LinkSource(ctx context.Context, refType, refID string, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (ref_type, ref_id, entry_id) VALUES ($1,$2,$3)`, refType, refID, entryID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

const entrySelect = `SELECT je.id, je.number, je.date, je.reference, je.description, je.department, je.module,
je.reference_type, je.reference_id, je.created_by, je.posted_at, je.reversal_of, sl.entry_id
FROM journal_entries je
LEFT JOIN source_links sl ON sl.ref_type = 'reversal' AND sl.ref_id = je.id::text`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.Reference, &e.Description, &e.Department, &e.Module,
		&e.ReferenceType, &e.ReferenceID, &e.CreatedBy, &e.PostedAt, &e.ReversalOf, &e.ReversedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	e.Status = JournalStatusPosted
	if e.ReversedBy != nil {
		e.Status = JournalStatusReversed
	}
	return e, nil
}

func (r *txRepository) loadLines(ctx context.Context, entryIDs []int64) (map[int64][]JournalLine, error) {
	out := make(map[int64][]JournalLine, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT jl.id, jl.entry_id, jl.line_no, jl.account_id, a.number, jl.debit, jl.credit, jl.description, jl.department
FROM journal_lines jl JOIN accounts a ON a.id = jl.account_id
WHERE jl.entry_id = ANY($1) ORDER BY jl.entry_id, jl.line_no`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.AccountNumber, &line.Debit, &line.Credit, &line.Description, &line.Department); err != nil {
			return nil, err
		}
		out[line.EntryID] = append(out[line.EntryID], line)
	}
	return out, rows.Err()
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, entrySelect+` WHERE je.id=$1`, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := r.loadLines(ctx, []int64{entry.ID})
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines[entry.ID]
	return entry, nil
}

func (r *txRepository) ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if !filter.Range.From.IsZero() {
		add("je.date >= ?", filter.Range.From)
	}
	if !filter.Range.To.IsZero() {
		add("je.date <= ?", filter.Range.To)
	}
	if filter.Module != "" {
		add("je.module = ?", filter.Module)
	}
	if filter.ReferenceType != "" {
		add("je.reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		add("je.reference_id = ?", filter.ReferenceID)
	}
	query := entrySelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY je.number DESC" + limitClause(filter.Limit, filter.Offset)

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (r *txRepository) LatestRunningBalance(ctx context.Context, accountID int64) (money.Money, error) {
	var bal money.Money
	err := r.tx.QueryRow(ctx, `SELECT running_balance FROM general_ledger WHERE account_id=$1 ORDER BY id DESC LIMIT 1`, accountID).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Zero, nil
		}
		return money.Zero, err
	}
	return bal, nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO general_ledger (date, account_id, journal_entry_id, entry_number, line_no, debit, credit, running_balance, department, module, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		e.Date, e.AccountID, e.JournalEntryID, e.EntryNumber, e.LineNo, e.Debit.Arg(), e.Credit.Arg(), e.RunningBalance.Arg(), e.Department, e.Module, e.Description, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

func (r *txRepository) ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.AccountID != 0 {
		add("gl.account_id = ?", filter.AccountID)
	}
	if filter.JournalEntryID != 0 {
		add("gl.journal_entry_id = ?", filter.JournalEntryID)
	}
	if filter.Department != "" {
		add("gl.department = ?", filter.Department)
	}
	if filter.Module != "" {
		add("gl.module = ?", filter.Module)
	}
	if !filter.Range.From.IsZero() {
		add("gl.date >= ?", filter.Range.From)
	}
	if !filter.Range.To.IsZero() {
		add("gl.date <= ?", filter.Range.To)
	}
	query := `SELECT gl.id, gl.date, gl.account_id, a.number, gl.journal_entry_id, gl.entry_number, gl.line_no,
gl.debit, gl.credit, gl.running_balance, gl.department, gl.module, gl.description, gl.created_at
FROM general_ledger gl JOIN accounts a ON a.id = gl.account_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY gl.date, gl.entry_number, gl.line_no" + limitClause(filter.Limit, filter.Offset)

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.AccountID, &e.AccountNumber, &e.JournalEntryID, &e.EntryNumber, &e.LineNo,
			&e.Debit, &e.Credit, &e.RunningBalance, &e.Department, &e.Module, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
