package mappings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and writes the account_mappings table.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed mapping store.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Resolve implements Resolver.
func (r *Repository) Resolve(ctx context.Context, key Key) (string, error) {
	m, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return m.AccountNumber, nil
}

// Get loads the mapping for key.
func (r *Repository) Get(ctx context.Context, key Key) (AccountMapping, error) {
	if key == "" {
		return AccountMapping{}, errors.New("mappings: key required")
	}
	var m AccountMapping
	err := r.db.QueryRow(ctx, `SELECT key, account_number, updated_at FROM account_mappings WHERE key=$1`, string(key)).
		Scan(&m.Key, &m.AccountNumber, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, fmt.Errorf("%w: %s", ErrMappingNotFound, key)
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// Upsert points key at accountNumber.
func (r *Repository) Upsert(ctx context.Context, key Key, accountNumber string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (key, account_number, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (key) DO UPDATE SET account_number=EXCLUDED.account_number, updated_at=NOW()`, string(key), accountNumber)
	return err
}

// List returns every stored mapping ordered by key.
func (r *Repository) List(ctx context.Context) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT key, account_number, updated_at FROM account_mappings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.Key, &m.AccountNumber, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
