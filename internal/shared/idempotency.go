package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyGuard claims request keys so retried client calls are not applied twice.
// Complete stores a reference to the outcome so a retry can be answered with it;
// Result returns that reference, or "" while the claiming request is still running.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, result string) error
	Result(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

func validateKey(key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := validateKey(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRequest
		}
		return err
	}
	return nil
}

// Complete records the outcome reference of a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, result string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET result=$2 WHERE key=$1`, key, result)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q not claimed", key)
	}
	return nil
}

// Result returns the outcome reference stored for key.
func (s *IdempotencyStore) Result(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", errors.New("idempotency store not initialised")
	}
	var result string
	err := s.pool.QueryRow(ctx, `SELECT result FROM idempotency_keys WHERE key=$1`, key).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return result, err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}

type memoryKey struct {
	module string
	result string
}

// MemoryIdempotency keeps keys in process memory.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]memoryKey
}

// NewMemoryIdempotency constructs an empty in-process guard.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]memoryKey)}
}

// CheckAndInsert claims key or reports ErrDuplicateRequest.
func (m *MemoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if err := validateKey(key, module); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return ErrDuplicateRequest
	}
	m.keys[key] = memoryKey{module: module}
	return nil
}

// Complete records the outcome reference of a claimed key.
func (m *MemoryIdempotency) Complete(_ context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.keys[key]
	if !ok {
		return fmt.Errorf("idempotency key %q not claimed", key)
	}
	entry.result = result
	m.keys[key] = entry
	return nil
}

// Result returns the outcome reference stored for key.
func (m *MemoryIdempotency) Result(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key].result, nil
}

// Delete releases key.
func (m *MemoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
