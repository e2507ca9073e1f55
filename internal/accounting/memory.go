package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// MemoryStore is an in-process RepositoryPort. Transactions run one at a time
// against a copy of the state which replaces the committed state only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	accounts    map[int64]Account
	accountSeq  int64
	entries     map[int64]JournalEntry
	numbers     map[int64]int64
	links       map[string]int64
	entrySeq    int64
	lineSeq     int64
	numberSeq   int64
	ledger      []LedgerEntry
	ledgerSeq   int64
	lastRunning map[int64]money.Money
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		accounts:    make(map[int64]Account),
		entries:     make(map[int64]JournalEntry),
		numbers:     make(map[int64]int64),
		links:       make(map[string]int64),
		lastRunning: make(map[int64]money.Money),
	}}
}

func (s *memoryState) clone() *memoryState {
	c := *s
	c.accounts = make(map[int64]Account, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.entries = make(map[int64]JournalEntry, len(s.entries))
	for k, v := range s.entries {
		c.entries[k] = v
	}
	c.numbers = make(map[int64]int64, len(s.numbers))
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	c.links = make(map[string]int64, len(s.links))
	for k, v := range s.links {
		c.links[k] = v
	}
	c.lastRunning = make(map[int64]money.Money, len(s.lastRunning))
	for k, v := range s.lastRunning {
		c.lastRunning[k] = v
	}
	c.ledger = s.ledger[:len(s.ledger):len(s.ledger)]
	return &c
}

// WithTx executes fn against a private copy of the state and commits it when fn
// returns nil.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memoryTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memoryTx struct {
	s *memoryState
}

func linkKey(refType, refID string) string { return refType + "\x00" + refID }

func (t *memoryTx) InsertAccount(_ context.Context, acc Account) (Account, error) {
	for _, existing := range t.s.accounts {
		if existing.Number == acc.Number {
			return Account{}, fmt.Errorf("%w: %s", ErrDuplicateAccountNumber, acc.Number)
		}
	}
	t.s.accountSeq++
	acc.ID = t.s.accountSeq
	t.s.accounts[acc.ID] = acc
	return acc, nil
}

func (t *memoryTx) UpdateAccount(_ context.Context, acc Account) error {
	if _, ok := t.s.accounts[acc.ID]; !ok {
		return ErrAccountNotFound
	}
	t.s.accounts[acc.ID] = acc
	return nil
}

func (t *memoryTx) GetAccount(_ context.Context, id int64) (Account, error) {
	acc, ok := t.s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (t *memoryTx) GetAccountByNumber(_ context.Context, number string) (Account, error) {
	for _, acc := range t.s.accounts {
		if acc.Number == number {
			return acc, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (t *memoryTx) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *memoryTx) ListAccounts(_ context.Context) ([]Account, error) {
	out := make([]Account, 0, len(t.s.accounts))
	for _, acc := range t.s.accounts {
		out = append(out, acc)
	}
	sortByNumber(out)
	return out, nil
}

func (t *memoryTx) SetAccountBalance(_ context.Context, id int64, balance money.Money, at time.Time) error {
	acc, ok := t.s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Balance = balance
	acc.UpdatedAt = at
	t.s.accounts[id] = acc
	return nil
}

func (t *memoryTx) NextEntryNumber(_ context.Context) (int64, error) {
	for {
		t.s.numberSeq++
		if _, taken := t.s.numbers[t.s.numberSeq]; !taken {
			return t.s.numberSeq, nil
		}
	}
}

func (t *memoryTx) InsertJournalEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	if _, taken := t.s.numbers[entry.Number]; taken {
		return JournalEntry{}, fmt.Errorf("%w: %d", ErrDuplicateEntryNumber, entry.Number)
	}
	t.s.entrySeq++
	entry.ID = t.s.entrySeq
	entry.Lines = nil
	t.s.entries[entry.ID] = entry
	t.s.numbers[entry.Number] = entry.ID
	return entry, nil
}

func (t *memoryTx) InsertJournalLines(_ context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error) {
	entry, ok := t.s.entries[entryID]
	if !ok {
		return nil, ErrJournalNotFound
	}
	stored := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		t.s.lineSeq++
		line.ID = t.s.lineSeq
		line.EntryID = entryID
		stored = append(stored, line)
	}
	entry.Lines = append(append([]JournalLine(nil), entry.Lines...), stored...)
	t.s.entries[entryID] = entry
	return stored, nil
}

func (t *memoryTx) LinkSource(_ context.Context, refType, refID string, entryID int64) error {
	key := linkKey(refType, refID)
	if _, exists := t.s.links[key]; exists {
		return ErrSourceConflict
	}
	t.s.links[key] = entryID
	return nil
}

func (t *memoryTx) decorate(entry JournalEntry) JournalEntry {
	entry.Status = JournalStatusPosted
	entry.ReversedBy = nil
	if rid, ok := t.s.links[linkKey(ReferenceTypeReversal, fmt.Sprint(entry.ID))]; ok {
		id := rid
		entry.ReversedBy = &id
		entry.Status = JournalStatusReversed
	}
	entry.Lines = append([]JournalLine(nil), entry.Lines...)
	return entry
}

func (t *memoryTx) GetJournalWithLines(_ context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := t.s.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrJournalNotFound
	}
	return t.decorate(entry), nil
}

func (t *memoryTx) ListJournalEntries(_ context.Context, filter JournalFilter) ([]JournalEntry, error) {
	out := make([]JournalEntry, 0)
	for _, entry := range t.s.entries {
		if !filter.Range.Contains(entry.Date) {
			continue
		}
		if filter.Module != "" && entry.Module != filter.Module {
			continue
		}
		if filter.ReferenceType != "" && entry.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != "" && entry.ReferenceID != filter.ReferenceID {
			continue
		}
		out = append(out, t.decorate(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (t *memoryTx) LatestRunningBalance(_ context.Context, accountID int64) (money.Money, error) {
	if bal, ok := t.s.lastRunning[accountID]; ok {
		return bal, nil
	}
	return money.Zero, nil
}

func (t *memoryTx) InsertLedgerEntry(_ context.Context, row LedgerEntry) (LedgerEntry, error) {
	t.s.ledgerSeq++
	row.ID = t.s.ledgerSeq
	t.s.ledger = append(t.s.ledger, row)
	t.s.lastRunning[row.AccountID] = row.RunningBalance
	return row, nil
}

func (t *memoryTx) ListLedgerEntries(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	out := make([]LedgerEntry, 0)
	for _, row := range t.s.ledger {
		if filter.AccountID != 0 && row.AccountID != filter.AccountID {
			continue
		}
		if filter.JournalEntryID != 0 && row.JournalEntryID != filter.JournalEntryID {
			continue
		}
		if filter.Department != "" && row.Department != filter.Department {
			continue
		}
		if filter.Module != "" && row.Module != filter.Module {
			continue
		}
		if !filter.Range.Contains(row.Date) {
			continue
		}
		out = append(out, row)
	}
	SortLedger(out)
	return paginate(out, filter.Offset, filter.Limit), nil
}

// SortLedger orders rows by date, entry number, then line number.
func SortLedger(rows []LedgerEntry) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.EntryNumber != b.EntryNumber {
			return a.EntryNumber < b.EntryNumber
		}
		return a.LineNo < b.LineNo
	})
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
