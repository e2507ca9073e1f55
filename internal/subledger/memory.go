package subledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps documents in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	docs    map[int64]Document
	numbers map[string]int64
	seq     map[Kind]int64
	nextID  int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:    make(map[int64]Document),
		numbers: make(map[string]int64),
		seq:     make(map[Kind]int64),
	}
}

func numberKey(kind Kind, number string) string { return string(kind) + "/" + number }

// NextNumber returns the next unused number of kind.
func (m *MemoryRepository) NextNumber(_ context.Context, kind Kind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		m.seq[kind]++
		number := kind.FormatNumber(m.seq[kind])
		if _, taken := m.numbers[numberKey(kind, number)]; !taken {
			return number, nil
		}
	}
}

// NumberTaken reports whether a document of kind already uses number.
func (m *MemoryRepository) NumberTaken(_ context.Context, kind Kind, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, taken := m.numbers[numberKey(kind, number)]
	return taken, nil
}

// Insert stores a new document.
func (m *MemoryRepository) Insert(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := numberKey(doc.Kind, doc.Number)
	if _, taken := m.numbers[key]; taken {
		return Document{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, doc.Number)
	}
	m.nextID++
	doc.ID = m.nextID
	if doc.Version == 0 {
		doc.Version = 1
	}
	m.docs[doc.ID] = cloneDocument(doc)
	m.numbers[key] = doc.ID
	return cloneDocument(doc), nil
}

// Get loads a document by kind and id.
func (m *MemoryRepository) Get(_ context.Context, kind Kind, id int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.Kind != kind {
		return Document{}, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return cloneDocument(doc), nil
}

// Update replaces the document when its version matches.
func (m *MemoryRepository) Update(_ context.Context, doc Document, expectedVersion int64, payment *Payment) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[doc.ID]
	if !ok || stored.Kind != doc.Kind {
		return Document{}, fmt.Errorf("%w: %d", ErrDocumentNotFound, doc.ID)
	}
	if stored.Version != expectedVersion {
		return Document{}, fmt.Errorf("%w: %s at version %d, expected %d", ErrConcurrentModification, stored.Number, stored.Version, expectedVersion)
	}
	if payment != nil {
		found := false
		for _, p := range doc.Payments {
			if p.ID == payment.ID {
				found = true
				break
			}
		}
		if !found {
			doc.Payments = append(doc.Payments, *payment)
		}
	}
	doc.Version = expectedVersion + 1
	m.docs[doc.ID] = cloneDocument(doc)
	return cloneDocument(doc), nil
}

// List returns matching documents ordered by id.
func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if !matches(doc, filter) {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Document{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(doc Document, f ListFilter) bool {
	switch {
	case f.Kind != "" && doc.Kind != f.Kind:
		return false
	case doc.Deleted && !f.IncludeDeleted:
		return false
	case f.CounterpartyID != "" && doc.Counterparty.ID != f.CounterpartyID:
		return false
	case !f.IssuedFrom.IsZero() && doc.IssueDate.Before(f.IssuedFrom):
		return false
	case !f.IssuedTo.IsZero() && doc.IssueDate.After(f.IssuedTo):
		return false
	}
	return true
}

func cloneDocument(doc Document) Document {
	doc.Lines = append([]LineItem(nil), doc.Lines...)
	doc.Payments = append([]Payment{}, doc.Payments...)
	return doc
}
