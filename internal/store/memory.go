package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// MemoryStore is an in-memory Store. Safe for concurrent use.
//
// Records are deep-copied on the way in and out so callers can never mutate
// stored state without going through UpdateRecord.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*rx.PrescriptionRecord
	audits  map[string][]audit.Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*rx.PrescriptionRecord),
		audits:  make(map[string][]audit.Entry),
	}
}

func (m *MemoryStore) CreateRecord(_ context.Context, record *rx.PrescriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	m.records[record.ID] = record.Clone()
	return nil
}

func (m *MemoryStore) UpdateRecord(_ context.Context, record *rx.PrescriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	m.records[record.ID] = record.Clone()
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (*rx.PrescriptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return record.Clone(), nil
}

func (m *MemoryStore) ListRecordsByPatient(_ context.Context, patientID string) ([]*rx.PrescriptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*rx.PrescriptionRecord
	for _, record := range m.records {
		if record.Credential.PatientID == patientID {
			result = append(result, record.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) AppendAuditEntry(_ context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.audits[entry.PrescriptionID]
	for _, existing := range chain {
		if existing.SequenceNumber == entry.SequenceNumber {
			return fmt.Errorf("audit entry %d already exists for prescription %s", entry.SequenceNumber, entry.PrescriptionID)
		}
	}
	m.audits[entry.PrescriptionID] = append(chain, entry)
	return nil
}

func (m *MemoryStore) AuditTrail(_ context.Context, prescriptionID string) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.audits[prescriptionID]
	result := make([]audit.Entry, len(chain))
	copy(result, chain)
	sort.Slice(result, func(i, j int) bool {
		return result[i].SequenceNumber < result[j].SequenceNumber
	})
	return result, nil
}

func (m *MemoryStore) AuditTail(_ context.Context, prescriptionID string) (*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.audits[prescriptionID]
	if len(chain) == 0 {
		return nil, nil
	}
	tail := chain[0]
	for _, entry := range chain[1:] {
		if entry.SequenceNumber > tail.SequenceNumber {
			tail = entry
		}
	}
	return &tail, nil
}
