// Package store persists prescription records and their audit chains.
//
// Two implementations are provided: MemoryStore for tests and single-process
// deployments, and PostgresStore for production. Both satisfy Store, so the
// engine is indifferent to which one it is given.
package store

import (
	"context"
	"errors"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// ErrNotFound is returned when a prescription record does not exist.
var ErrNotFound = errors.New("prescription record not found")

// ErrDuplicateID is returned when saving a new record whose ID already exists.
var ErrDuplicateID = errors.New("prescription record already exists")

// Store is the persistence contract used by the engine.
//
// Audit entries are append-only: implementations must never update or delete
// them, and must reject duplicate (prescriptionID, sequenceNumber) pairs.
type Store interface {

	// CreateRecord stores a new record. Returns ErrDuplicateID if the ID is taken.
	CreateRecord(ctx context.Context, record *rx.PrescriptionRecord) error

	// UpdateRecord replaces an existing record. Returns ErrNotFound if absent.
	UpdateRecord(ctx context.Context, record *rx.PrescriptionRecord) error

	// GetRecord returns the record with the given ID, or ErrNotFound.
	GetRecord(ctx context.Context, id string) (*rx.PrescriptionRecord, error)

	// ListRecordsByPatient returns all records for a patient, oldest first.
	ListRecordsByPatient(ctx context.Context, patientID string) ([]*rx.PrescriptionRecord, error)

	// AppendAuditEntry appends a new entry to a prescription's audit chain.
	AppendAuditEntry(ctx context.Context, entry audit.Entry) error

	// AuditTrail returns a prescription's audit entries ordered by sequence number.
	// An empty slice (not an error) is returned for unknown prescriptions.
	AuditTrail(ctx context.Context, prescriptionID string) ([]audit.Entry, error)

	// AuditTail returns the latest audit entry for a prescription, or nil
	// when the chain is empty.
	AuditTail(ctx context.Context, prescriptionID string) (*audit.Entry, error)
}
