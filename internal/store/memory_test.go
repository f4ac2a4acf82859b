package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/rx"
)

func testRecord(id, patientID string) *rx.PrescriptionRecord {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return &rx.PrescriptionRecord{
		ID:     id,
		Status: rx.StatusSigned,
		Credential: rx.Credential{
			ID:        id,
			IssuerID:  "nhs-trust-001",
			PatientID: patientID,
			Medications: []rx.Medication{
				{Name: "Amoxicillin", Quantity: 21},
			},
			IssuedAt:  "2026-02-01T12:00:00Z",
			ExpiresAt: "2026-05-02T12:00:00Z",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	record := testRecord("rx-1", "patient-42")

	if err := s.CreateRecord(ctx, record); err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}
	if err := s.CreateRecord(ctx, record); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("CreateRecord() duplicate error = %v, want ErrDuplicateID", err)
	}

	loaded, err := s.GetRecord(ctx, "rx-1")
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if loaded.Credential.PatientID != "patient-42" {
		t.Errorf("GetRecord() patient = %s", loaded.Credential.PatientID)
	}

	loaded.Status = rx.StatusActive
	if err := s.UpdateRecord(ctx, loaded); err != nil {
		t.Fatalf("UpdateRecord() error: %v", err)
	}

	reloaded, err := s.GetRecord(ctx, "rx-1")
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if reloaded.Status != rx.StatusActive {
		t.Errorf("status after update = %s, want ACTIVE", reloaded.Status)
	}

	if _, err := s.GetRecord(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateRecord(ctx, testRecord("missing", "p")); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRecord(missing) error = %v, want ErrNotFound", err)
	}
}

// mutating a returned record must not affect the stored copy
func TestMemoryStoreCopyOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateRecord(ctx, testRecord("rx-1", "patient-42")); err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}

	first, _ := s.GetRecord(ctx, "rx-1")
	first.Status = rx.StatusRevoked
	first.Credential.Medications[0].Quantity = 999

	second, _ := s.GetRecord(ctx, "rx-1")
	if second.Status != rx.StatusSigned {
		t.Error("mutation of a returned record leaked into the store")
	}
	if second.Credential.Medications[0].Quantity != 21 {
		t.Error("mutation of a returned medication leaked into the store")
	}
}

func TestMemoryStoreListRecordsByPatient(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := testRecord("rx-a", "patient-1")
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testRecord("rx-b", "patient-1")
	b.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	other := testRecord("rx-c", "patient-2")

	for _, r := range []*rx.PrescriptionRecord{b, a, other} {
		if err := s.CreateRecord(ctx, r); err != nil {
			t.Fatalf("CreateRecord() error: %v", err)
		}
	}

	records, err := s.ListRecordsByPatient(ctx, "patient-1")
	if err != nil {
		t.Fatalf("ListRecordsByPatient() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListRecordsByPatient() returned %d records, want 2", len(records))
	}
	if records[0].ID != "rx-a" || records[1].ID != "rx-b" {
		t.Errorf("records not ordered oldest first: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestMemoryStoreAuditChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	tail, err := s.AuditTail(ctx, "rx-1")
	if err != nil {
		t.Fatalf("AuditTail() error: %v", err)
	}
	if tail != nil {
		t.Fatal("AuditTail() on empty chain returned an entry")
	}

	first, err := audit.NextEntry(nil, "rx-1", "issuer", audit.ActionSign, "signed", now)
	if err != nil {
		t.Fatalf("NextEntry() error: %v", err)
	}
	if err := s.AppendAuditEntry(ctx, first); err != nil {
		t.Fatalf("AppendAuditEntry() error: %v", err)
	}

	// duplicate sequence numbers are forks and must be rejected
	if err := s.AppendAuditEntry(ctx, first); err == nil {
		t.Error("AppendAuditEntry() accepted a duplicate sequence number")
	}

	second, err := audit.NextEntry(&first, "rx-1", "issuer", audit.ActionTransition, "DRAFT -> SIGNED", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("NextEntry() error: %v", err)
	}
	if err := s.AppendAuditEntry(ctx, second); err != nil {
		t.Fatalf("AppendAuditEntry() error: %v", err)
	}

	trail, err := s.AuditTrail(ctx, "rx-1")
	if err != nil {
		t.Fatalf("AuditTrail() error: %v", err)
	}
	if len(trail) != 2 || trail[0].SequenceNumber != 1 || trail[1].SequenceNumber != 2 {
		t.Errorf("AuditTrail() wrong ordering or length: %+v", trail)
	}

	tail, err = s.AuditTail(ctx, "rx-1")
	if err != nil {
		t.Fatalf("AuditTail() error: %v", err)
	}
	if tail == nil || tail.SequenceNumber != 2 {
		t.Errorf("AuditTail() = %+v, want sequence 2", tail)
	}

	verification, err := audit.VerifyChain(trail)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if !verification.Intact {
		t.Errorf("stored chain broken at %d", verification.BrokenAt)
	}
}
