package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/rx"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// The full record is stored as a JSONB document alongside a few indexed
// columns (patient, status) used for queries. Audit entries live in their own
// table with a uniqueness constraint on (prescription_id, sequence_number) so
// the database itself rejects forks in a chain.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing connection pool.
// The caller owns the pool's lifecycle.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) CreateRecord(ctx context.Context, record *rx.PrescriptionRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal prescription record: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO prescriptions (id, patient_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		record.ID, record.Credential.PatientID, string(record.Status), doc, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prescription record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	return nil
}

func (p *PostgresStore) UpdateRecord(ctx context.Context, record *rx.PrescriptionRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal prescription record: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE prescriptions
		SET status = $2, document = $3, updated_at = $4
		WHERE id = $1`,
		record.ID, string(record.Status), doc, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update prescription record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, record.ID)
	}
	return nil
}

func (p *PostgresStore) GetRecord(ctx context.Context, id string) (*rx.PrescriptionRecord, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document FROM prescriptions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prescription record: %w", err)
	}

	var record rx.PrescriptionRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prescription record %s: %w", id, err)
	}
	return &record, nil
}

func (p *PostgresStore) ListRecordsByPatient(ctx context.Context, patientID string) ([]*rx.PrescriptionRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT document FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prescriptions for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var result []*rx.PrescriptionRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan prescription record: %w", err)
		}
		var record rx.PrescriptionRecord
		if err := json.Unmarshal(doc, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prescription record: %w", err)
		}
		result = append(result, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescription records: %w", err)
	}
	return result, nil
}

func (p *PostgresStore) AppendAuditEntry(ctx context.Context, entry audit.Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_entries
			(prescription_id, sequence_number, previous_hash, payload_hash, actor, action, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.PrescriptionID, entry.SequenceNumber, entry.PreviousHash, entry.PayloadHash,
		entry.Actor, string(entry.Action), entry.Timestamp, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry %d for prescription %s: %w",
			entry.SequenceNumber, entry.PrescriptionID, err)
	}
	return nil
}

func (p *PostgresStore) AuditTrail(ctx context.Context, prescriptionID string) ([]audit.Entry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT prescription_id, sequence_number, previous_hash, payload_hash, actor, action, occurred_at, detail
		FROM audit_entries
		WHERE prescription_id = $1
		ORDER BY sequence_number`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail for prescription %s: %w", prescriptionID, err)
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var action string
		if err := rows.Scan(&entry.PrescriptionID, &entry.SequenceNumber, &entry.PreviousHash,
			&entry.PayloadHash, &entry.Actor, &action, &entry.Timestamp, &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return result, nil
}

func (p *PostgresStore) AuditTail(ctx context.Context, prescriptionID string) (*audit.Entry, error) {
	var entry audit.Entry
	var action string
	err := p.pool.QueryRow(ctx, `
		SELECT prescription_id, sequence_number, previous_hash, payload_hash, actor, action, occurred_at, detail
		FROM audit_entries
		WHERE prescription_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1`, prescriptionID).Scan(
		&entry.PrescriptionID, &entry.SequenceNumber, &entry.PreviousHash,
		&entry.PayloadHash, &entry.Actor, &action, &entry.Timestamp, &entry.Detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit tail for prescription %s: %w", prescriptionID, err)
	}
	entry.Action = audit.Action(action)
	return &entry, nil
}
