// Package engine composes the signing, verification, lifecycle, repeat,
// revocation and audit components behind a single API.
//
// Concurrency model: a single writer per prescription. All mutating
// operations take a per-record lock, so operations on distinct prescriptions
// run fully in parallel while operations on one prescription serialize.
// Reads work on record snapshots and never block writers on other records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openrx-networks/rxcred/internal/audit"
	"github.com/openrx-networks/rxcred/internal/crypto"
	"github.com/openrx-networks/rxcred/internal/registry"
	"github.com/openrx-networks/rxcred/internal/rx"
	"github.com/openrx-networks/rxcred/internal/store"
)

// Engine owns every prescription state change. All collaborators are
// injected so tests can swap signers, stores and clocks freely.
type Engine struct {
	store    store.Store
	signer   crypto.Signer
	registry *registry.Registry
	verifier *rx.Verifier
	logger   *slog.Logger

	// keys resolves issuer public keys for EdDSA proofs signed by other
	// trusted issuers. Optional: without it only proofs from this service's
	// own signer verify.
	keys *registry.KeyManager

	// now is the clock. Overridable in tests for deterministic
	// time-dependent behavior (expiry, intervals, scheduled revocations).
	now func() time.Time

	// locks holds the per-record mutexes. Entries are never removed:
	// records are never deleted, so the map only grows with the dataset.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine with the real clock.
func New(s store.Store, signer crypto.Signer, reg *registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		signer:   signer,
		registry: reg,
		verifier: rx.NewVerifier(signer, reg),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithKeyManager enables verification of EdDSA proofs from other trusted
// issuers using their registered public keys.
func (e *Engine) WithKeyManager(keys *registry.KeyManager) *Engine {
	e.keys = keys
	return e
}

func (e *Engine) recordLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, exists := e.locks[id]
	if !exists {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// appendAudit appends a chain entry for the prescription. Audit failures are
// logged but do not roll back the operation they describe.
func (e *Engine) appendAudit(ctx context.Context, prescriptionID, actor string, action audit.Action, detail string) {
	tail, err := e.store.AuditTail(ctx, prescriptionID)
	if err != nil {
		e.logger.Error("failed to read audit tail",
			slog.String("prescription_id", prescriptionID),
			slog.String("error", err.Error()))
		return
	}

	entry, err := audit.NextEntry(tail, prescriptionID, actor, action, detail, e.now())
	if err != nil {
		e.logger.Error("failed to build audit entry",
			slog.String("prescription_id", prescriptionID),
			slog.String("error", err.Error()))
		return
	}

	if err := e.store.AppendAuditEntry(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry",
			slog.String("prescription_id", prescriptionID),
			slog.Uint64("sequence", entry.SequenceNumber),
			slog.String("error", err.Error()))
	}
}

// IssueRequest describes a prescription to issue.
type IssueRequest struct {

	// IssuerID must name a trusted issuer in the registry.
	IssuerID string

	// PatientID identifies the patient (required).
	PatientID string

	// PrescriberID identifies the prescriber (optional).
	PrescriberID string

	// Medications lists the prescribed items (at least one required).
	Medications []rx.Medication

	// ValidityDays is the length of the validity window. Zero selects the
	// default of 90 days.
	ValidityDays int

	// RepeatCount authorizes that many repeat dispensings when positive.
	RepeatCount int

	// RepeatIntervalDays is the minimum interval between dispensings.
	RepeatIntervalDays int
}

// DefaultValidityDays is the validity window applied when a request does not
// specify one.
const DefaultValidityDays = 90

// Issue creates a draft prescription record, signs its credential and
// transitions it to SIGNED. Both the signing and the transition are audited.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*rx.PrescriptionRecord, error) {
	now := e.now()

	if status := e.registry.Authorize(req.IssuerID); status != registry.IssuerStatusTrusted {
		return nil, rx.NewIncompleteCredentialError(
			fmt.Sprintf("issuer %q is not trusted (status %s)", req.IssuerID, status))
	}

	validityDays := req.ValidityDays
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}

	record := &rx.PrescriptionRecord{
		ID:     uuid.New().String(),
		Status: rx.StatusDraft,
		Credential: rx.Credential{
			IssuerID:     req.IssuerID,
			PatientID:    req.PatientID,
			PrescriberID: req.PrescriberID,
			Medications:  req.Medications,
			IssuedAt:     now.Format(time.RFC3339),
			ExpiresAt:    now.AddDate(0, 0, validityDays).Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.Credential.ID = record.ID

	if req.RepeatCount > 0 {
		repeats, err := rx.NewRepeatAuthorization(req.RepeatCount, req.RepeatIntervalDays)
		if err != nil {
			return nil, err
		}
		record.Repeats = repeats
	}

	proof, err := rx.SignCredential(&record.Credential, e.signer, now)
	if err != nil {
		return nil, err
	}
	record.Proof = proof

	next, err := rx.Transition(record.Status, rx.StatusSigned)
	if err != nil {
		return nil, err
	}
	record.Status = next

	if err := e.store.CreateRecord(ctx, record); err != nil {
		return nil, rx.WrapInternalError(err, "failed to persist prescription record")
	}

	e.appendAudit(ctx, record.ID, req.IssuerID, audit.ActionSign,
		fmt.Sprintf("credential signed with %s", proof.Algorithm))
	e.appendAudit(ctx, record.ID, req.IssuerID, audit.ActionTransition,
		fmt.Sprintf("%s -> %s", rx.StatusDraft, rx.StatusSigned))

	e.logger.Info("prescription issued",
		slog.String("prescription_id", record.ID),
		slog.String("issuer_id", req.IssuerID),
		slog.String("algorithm", proof.Algorithm))

	return record.Clone(), nil
}

// Activate transitions a signed prescription to ACTIVE.
func (e *Engine) Activate(ctx context.Context, id, actor string) (*rx.PrescriptionRecord, error) {
	lock := e.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.loadCurrent(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	return e.transition(ctx, record, rx.StatusActive, actor)
}

// transition applies a state change under the caller-held record lock,
// auditing both outcomes. The record is persisted only on success.
func (e *Engine) transition(ctx context.Context, record *rx.PrescriptionRecord, next rx.Status, actor string) (*rx.PrescriptionRecord, error) {
	from := record.Status

	newStatus, err := rx.Transition(from, next)
	if err != nil {
		e.appendAudit(ctx, record.ID, actor, audit.ActionTransitionRejected,
			fmt.Sprintf("%s -> %s rejected: %v", from, next, err))
		return nil, err
	}

	record.Status = newStatus
	record.UpdatedAt = e.now()

	if err := e.store.UpdateRecord(ctx, record); err != nil {
		return nil, rx.WrapInternalError(err, "failed to persist state transition")
	}

	e.appendAudit(ctx, record.ID, actor, audit.ActionTransition,
		fmt.Sprintf("%s -> %s", from, newStatus))

	e.logger.Info("prescription state changed",
		slog.String("prescription_id", record.ID),
		slog.String("from", string(from)),
		slog.String("to", string(newStatus)))

	return record.Clone(), nil
}

// loadCurrent fetches a record and applies any time-dependent state effects
// that are due at the current clock reading: validity window expiry and
// scheduled revocations that have become effective. Effects are applied
// lazily at read time rather than by a background scheduler, so the record a
// caller observes is always consistent with the clock.
//
// Caller must hold the record lock.
func (e *Engine) loadCurrent(ctx context.Context, id, actor string) (*rx.PrescriptionRecord, error) {
	record, err := e.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rx.NewNotFoundError(fmt.Sprintf("prescription %s not found", id))
		}
		return nil, rx.WrapInternalError(err, "failed to load prescription record")
	}

	now := e.now()

	// A scheduled revocation that has reached its effective time takes the
	// record to REVOKED regardless of any other pending effect.
	if record.Revocation.IsEffective(now) && record.Status != rx.StatusRevoked && !record.Status.IsTerminal() {
		from := record.Status
		record.Revocation.PriorStatus = from
		record.Status = rx.StatusRevoked
		record.UpdatedAt = now
		if err := e.store.UpdateRecord(ctx, record); err != nil {
			return nil, rx.WrapInternalError(err, "failed to apply scheduled revocation")
		}
		e.appendAudit(ctx, id, actor, audit.ActionTransition,
			fmt.Sprintf("%s -> %s (scheduled revocation effective)", from, rx.StatusRevoked))
		return record, nil
	}

	// Lazy expiry: the window boundary check is exclusive, a credential
	// expiring at time T is invalid at exactly T.
	if record.Status == rx.StatusActive || record.Status == rx.StatusPartiallyDispensed {
		within, err := record.Credential.WithinValidityWindow(now)
		if err != nil {
			return nil, rx.WrapInternalError(err, "failed to evaluate validity window")
		}
		if !within {
			from := record.Status
			record.Status = rx.StatusExpired
			record.UpdatedAt = now
			if err := e.store.UpdateRecord(ctx, record); err != nil {
				return nil, rx.WrapInternalError(err, "failed to apply expiry")
			}
			e.appendAudit(ctx, id, actor, audit.ActionTransition,
				fmt.Sprintf("%s -> %s (validity window ended)", from, rx.StatusExpired))
		}
	}

	return record, nil
}

// Get returns a snapshot of the record with time-dependent effects applied.
func (e *Engine) Get(ctx context.Context, id string) (*rx.PrescriptionRecord, error) {
	lock := e.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.loadCurrent(ctx, id, "system")
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// ListByPatient returns snapshots of all records for a patient.
func (e *Engine) ListByPatient(ctx context.Context, patientID string) ([]*rx.PrescriptionRecord, error) {
	return e.store.ListRecordsByPatient(ctx, patientID)
}

// Verify checks a presented credential+proof pair against the proof
// algorithm, the trust registry, the validity window and any revocation
// on the matching stored record.
//
// Verification is read-only and lock-free: it works on the presented
// credential and a store snapshot, so a busy writer on another prescription
// never delays it.
func (e *Engine) Verify(ctx context.Context, credential *rx.Credential, proof *rx.Proof) rx.VerificationResult {
	input := rx.VerificationInput{
		Credential: credential,
		Proof:      proof,
		Now:        e.now(),
	}

	// Resolve the revocation state from the stored record when one exists.
	// An unknown prescription ID is not itself a failure - the credential
	// may be presented to a verifier that holds no records.
	if credential.ID != "" {
		if record, err := e.store.GetRecord(ctx, credential.ID); err == nil {
			input.Revocation = record.Revocation
		}
	}

	// EdDSA proofs are verified through the key manager when one is
	// configured: the jws library resolves the signing key by the kid in
	// the proof's protected header, and the kid must belong to the issuer
	// the credential claims. A kid owned by a different trusted issuer is
	// a forged binding and fails as tampered before the signature check.
	verifier := e.verifier
	if e.keys != nil && proof != nil && proof.Algorithm == string(crypto.AlgorithmEdDSA) {
		if kid, err := crypto.JWSKeyID(proof.Value); err == nil {
			if ownerID, err := e.keys.LookupIssuerByKeyID(ctx, kid); err == nil && ownerID != credential.IssuerID {
				result := rx.VerificationResult{
					Status:    rx.VerificationTampered,
					Detail:    fmt.Sprintf("signing key %s belongs to issuer %s, not claimed issuer %s", kid, ownerID, credential.IssuerID),
					CheckedAt: input.Now,
				}
				if canonical, err := credential.CanonicalBytes(); err == nil {
					if checksum, err := crypto.Hash(canonical); err == nil {
						result.CredentialChecksum = checksum
					}
				}
				e.logger.Warn("credential rejected: signing key issuer mismatch",
					slog.String("prescription_id", credential.ID),
					slog.String("kid", kid),
					slog.String("key_owner", ownerID),
					slog.String("claimed_issuer", credential.IssuerID))
				return result
			}
		}
		if providerVerifier, err := crypto.NewKeyProviderVerifier(e.keys); err == nil {
			verifier = rx.NewVerifier(providerVerifier, e.registry)
		}
	}

	result := verifier.Verify(input)

	e.logger.Info("credential verified",
		slog.String("prescription_id", credential.ID),
		slog.String("status", result.Status.String()),
		slog.String("checksum", result.CredentialChecksum))

	return result
}

// DispenseRequest describes a dispense attempt.
type DispenseRequest struct {
	Quantity    int
	DispenserID string

	// Override, when set, is an approved emergency override that bypasses
	// the minimum interval check for this dispense.
	Override *rx.EmergencyOverride
}

// Dispense records a dispensing event against the prescription's repeat
// authorization and advances the lifecycle state.
//
// The record must be ACTIVE or PARTIALLY_DISPENSED. The final authorized
// dispense completes the prescription.
func (e *Engine) Dispense(ctx context.Context, id string, req DispenseRequest) (*rx.PrescriptionRecord, error) {
	lock := e.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.loadCurrent(ctx, id, req.DispenserID)
	if err != nil {
		return nil, err
	}

	if record.Status != rx.StatusActive && record.Status != rx.StatusPartiallyDispensed {
		err := blockedDispenseError(record)
		e.appendAudit(ctx, id, req.DispenserID, audit.ActionDispenseRejected, err.Error())
		return nil, err
	}

	if record.Repeats == nil {
		err := rx.NewRepeatExhaustedError("prescription has no repeat authorization")
		e.appendAudit(ctx, id, req.DispenserID, audit.ActionDispenseRejected, err.Error())
		return nil, err
	}

	now := e.now()
	event := rx.DispensingEvent{
		Timestamp:   now,
		Quantity:    req.Quantity,
		DispenserID: req.DispenserID,
		Override:    req.Override,
	}

	repeats, err := record.Repeats.RecordDispense(event)
	if err != nil {
		e.appendAudit(ctx, id, req.DispenserID, audit.ActionDispenseRejected, err.Error())
		return nil, err
	}
	record.Repeats = repeats

	// The final authorized dispense completes the prescription, otherwise
	// it moves to (or stays in) PARTIALLY_DISPENSED.
	next := rx.StatusPartiallyDispensed
	if repeats.RemainingCount == 0 {
		next = rx.StatusCompleted
	}

	from := record.Status
	newStatus, err := rx.Transition(from, next)
	if err != nil {
		e.appendAudit(ctx, id, req.DispenserID, audit.ActionTransitionRejected,
			fmt.Sprintf("%s -> %s rejected: %v", from, next, err))
		return nil, err
	}
	record.Status = newStatus
	record.UpdatedAt = now

	if err := e.store.UpdateRecord(ctx, record); err != nil {
		return nil, rx.WrapInternalError(err, "failed to persist dispense")
	}

	action := audit.ActionDispense
	detail := fmt.Sprintf("dispensed %d by %s, %d of %d remaining",
		req.Quantity, req.DispenserID, repeats.RemainingCount, repeats.AuthorizedCount)
	if req.Override != nil {
		action = audit.ActionDispenseOverride
		detail = fmt.Sprintf("%s (override approved by %s: %s)",
			detail, req.Override.ApprovedBy, req.Override.Justification)
	}
	e.appendAudit(ctx, id, req.DispenserID, action, detail)
	if from != newStatus {
		e.appendAudit(ctx, id, req.DispenserID, audit.ActionTransition,
			fmt.Sprintf("%s -> %s", from, newStatus))
	}

	e.logger.Info("prescription dispensed",
		slog.String("prescription_id", id),
		slog.String("dispenser_id", req.DispenserID),
		slog.Int("remaining", repeats.RemainingCount),
		slog.Bool("override", req.Override != nil))

	return record.Clone(), nil
}

// blockedDispenseError maps a non-dispensable state to the precise refusal.
func blockedDispenseError(record *rx.PrescriptionRecord) error {
	switch record.Status {
	case rx.StatusRevoked:
		return rx.NewRevokedCredentialError(
			fmt.Sprintf("prescription %s is revoked: %s", record.ID, record.Revocation.Reason))
	case rx.StatusExpired:
		return rx.NewExpiredCredentialError(
			fmt.Sprintf("prescription %s expired at %s", record.ID, record.Credential.ExpiresAt))
	case rx.StatusCompleted:
		return rx.NewRepeatExhaustedError(
			fmt.Sprintf("prescription %s is completed", record.ID))
	default:
		return &rx.IllegalTransitionError{From: record.Status, To: rx.StatusPartiallyDispensed}
	}
}

// CheckEligibility reports whether a dispense may proceed right now, without
// recording anything.
func (e *Engine) CheckEligibility(ctx context.Context, id string) (rx.Eligibility, error) {
	record, err := e.Get(ctx, id)
	if err != nil {
		return rx.Eligibility{}, err
	}
	if record.Repeats == nil {
		return rx.Eligibility{Status: rx.Exhausted}, nil
	}
	return record.Repeats.CheckEligibility(e.now()), nil
}
