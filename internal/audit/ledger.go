// Package audit implements the append-only, hash-chained audit ledger.
//
// Every lifecycle event for a prescription is appended as an Entry. Entries
// are linked by previousHash: each entry's previousHash is the SHA-256 of the
// previous entry's canonical JSON, with a fixed genesis value for the first.
// All fields are flat structs so that canonical serialization - and therefore
// hashing - is reproducible.
//
// A broken chain indicates retroactive tampering with stored history. It is
// surfaced via VerifyChain and must never be silently repaired.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrx-networks/rxcred/internal/crypto"
)

// GenesisHash is the previousHash of the first entry in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action identifies the kind of lifecycle event an entry records.
type Action string

const (
	// ActionSign: a proof was attached to the credential.
	ActionSign Action = "SIGN"

	// ActionTransition: a successful lifecycle state transition.
	ActionTransition Action = "TRANSITION"

	// ActionTransitionRejected: an illegal transition was attempted.
	// Failures are retained for forensic purposes.
	ActionTransitionRejected Action = "TRANSITION_REJECTED"

	// ActionDispense: a dispensing event was recorded.
	ActionDispense Action = "DISPENSE"

	// ActionDispenseRejected: a dispense attempt was rejected (too early,
	// exhausted, or blocked).
	ActionDispenseRejected Action = "DISPENSE_REJECTED"

	// ActionDispenseOverride: a dispensing event that used an approved
	// emergency override. Distinguished from ActionDispense so overrides
	// are individually auditable.
	ActionDispenseOverride Action = "DISPENSE_OVERRIDE"

	// ActionRevocationRequested: a revocation was requested (immediate or scheduled).
	ActionRevocationRequested Action = "REVOCATION_REQUESTED"

	// ActionRevocationRollback: a reversible revocation was rolled back.
	ActionRevocationRollback Action = "REVOCATION_ROLLBACK"

	// ActionRevocationRejected: a revocation or rollback request was refused.
	ActionRevocationRejected Action = "REVOCATION_REJECTED"
)

// Entry is one link in a prescription's audit chain.
//
// Entries are append-only: no entry is ever mutated or removed.
type Entry struct {

	// PrescriptionID identifies the chain this entry belongs to.
	// A back-reference only - the ledger never owns the record.
	PrescriptionID string `json:"prescriptionId"`

	// SequenceNumber is strictly increasing per prescription, starting at 1.
	SequenceNumber uint64 `json:"sequenceNumber"`

	// PreviousHash is the hash of the previous entry in this chain
	// (GenesisHash for the first entry).
	PreviousHash string `json:"previousHash"`

	// PayloadHash is the SHA-256 of the entry's canonical payload
	// (everything except PreviousHash and PayloadHash itself).
	PayloadHash string `json:"payloadHash"`

	// Actor identifies who performed the action.
	Actor string `json:"actor"`

	// Action is the kind of lifecycle event recorded.
	Action Action `json:"action"`

	// Timestamp is the event time in RFC 3339 format (UTC).
	// Stored as a string for deterministic hashing.
	Timestamp string `json:"timestamp"`

	// Detail is a human-readable description of the event, e.g. the
	// attempted and resulting states of a transition.
	Detail string `json:"detail,omitempty"`
}

// entryPayload is the hashed subset of an entry. Changing any of these fields
// after the fact invalidates PayloadHash and breaks chain verification.
type entryPayload struct {
	PrescriptionID string `json:"prescriptionId"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Actor          string `json:"actor"`
	Action         Action `json:"action"`
	Timestamp      string `json:"timestamp"`
	Detail         string `json:"detail,omitempty"`
}

// computePayloadHash returns the SHA-256 of the entry's canonical payload.
func (e *Entry) computePayloadHash() (string, error) {
	payload := entryPayload{
		PrescriptionID: e.PrescriptionID,
		SequenceNumber: e.SequenceNumber,
		Actor:          e.Actor,
		Action:         e.Action,
		Timestamp:      e.Timestamp,
		Detail:         e.Detail,
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry payload: %w", err)
	}

	canonical, err := crypto.CanonicalizeJSON(jsonBytes)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry payload: %w", err)
	}

	return crypto.Hash(canonical)
}

// Hash returns the SHA-256 of the full canonical entry. This is the value
// the next entry's PreviousHash must carry.
func (e *Entry) Hash() (string, error) {
	jsonBytes, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}

	canonical, err := crypto.CanonicalizeJSON(jsonBytes)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}

	return crypto.Hash(canonical)
}

// NextEntry builds the entry that follows tail in a prescription's chain,
// computing the sequence number, previous hash and payload hash.
// tail is nil for the first entry of a chain.
func NextEntry(tail *Entry, prescriptionID, actor string, action Action, detail string, now time.Time) (Entry, error) {
	if prescriptionID == "" {
		return Entry{}, fmt.Errorf("prescriptionID is required")
	}
	if actor == "" {
		return Entry{}, fmt.Errorf("actor is required")
	}

	entry := Entry{
		PrescriptionID: prescriptionID,
		SequenceNumber: 1,
		PreviousHash:   GenesisHash,
		Actor:          actor,
		Action:         action,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
		Detail:         detail,
	}

	if tail != nil {
		if tail.PrescriptionID != prescriptionID {
			return Entry{}, fmt.Errorf("tail entry belongs to prescription %s, not %s", tail.PrescriptionID, prescriptionID)
		}
		previousHash, err := tail.Hash()
		if err != nil {
			return Entry{}, err
		}
		entry.SequenceNumber = tail.SequenceNumber + 1
		entry.PreviousHash = previousHash
	}

	payloadHash, err := entry.computePayloadHash()
	if err != nil {
		return Entry{}, err
	}
	entry.PayloadHash = payloadHash

	return entry, nil
}

// ChainVerification is the result of VerifyChain.
type ChainVerification struct {

	// Intact is true when every entry's payload hash and chain link check out.
	Intact bool

	// BrokenAt is the sequence number of the first bad entry when Intact is false.
	BrokenAt uint64
}

// VerifyChain recomputes each entry's payload hash and chain linkage over a
// prescription's ordered entries (oldest first).
//
// Any break - altered payload, bad sequence numbering, or a previousHash
// that does not match the recomputed hash of the preceding entry - is
// reported with the offending sequence number.
func VerifyChain(entries []Entry) (ChainVerification, error) {
	expectedPrevious := GenesisHash

	for i := range entries {
		entry := &entries[i]

		if entry.SequenceNumber != uint64(i)+1 {
			return ChainVerification{BrokenAt: entry.SequenceNumber}, nil
		}

		payloadHash, err := entry.computePayloadHash()
		if err != nil {
			return ChainVerification{}, err
		}
		if payloadHash != entry.PayloadHash {
			return ChainVerification{BrokenAt: entry.SequenceNumber}, nil
		}

		if entry.PreviousHash != expectedPrevious {
			return ChainVerification{BrokenAt: entry.SequenceNumber}, nil
		}

		expectedPrevious, err = entry.Hash()
		if err != nil {
			return ChainVerification{}, err
		}
	}

	return ChainVerification{Intact: true}, nil
}
