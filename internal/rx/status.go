package rx

import "slices"

// Status is the closed prescription lifecycle state type.
// The transition table below is the single source of truth for legal
// transitions; the only writer of a record's status is Transition.
type Status string

const (
	StatusUnset              Status = ""
	StatusDraft              Status = "DRAFT"
	StatusSigned             Status = "SIGNED"
	StatusActive             Status = "ACTIVE"
	StatusPartiallyDispensed Status = "PARTIALLY_DISPENSED"
	StatusCompleted          Status = "COMPLETED"
	StatusExpired            Status = "EXPIRED"
	StatusRevoked            Status = "REVOKED"
)

// validStatusTransitions lists the legal next states for each state.
//
// Transitions to StatusRevoked appear for every non-terminal state but must
// only be requested through the revocation manager - handlers and the
// dispensing path never transition to revoked directly.
var validStatusTransitions = map[Status][]Status{
	StatusDraft:              {StatusSigned, StatusRevoked},
	StatusSigned:             {StatusActive, StatusRevoked},
	StatusActive:             {StatusPartiallyDispensed, StatusCompleted, StatusExpired, StatusRevoked},
	StatusPartiallyDispensed: {StatusPartiallyDispensed, StatusCompleted, StatusExpired, StatusRevoked},
	StatusCompleted:          {}, // terminal state
	StatusExpired:            {}, // terminal state
	StatusRevoked:            {}, // terminal state
}

// IsTerminal reports whether the status is terminal (completed, expired, revoked).
// Terminal records are retained for audit, never deleted.
func (s Status) IsTerminal() bool {
	next, ok := validStatusTransitions[s]
	return ok && len(next) == 0
}

// IsValidStatusTransition checks if a transition from currentState to
// nextState is in the legal transition table.
func IsValidStatusTransition(currentState, nextState Status) bool {
	validTransitions, ok := validStatusTransitions[currentState]
	if !ok {
		return false
	}
	return slices.Contains(validTransitions, nextState)
}

// Transition returns the next status if the transition is legal, or an
// IllegalTransitionError leaving the caller's state unchanged if not.
//
// Every transition attempt - success or failure - must be appended to the
// audit ledger by the caller (the engine does this).
func Transition(current, next Status) (Status, error) {
	if !IsValidStatusTransition(current, next) {
		return current, &IllegalTransitionError{From: current, To: next}
	}
	return next, nil
}
