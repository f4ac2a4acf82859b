package rx

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"draft to signed", StatusDraft, StatusSigned, true},
		{"signed to active", StatusSigned, StatusActive, true},
		{"active to partially dispensed", StatusActive, StatusPartiallyDispensed, true},
		{"active to completed", StatusActive, StatusCompleted, true},
		{"active to expired", StatusActive, StatusExpired, true},
		{"partially dispensed repeats", StatusPartiallyDispensed, StatusPartiallyDispensed, true},
		{"partially dispensed to completed", StatusPartiallyDispensed, StatusCompleted, true},
		{"partially dispensed to expired", StatusPartiallyDispensed, StatusExpired, true},

		{"revoke from draft", StatusDraft, StatusRevoked, true},
		{"revoke from signed", StatusSigned, StatusRevoked, true},
		{"revoke from active", StatusActive, StatusRevoked, true},
		{"revoke from partially dispensed", StatusPartiallyDispensed, StatusRevoked, true},

		{"draft cannot activate", StatusDraft, StatusActive, false},
		{"signed cannot skip to dispensed", StatusSigned, StatusPartiallyDispensed, false},
		{"active cannot go back to signed", StatusActive, StatusSigned, false},
		{"completed is terminal", StatusCompleted, StatusActive, false},
		{"completed cannot be revoked", StatusCompleted, StatusRevoked, false},
		{"expired is terminal", StatusExpired, StatusActive, false},
		{"expired cannot be revoked", StatusExpired, StatusRevoked, false},
		{"revoked is terminal", StatusRevoked, StatusActive, false},
		{"unknown state", Status("BOGUS"), StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidStatusTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("IsValidStatusTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

// an illegal transition must leave the caller's state unchanged and return a
// typed error carrying both states
func TestTransitionRejectsIllegalMove(t *testing.T) {
	got, err := Transition(StatusCompleted, StatusActive)
	if err == nil {
		t.Fatal("Transition() expected error, got nil")
	}
	if got != StatusCompleted {
		t.Errorf("Transition() changed state on failure: got %s", got)
	}

	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("Transition() error type = %T, want *IllegalTransitionError", err)
	}
	if illegal.From != StatusCompleted || illegal.To != StatusActive {
		t.Errorf("IllegalTransitionError = %s -> %s, want COMPLETED -> ACTIVE", illegal.From, illegal.To)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusExpired, StatusRevoked} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []Status{StatusDraft, StatusSigned, StatusActive, StatusPartiallyDispensed} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}
