package audit

import (
	"testing"
	"time"
)

func buildChain(t *testing.T, length int) []Entry {
	t.Helper()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	var entries []Entry
	var tail *Entry
	for i := 0; i < length; i++ {
		entry, err := NextEntry(tail, "rx-1", "dr-jones", ActionTransition, "ACTIVE -> PARTIALLY_DISPENSED", now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("NextEntry() error: %v", err)
		}
		entries = append(entries, entry)
		tail = &entries[len(entries)-1]
	}
	return entries
}

func TestNextEntryLinksChain(t *testing.T) {
	entries := buildChain(t, 3)

	if entries[0].SequenceNumber != 1 || entries[0].PreviousHash != GenesisHash {
		t.Errorf("first entry: seq %d, previousHash %s", entries[0].SequenceNumber, entries[0].PreviousHash)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].SequenceNumber != entries[i-1].SequenceNumber+1 {
			t.Errorf("entry %d: sequence not increasing", i)
		}
		previousHash, err := entries[i-1].Hash()
		if err != nil {
			t.Fatalf("Hash() error: %v", err)
		}
		if entries[i].PreviousHash != previousHash {
			t.Errorf("entry %d: previousHash does not match hash of predecessor", i)
		}
	}
}

func TestNextEntryRejectsForeignTail(t *testing.T) {
	entries := buildChain(t, 1)
	_, err := NextEntry(&entries[0], "rx-2", "dr-jones", ActionTransition, "", time.Now())
	if err == nil {
		t.Error("NextEntry() accepted a tail from a different prescription")
	}
}

func TestVerifyChainIntact(t *testing.T) {
	entries := buildChain(t, 5)

	verification, err := VerifyChain(entries)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if !verification.Intact {
		t.Errorf("VerifyChain() = broken at %d, want intact", verification.BrokenAt)
	}
}

func TestVerifyChainEmptyIsIntact(t *testing.T) {
	verification, err := VerifyChain(nil)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if !verification.Intact {
		t.Error("VerifyChain() on empty chain = broken, want intact")
	}
}

// altering any payload field of a stored entry must be detected at exactly
// that sequence number
func TestVerifyChainDetectsPayloadTampering(t *testing.T) {
	entries := buildChain(t, 5)
	entries[2].Detail = "ACTIVE -> COMPLETED"

	verification, err := VerifyChain(entries)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if verification.Intact {
		t.Fatal("VerifyChain() did not detect tampering")
	}
	if verification.BrokenAt != 3 {
		t.Errorf("BrokenAt = %d, want 3", verification.BrokenAt)
	}
}

func TestVerifyChainDetectsRemovedEntry(t *testing.T) {
	entries := buildChain(t, 4)
	truncated := append([]Entry{}, entries[0], entries[2], entries[3])

	verification, err := VerifyChain(truncated)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if verification.Intact {
		t.Fatal("VerifyChain() did not detect a removed entry")
	}
	if verification.BrokenAt != 3 {
		t.Errorf("BrokenAt = %d, want 3", verification.BrokenAt)
	}
}

func TestVerifyChainDetectsRelinkedHash(t *testing.T) {
	entries := buildChain(t, 3)
	entries[1].PreviousHash = GenesisHash

	verification, err := VerifyChain(entries)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if verification.Intact || verification.BrokenAt != 2 {
		t.Errorf("VerifyChain() = intact %v broken at %d, want broken at 2", verification.Intact, verification.BrokenAt)
	}
}
