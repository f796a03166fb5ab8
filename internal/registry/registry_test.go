package registry_test

import (
	"OptionSettle/internal/registry"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestRecord_Idempotent(t *testing.T) {
	r := registry.New()

	if !r.Record(addr(1)) {
		t.Error("first insert should report new")
	}
	if r.Record(addr(1)) {
		t.Error("second insert should be a no-op")
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d, want 1", r.Count())
	}
}

func TestRecord_InsertionOrder(t *testing.T) {
	r := registry.New()
	for _, b := range []byte{3, 1, 2, 1, 3} {
		r.Record(addr(b))
	}

	want := []common.Address{addr(3), addr(1), addr(2)}
	if r.Count() != len(want) {
		t.Fatalf("count: got %d, want %d", r.Count(), len(want))
	}
	for i, w := range want {
		if r.At(i) != w {
			t.Errorf("At(%d): got %s, want %s", i, r.At(i).Hex(), w.Hex())
		}
	}
	if r.IndexOf(addr(2)) != 2 {
		t.Errorf("IndexOf: got %d, want 2", r.IndexOf(addr(2)))
	}
	if r.IndexOf(addr(9)) != -1 {
		t.Error("unknown address should have index -1")
	}
}

func TestRange_Clamps(t *testing.T) {
	r := registry.New()
	for b := byte(1); b <= 5; b++ {
		r.Record(addr(b))
	}

	if got := r.Range(3, 100); len(got) != 2 || got[0] != addr(4) || got[1] != addr(5) {
		t.Errorf("Range(3, 100): got %v", got)
	}
	if got := r.Range(5, 10); got != nil {
		t.Errorf("Range past end should be empty, got %v", got)
	}
	if got := r.Range(2, 1); got != nil {
		t.Errorf("inverted range should be empty, got %v", got)
	}

	// Mutating the copy must not affect the registry.
	got := r.Range(0, 1)
	got[0] = addr(99)
	if r.At(0) != addr(1) {
		t.Error("Range must return a copy")
	}
}

func TestContains(t *testing.T) {
	r := registry.New()
	r.Record(addr(7))
	if !r.Contains(addr(7)) || r.Contains(addr(8)) {
		t.Error("Contains mismatch")
	}
}
