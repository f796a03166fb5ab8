// Package registry keeps the append-only enumeration of short-position
// holders that drives paginated settlement.
package registry

import (
	"github.com/ethereum/go-ethereum/common"
)

// HolderRegistry is an insertion-ordered, deduplicated set of addresses.
// Entries are never removed, so an index range stays stable across calls.
// Not thread-safe: owned and mutated only by its pool.
type HolderRegistry struct {
	index   map[common.Address]int
	holders []common.Address
}

func New() *HolderRegistry {
	return &HolderRegistry{
		index: make(map[common.Address]int),
	}
}

// Record inserts addr if it is not already present. Reports whether it was new.
func (r *HolderRegistry) Record(addr common.Address) bool {
	if _, ok := r.index[addr]; ok {
		return false
	}
	r.index[addr] = len(r.holders)
	r.holders = append(r.holders, addr)
	return true
}

// Count returns the number of recorded holders.
func (r *HolderRegistry) Count() int {
	return len(r.holders)
}

// At returns the holder recorded at position i. Panics if i is out of range.
func (r *HolderRegistry) At(i int) common.Address {
	return r.holders[i]
}

// Contains reports whether addr has ever been recorded.
func (r *HolderRegistry) Contains(addr common.Address) bool {
	_, ok := r.index[addr]
	return ok
}

// IndexOf returns the insertion index of addr, or -1.
func (r *HolderRegistry) IndexOf(addr common.Address) int {
	if i, ok := r.index[addr]; ok {
		return i
	}
	return -1
}

// Range copies the holders in [start, stop), clamping stop to Count().
func (r *HolderRegistry) Range(start, stop int) []common.Address {
	if stop > len(r.holders) {
		stop = len(r.holders)
	}
	if start < 0 || start >= stop {
		return nil
	}
	out := make([]common.Address, stop-start)
	copy(out, r.holders[start:stop])
	return out
}
