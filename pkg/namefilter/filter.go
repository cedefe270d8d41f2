// Package namefilter is a fixed-size, approximate membership filter for
// class names.
//
// A [Filter] never reports a false negative for a name it was given, unless
// that name was later overwritten under heavy load (see [Filter.Add]). It may
// rarely report a false positive. No names are stored: each slot packs a
// 32-bit name hash with a 32-bit structural code derived from the name, and a
// hit must match both.
//
// Filters serialize to a small binary format so a process can start with
// the negative results of an earlier run.
package namefilter

import (
	"strings"
	"sync/atomic"

	"github.com/calvinalkan/classindex/internal/probe"
)

// Capacity bounds. Requested capacities are clamped and rounded up to a
// power of two.
const (
	MinCapacity = 1 << 8
	MaxCapacity = 1 << 20
)

// Filter is safe for concurrent use; every slot is a single atomic word.
type Filter struct {
	slots []atomic.Uint64
	mask  uint32
}

// New returns an empty filter with room for capacity names.
func New(capacity int) *Filter {
	mask := probe.SlotMask(capacity, MinCapacity, MaxCapacity)

	return &Filter{
		slots: make([]atomic.Uint64, int(mask)+1),
		mask:  mask,
	}
}

// Contains reports whether name was probably added.
func (f *Filter) Contains(name string) bool {
	if name == "" {
		return false
	}

	hash := probe.Hash(name)
	h := hash

	for range probe.MaxAttempts {
		member := f.slots[h&f.mask].Load()
		if member == 0 {
			return false
		}

		// cheap hash check first, then the structural code
		if uint32(member) == hash {
			return checkClassCode(name, uint32(member>>32))
		}

		h = probe.Rehash(h)
	}

	return false
}

// Add records name. Empty names are ignored.
//
// When every probed slot is taken by another name, the first probed slot is
// overwritten. The displaced name may then be reported absent; this keeps
// Add bounded and is accepted.
func (f *Filter) Add(name string) {
	if name == "" {
		return
	}

	hash := probe.Hash(name)

	f.addMember(uint64(classCode(name))<<32 | uint64(hash))
}

// Merge adds every name recorded in other. Names other lost to overwrites
// stay lost.
func (f *Filter) Merge(other *Filter) {
	for i := range other.slots {
		if member := other.slots[i].Load(); member != 0 {
			f.addMember(member)
		}
	}
}

// addMember places a packed member; the low word is the name hash.
func (f *Filter) addMember(member uint64) {
	hash := uint32(member)
	h := hash

	for range probe.MaxAttempts {
		slot := &f.slots[h&f.mask]

		existing := slot.Load()
		if existing == 0 {
			if slot.CompareAndSwap(0, member) {
				return
			}

			existing = slot.Load()
		}

		// same hash already recorded, keep it
		if uint32(existing) == hash {
			return
		}

		h = probe.Rehash(h)
	}

	f.slots[hash&f.mask].Store(member)
}

// Clear removes every name.
func (f *Filter) Clear() {
	for i := range f.slots {
		f.slots[i].Store(0)
	}
}

// Capacity returns the number of slots.
func (f *Filter) Capacity() int {
	return len(f.slots)
}

// Len counts occupied slots. It walks the whole table.
func (f *Filter) Len() int {
	n := 0

	for i := range f.slots {
		if f.slots[i].Load() != 0 {
			n++
		}
	}

	return n
}

// classCode packs, from the simple name (the part after the last '.' or
// '/'), its last byte, its first byte, its length and its start offset into
// one byte each. Lengths and offsets wrap at 256.
func classCode(name string) uint32 {
	start := simpleNameStart(name)
	end := len(name) - 1

	return uint32(name[end])<<24 |
		uint32(byteAt(name, start))<<16 |
		uint32((end-start)&0xFF)<<8 |
		uint32(start&0xFF)
}

// checkClassCode reports whether code is consistent with name.
func checkClassCode(name string, code uint32) bool {
	return classCode(name) == code
}

func simpleNameStart(name string) int {
	return strings.LastIndexAny(name, "./") + 1
}

// byteAt returns 0 when a name ends with a separator.
func byteAt(name string, i int) byte {
	if i >= len(name) {
		return 0
	}

	return name[i]
}
