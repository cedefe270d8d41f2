// Package probe holds the hashing and slot arithmetic shared by the fixed-size
// open-addressed tables in this module.
//
// All tables use the same probe order: start at Hash(name)&mask, then follow
// Rehash until a match, an empty slot, or MaxAttempts slots have been seen.
// Lookups can stop at the first empty slot because inserts walk the exact
// same sequence.
package probe

import "math/bits"

// MaxAttempts bounds the number of slots visited per lookup or insert.
const MaxAttempts = 10

// FNV-1a 32-bit hash constants.
const (
	fnv1aOffsetBasis uint32 = 2166136261
	fnv1aPrime       uint32 = 16777619
)

// rehashMultiplier is an odd constant close to 2^32/phi.
const rehashMultiplier uint32 = 0x9e3775cd

// Hash computes the FNV-1a 32-bit hash over the bytes of name.
//
// It ranges over the string directly so no []byte copy is made.
func Hash(name string) uint32 {
	hash := fnv1aOffsetBasis
	for i := 0; i < len(name); i++ {
		hash ^= uint32(name[i])
		hash *= fnv1aPrime
	}

	return hash
}

// Rehash derives the next probe hash from the previous one.
func Rehash(h uint32) uint32 {
	return bits.ReverseBytes32(h*rehashMultiplier) * rehashMultiplier
}

// SlotMask clamps capacity to [minCapacity, maxCapacity] and returns the mask
// for the smallest power-of-two table that covers it.
//
// minCapacity and maxCapacity must themselves be powers of two.
func SlotMask(capacity, minCapacity, maxCapacity int) uint32 {
	capacity = max(minCapacity, min(capacity, maxCapacity))

	return ^uint32(0) >> bits.LeadingZeros32(uint32(capacity-1))
}
