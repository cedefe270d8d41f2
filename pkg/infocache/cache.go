// Package infocache is a fixed-capacity, lock-free cache of per-class
// information keyed by class name and partitioned by scope id.
//
// Entries are shared under a scope id obtained from a [scope.Index], or
// under [AllScopes] when the information does not depend on the loading
// context. A lookup matches when the ids are equal or when either side is
// AllScopes.
//
// The cache never grows. Once the probe chain for a name is full, sharing
// evicts the least-recently-shared entry on that chain. Callers must treat a
// miss as "not known yet", never as a negative answer.
//
// [scope.Index]: github.com/calvinalkan/classindex/pkg/scope.Index
package infocache

import (
	"sync/atomic"

	"github.com/calvinalkan/classindex/internal/probe"
)

// AllScopes shares or finds information across every scope.
const AllScopes int32 = -1

// Capacity bounds. Requested capacities are clamped and rounded up to a
// power of two.
const (
	MinCapacity = 1 << 4
	MaxCapacity = 1 << 20
)

// entry is replaced wholesale; only the recency tick changes in place.
type entry[T any] struct {
	name    string
	scopeID int32
	payload T
	tick    atomic.Int64
}

// Cache maps class names to payloads of type T. It is safe for concurrent use.
type Cache[T any] struct {
	slots []atomic.Pointer[entry[T]]
	mask  uint32

	// ticks is advanced by Share only; Find records the current value.
	ticks atomic.Int64
}

// New returns a cache with room for capacity entries.
func New[T any](capacity int) *Cache[T] {
	mask := probe.SlotMask(capacity, MinCapacity, MaxCapacity)

	return &Cache[T]{
		slots: make([]atomic.Pointer[entry[T]], int(mask)+1),
		mask:  mask,
	}
}

// Find returns the payload shared under name for a scope compatible with
// scopeID.
//
// The search stops at the first empty slot, and at the first slot holding
// name under an incompatible scope.
func (c *Cache[T]) Find(name string, scopeID int32) (T, bool) {
	return c.find(name, scopeID, nil)
}

// FindAll returns the payload shared under name, whatever its scope.
func (c *Cache[T]) FindAll(name string) (T, bool) {
	return c.Find(name, AllScopes)
}

// FindMatching returns the payload shared under name when its scope
// satisfies match. Entries shared under [AllScopes] always match.
func (c *Cache[T]) FindMatching(name string, match func(scopeID int32) bool) (T, bool) {
	return c.find(name, 0, match)
}

// find matches scopes with match when it is set, otherwise against scopeID.
func (c *Cache[T]) find(name string, scopeID int32, match func(int32) bool) (T, bool) {
	h := probe.Hash(name)

	for range probe.MaxAttempts {
		e := c.slots[h&c.mask].Load()
		if e == nil {
			break
		}

		if e.name == name {
			if !compatible(e.scopeID, scopeID, match) {
				break
			}

			e.tick.Store(c.ticks.Load())

			return e.payload, true
		}

		h = probe.Rehash(h)
	}

	var zero T

	return zero, false
}

func compatible(stored, scopeID int32, match func(int32) bool) bool {
	if match != nil {
		return stored < 0 || match(stored)
	}

	// equal ids, or -1 on either side
	return stored^scopeID <= 0
}

// Share stores payload under name and scopeID, replacing any entry already
// held for name on its probe chain regardless of that entry's scope.
func (c *Cache[T]) Share(name string, payload T, scopeID int32) {
	update := &entry[T]{name: name, scopeID: scopeID, payload: payload}
	update.tick.Store(c.ticks.Add(1) - 1)

	h := probe.Hash(name)

	var (
		oldestSlot uint32
		oldestTick int64
		found      bool
	)

	for range probe.MaxAttempts {
		slot := h & c.mask

		e := c.slots[slot].Load()
		if e == nil || e.name == name {
			c.slots[slot].Store(update)

			return
		}

		// ties go to the slot probed last
		if tick := e.tick.Load(); !found || tick <= oldestTick {
			oldestSlot, oldestTick, found = slot, tick, true
		}

		h = probe.Rehash(h)
	}

	c.slots[oldestSlot].Store(update)
}

// ShareAll stores payload under name for every scope.
func (c *Cache[T]) ShareAll(name string, payload T) {
	c.Share(name, payload, AllScopes)
}

// Clear removes every entry.
func (c *Cache[T]) Clear() {
	for i := range c.slots {
		c.slots[i].Store(nil)
	}
}

// Capacity returns the number of slots.
func (c *Cache[T]) Capacity() int {
	return len(c.slots)
}

// Len counts occupied slots. It walks the whole table and is meant for
// diagnostics.
func (c *Cache[T]) Len() int {
	n := 0

	for i := range c.slots {
		if c.slots[i].Load() != nil {
			n++
		}
	}

	return n
}
