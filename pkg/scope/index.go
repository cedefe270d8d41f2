// Package scope assigns small integer ids to loading-contexts without keeping
// them alive.
//
// An [Index] maps context pointers to int32 ids through a fixed-size,
// open-addressed table of weak references. Ids partition caches: two distinct
// live contexts never share an id, but a context may be handed a new id over
// its life if it was displaced from the table under pressure.
//
// The nil context and the system context are pre-assigned [BootID] and
// [SystemID] and never enter the table.
//
// Reclamation is explicit. When a context becomes unreachable its key is
// queued; nothing is removed until the owner calls [Index.Sweep], which
// clears a bounded number of slots and notifies [Index.OnStale] listeners.
package scope

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
	"weak"

	"github.com/calvinalkan/classindex/internal/probe"
)

// Pre-assigned ids.
const (
	BootID   int32 = 0
	SystemID int32 = 1

	// firstMintedID is the first id handed to a table entry.
	firstMintedID int32 = 2
)

// Table defaults.
const (
	DefaultSize     = 1024
	DefaultMaxSweep = 8

	minSize = 16
	maxSize = 1 << 20
)

// firstSlot keeps slots 0 and 1 unused, mirroring the pre-assigned ids.
const firstSlot = 2

// Option configures an [Index].
type Option func(*options)

type options struct {
	size        int
	maxAttempts int
	maxSweep    int
}

// WithSize sets the number of table slots. It is clamped to [16, 1<<20] and
// rounded up to a power of two.
func WithSize(slots int) Option {
	return func(o *options) { o.size = slots }
}

// WithMaxAttempts sets the probe budget per lookup.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMaxSweep sets how many stale keys a single [Index.Sweep] drains.
func WithMaxSweep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSweep = n
		}
	}
}

// key is an immutable table entry. slot is written before the key is
// published and never changes afterwards.
type key[T any] struct {
	ref  weak.Pointer[T]
	hash uint32
	id   int32
	slot uint32
}

// Index hands out ids for contexts of type T. It is safe for concurrent use.
type Index[T any] struct {
	system *T

	slots       []atomic.Pointer[key[T]]
	mask        uint32
	maxAttempts int
	maxSweep    int

	nextID atomic.Int32

	staleMu sync.Mutex
	stale   []*key[T]

	sweeping atomic.Bool

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]func(id int32)]
}

// NewIndex returns an index where system is pre-assigned [SystemID].
// system may be nil, in which case only the nil context is pre-assigned.
func NewIndex[T any](system *T, opts ...Option) *Index[T] {
	o := options{
		size:        DefaultSize,
		maxAttempts: probe.MaxAttempts,
		maxSweep:    DefaultMaxSweep,
	}

	for _, opt := range opts {
		opt(&o)
	}

	mask := probe.SlotMask(o.size, minSize, maxSize)

	x := &Index[T]{
		system:      system,
		slots:       make([]atomic.Pointer[key[T]], int(mask)+1),
		mask:        mask,
		maxAttempts: o.maxAttempts,
		maxSweep:    o.maxSweep,
	}

	x.nextID.Store(firstMintedID)

	return x
}

// IDOf returns the id of ctx, minting one on first sight.
//
// Concurrent calls for the same context converge on the same id. Calls for
// different contexts never block each other.
func (x *Index[T]) IDOf(ctx *T) int32 {
	if ctx == nil {
		return BootID
	}

	if ctx == x.system && x.system != nil {
		return SystemID
	}

	return x.keyOf(ctx).id
}

// Lookup returns the id of ctx if it is already indexed, without minting.
func (x *Index[T]) Lookup(ctx *T) (int32, bool) {
	if ctx == nil {
		return BootID, true
	}

	if ctx == x.system && x.system != nil {
		return SystemID, true
	}

	hash := identityHash(ctx)
	h := hash

	for range x.maxAttempts {
		current := x.slots[x.slotOf(h)].Load()
		if current == nil {
			return 0, false
		}

		if current.hash == hash && current.ref.Value() == ctx {
			return current.id, true
		}

		h = probe.Rehash(h)
	}

	return 0, false
}

func (x *Index[T]) keyOf(ctx *T) *key[T] {
	hash := identityHash(ctx)

	var fresh *key[T]

	for {
		h := hash

		var (
			victim     *key[T]
			victimSlot uint32
			raced      bool
		)

		for range x.maxAttempts {
			slot := x.slotOf(h)
			current := x.slots[slot].Load()

			if current != nil && current.hash == hash && current.ref.Value() == ctx {
				return current
			}

			if current == nil || current.ref.Value() == nil {
				fresh = x.mint(ctx, hash, fresh)
				fresh.slot = slot

				if x.slots[slot].CompareAndSwap(current, fresh) {
					x.track(ctx, fresh)

					return fresh
				}

				// another caller claimed the slot, possibly for ctx itself
				raced = true

				break
			}

			// ids grow monotonically, so the smallest id is the oldest entry
			if victim == nil || current.id <= victim.id {
				victim, victimSlot = current, slot
			}

			h = probe.Rehash(h)
		}

		if raced {
			continue
		}

		fresh = x.mint(ctx, hash, fresh)
		fresh.slot = victimSlot

		if x.slots[victimSlot].CompareAndSwap(victim, fresh) {
			x.track(ctx, fresh)

			return fresh
		}
	}
}

// mint returns prev if one was already minted by an earlier, lost attempt.
func (x *Index[T]) mint(ctx *T, hash uint32, prev *key[T]) *key[T] {
	if prev != nil {
		return prev
	}

	return &key[T]{
		ref:  weak.Make(ctx),
		hash: hash,
		id:   x.nextID.Add(1) - 1,
	}
}

// track queues k for the next sweep once ctx becomes unreachable.
func (x *Index[T]) track(ctx *T, k *key[T]) {
	runtime.AddCleanup(ctx, x.enqueue, k)
}

func (x *Index[T]) enqueue(k *key[T]) {
	x.staleMu.Lock()
	x.stale = append(x.stale, k)
	x.staleMu.Unlock()
}

// OnStale registers fn to be called with the id of every key removed by
// [Index.Sweep]. Listeners run on the sweeping goroutine.
func (x *Index[T]) OnStale(fn func(id int32)) {
	x.listenersMu.Lock()
	defer x.listenersMu.Unlock()

	var next []func(int32)
	if current := x.listeners.Load(); current != nil {
		next = append(next, *current...)
	}

	next = append(next, fn)
	x.listeners.Store(&next)
}

// Sweep drains up to the configured number of stale keys, clears their
// slots and notifies listeners. It returns the number of keys drained.
//
// Sweep is single-flight: a call made while another sweep is running
// returns 0 immediately. It may run concurrently with IDOf and Lookup.
func (x *Index[T]) Sweep() int {
	if !x.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer x.sweeping.Store(false)

	x.staleMu.Lock()
	n := min(len(x.stale), x.maxSweep)
	drained := make([]*key[T], n)
	copy(drained, x.stale)
	x.stale = append(x.stale[:0], x.stale[n:]...)
	x.staleMu.Unlock()

	var listeners []func(int32)
	if current := x.listeners.Load(); current != nil {
		listeners = *current
	}

	for _, k := range drained {
		// the slot may already hold a newer key
		x.slots[k.slot].CompareAndSwap(k, nil)

		for _, fn := range listeners {
			fn(k.id)
		}
	}

	return n
}

// Pending reports how many stale keys are waiting for a sweep.
func (x *Index[T]) Pending() int {
	x.staleMu.Lock()
	defer x.staleMu.Unlock()

	return len(x.stale)
}

// Len counts slots holding a live context. It walks the whole table.
func (x *Index[T]) Len() int {
	n := 0

	for i := range x.slots {
		if k := x.slots[i].Load(); k != nil && k.ref.Value() != nil {
			n++
		}
	}

	return n
}

// Size returns the number of table slots.
func (x *Index[T]) Size() int {
	return len(x.slots)
}

func (x *Index[T]) slotOf(h uint32) uint32 {
	return max(firstSlot, h&x.mask)
}

// identityHash hashes the address of ctx. Heap objects do not move, so the
// address is stable for as long as ctx is reachable.
func identityHash[T any](ctx *T) uint32 {
	addr := uint64(uintptr(unsafe.Pointer(ctx)))

	// drop allocation alignment, fold the high half in
	h := uint32(addr>>4) ^ uint32(addr>>36)

	// multiply by -127 and fold to spread neighbouring allocations
	h -= h << 7
	h ^= h >> 15

	return h
}
