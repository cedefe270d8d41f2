package scope

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// Value lazily associates a computed value with every context it is asked
// about. Values are held for as long as their context is reachable; the value
// must not point back at its context or the context can never be reclaimed.
//
// Like [Index], Value does not clean up on its own. The owner decides when to
// call [Value.RemoveStale].
type Value[T, V any] struct {
	system  *T
	compute func(ctx *T) V

	// the nil and system contexts are never reclaimed
	boot  atomic.Pointer[V]
	sysv  atomic.Pointer[V]
	byRef sync.Map // weak.Pointer[T] -> *V

	staleMu sync.Mutex
	stale   []weak.Pointer[T]
}

// NewValue returns a Value computing entries with compute.
func NewValue[T, V any](system *T, compute func(ctx *T) V) *Value[T, V] {
	return &Value[T, V]{system: system, compute: compute}
}

// Get returns the value for ctx, computing it on first use. When several
// callers race for the same context, one computed value wins and is returned
// to all of them.
func (v *Value[T, V]) Get(ctx *T) V {
	switch {
	case ctx == nil:
		return v.fixed(&v.boot, ctx)
	case ctx == v.system:
		return v.fixed(&v.sysv, ctx)
	}

	ref := weak.Make(ctx)

	if existing, ok := v.byRef.Load(ref); ok {
		return *existing.(*V)
	}

	computed := v.compute(ctx)

	actual, loaded := v.byRef.LoadOrStore(ref, &computed)
	if !loaded {
		runtime.AddCleanup(ctx, v.enqueue, ref)
	}

	return *actual.(*V)
}

// Remove drops the value for ctx; the next Get computes it again.
func (v *Value[T, V]) Remove(ctx *T) {
	switch {
	case ctx == nil:
		v.boot.Store(nil)
	case ctx == v.system:
		v.sysv.Store(nil)
	default:
		v.byRef.Delete(weak.Make(ctx))
	}
}

// RemoveStale drops up to [DefaultMaxSweep] values whose context has been
// reclaimed and returns how many it dropped.
func (v *Value[T, V]) RemoveStale() int {
	v.staleMu.Lock()
	n := min(len(v.stale), DefaultMaxSweep)
	drained := make([]weak.Pointer[T], n)
	copy(drained, v.stale)
	v.stale = append(v.stale[:0], v.stale[n:]...)
	v.staleMu.Unlock()

	for _, ref := range drained {
		v.byRef.Delete(ref)
	}

	return n
}

// Range calls fn for every live context holding a value. The nil and system
// contexts are not visited.
func (v *Value[T, V]) Range(fn func(ctx *T, value V) bool) {
	v.byRef.Range(func(k, val any) bool {
		ctx := k.(weak.Pointer[T]).Value()
		if ctx == nil {
			return true
		}

		return fn(ctx, *val.(*V))
	})
}

func (v *Value[T, V]) fixed(slot *atomic.Pointer[V], ctx *T) V {
	for {
		if current := slot.Load(); current != nil {
			return *current
		}

		computed := v.compute(ctx)
		if slot.CompareAndSwap(nil, &computed) {
			return computed
		}
	}
}

func (v *Value[T, V]) enqueue(ref weak.Pointer[T]) {
	v.staleMu.Lock()
	v.stale = append(v.stale, ref)
	v.staleMu.Unlock()
}
