// Package fixedpool implements a fixed-size object pool allocator: a
// two-tier slab allocator that amortises the cost of allocating many
// same-size objects by carving them out of larger regions obtained from a
// pluggable, coarser-grained Upstream allocator.
//
// The core types are not safe for concurrent use: a Pool assumes exclusive
// access by one goroutine at a time. Sharing DefaultUpstream() across
// independently single-threaded pools running on different goroutines is
// safe; sharing one *Pool across goroutines is not.
package fixedpool

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/objpool/fixedpool/internal/metrics"
)

// ItemInit runs on a freshly carved cell before it is handed back from
// Alloc/AllocZero. Returning false aborts the allocation and the cell is
// returned to its slot.
type ItemInit func(item unsafe.Pointer, ctx any) bool

// ItemExit runs on every item about to be reclaimed, via Free, Clear, or
// Close. It must not itself allocate from the same Pool.
type ItemExit func(item unsafe.Pointer, ctx any)

// WalkFunc is invoked once per live item by Walk. Returning false stops the
// traversal early.
type WalkFunc func(item unsafe.Pointer, ctx any) bool

// Pool routes allocation requests to a current slot, falling back to a
// partial slot or a freshly built one, and classifies every slot as
// current, partial, or full on every malloc/free.
type Pool struct {
	id   uuid.UUID
	name string

	upstream     Upstream
	slotCapacity int
	itemSize     int

	itemInit ItemInit
	itemExit ItemExit
	hookCtx  any

	liveCount int
	current   *slot
	partial   slotList
	full      slotList
	lastFreed *slot

	metrics    *metrics.PoolMetrics
	metricsReg prometheus.Registerer
	log        *logrus.Entry
	closed     bool
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithName labels a pool for logs and metrics. Defaults to the pool's UUID.
func WithName(name string) Option { return func(p *Pool) { p.name = name } }

// WithHooks attaches the item construction/destruction hooks and their
// shared opaque context.
func WithHooks(init ItemInit, exit ItemExit, ctx any) Option {
	return func(p *Pool) {
		p.itemInit = init
		p.itemExit = exit
		p.hookCtx = ctx
	}
}

// WithLogger attaches a structured logger, overriding the package default.
func WithLogger(l *logrus.Entry) Option { return func(p *Pool) { p.log = l } }

// WithMetricsRegisterer registers this pool's metrics with reg instead of
// leaving them unregistered (still updated, just not exposed).
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metricsReg = reg }
}

// New creates a Pool. upstream may be nil, in which case DefaultUpstream()
// is used. slotCapacity may be 0, in which case it defaults to a
// page-derived value. itemSize must be > 0.
func New(upstream Upstream, slotCapacity, itemSize int, opts ...Option) (*Pool, error) {
	if itemSize <= 0 {
		return nil, ErrInvalidItemSize
	}
	if upstream == nil {
		upstream = DefaultUpstream()
	}
	if slotCapacity <= 0 {
		slotCapacity = osPageSize / 16
	}

	p := &Pool{
		id:           uuid.New(),
		upstream:     upstream,
		slotCapacity: slotCapacity,
		itemSize:     itemSize,
		partial:      slotList{kind: slotPartial},
		full:         slotList{kind: slotFull},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = p.id.String()
	}
	if p.log == nil {
		p.log = log.WithField("pool", p.name)
	}
	p.metrics = metrics.New(p.metricsReg, p.name)

	p.log.WithFields(logrus.Fields{
		"item_size":     itemSize,
		"slot_capacity": slotCapacity,
	}).Debug("fixedpool: pool created")
	return p, nil
}

// Len reports the exact number of items currently handed out.
func (p *Pool) Len() int { return p.liveCount }

// ItemSize reports the configured item size in bytes.
func (p *Pool) ItemSize() int { return p.itemSize }

// SlotCount reports the number of slots the pool currently owns
// (current + partial + full). It is a pure reflection of existing state,
// useful for diagnostics and tests.
func (p *Pool) SlotCount() int {
	n := p.partial.n + p.full.n
	if p.current != nil {
		n++
	}
	return n
}

// Stats is a point-in-time snapshot for diagnostics (cmd/poolctl, tests).
type Stats struct {
	Live     int
	Capacity int
	Slots    int
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Live:     p.liveCount,
		Capacity: p.SlotCount() * p.slotCapacity,
		Slots:    p.SlotCount(),
	}
}

// Alloc hands back a pointer to an uninitialized item, running ItemInit if
// configured. It fails if the upstream allocator is exhausted or if
// ItemInit refuses the cell.
func (p *Pool) Alloc() (unsafe.Pointer, error) {
	return p.alloc(false)
}

// AllocZero is like Alloc except the cell is zero-filled before ItemInit
// observes it.
func (p *Pool) AllocZero() (unsafe.Pointer, error) {
	return p.alloc(true)
}

func (p *Pool) alloc(zero bool) (unsafe.Pointer, error) {
	if p.closed {
		return nil, ErrClosed
	}

	if err := p.ensureCurrent(); err != nil {
		p.metrics.AllocFailures.Inc()
		return nil, err
	}

	cell := p.current.inner.malloc()
	if cell == nil {
		// ensureCurrent guarantees a non-full current slot; this would be
		// a corrupted invariant, not a recoverable caller error.
		panic("fixedpool: current slot reported non-full but malloc failed")
	}

	if zero {
		b := unsafe.Slice((*byte)(cell), p.itemSize)
		for i := range b {
			b[i] = 0
		}
	}

	if p.itemInit != nil && !p.itemInit(cell, p.hookCtx) {
		p.current.inner.free(cell)
		p.metrics.AllocFailures.Inc()
		return nil, ErrItemInitRefused
	}

	p.liveCount++
	p.syncMetrics()
	return cell, nil
}

// ensureCurrent guarantees p.current is non-nil and not full, building or
// adopting a slot per the allocation protocol's tie-break policy: a
// partial-list slot wins over building a new one, to keep the working set
// compact.
func (p *Pool) ensureCurrent() error {
	if p.current != nil && !p.current.inner.full() {
		return nil
	}

	if p.current != nil {
		p.full.pushTail(p.current)
		p.current = nil
	}

	if !p.partial.empty() {
		p.current = p.partial.popHead()
		p.current.kind = slotCurrent
		return nil
	}

	s, err := p.newSlot()
	if err != nil {
		return err
	}
	p.current = s
	return nil
}

func (p *Pool) newSlot() (*slot, error) {
	requestBytes := p.slotCapacity*p.itemSize + bitmapBytesFor(p.slotCapacity)
	base, actual, err := p.upstream.Alloc(requestBytes)
	if err != nil {
		return nil, wrap(err, "fixedpool: build slot")
	}

	inner := newStaticSlot(base, actual, p.itemSize)
	if inner == nil {
		p.upstream.Free(base)
		return nil, wrap(ErrOutOfMemory, "fixedpool: region too small for even one cell")
	}

	p.log.WithFields(logrus.Fields{"capacity": inner.capacity, "bytes": actual}).Debug("fixedpool: slot born")
	return &slot{base: base, regionSize: actual, inner: inner, kind: slotCurrent}, nil
}

func bitmapBytesFor(capacity int) int {
	return ((capacity + 63) / 64) * 8
}

// Free returns item to the pool, running ItemExit if configured. A foreign
// pointer (one this pool never handed out) is a fatal programmer error and
// panics; a double-free or misaligned pointer returns an error and leaves
// the pool's state unchanged.
func (p *Pool) Free(item unsafe.Pointer) error {
	if p.closed {
		return ErrClosed
	}

	s := p.findSlot(item)
	if s == nil {
		panic(fmt.Sprintf("fixedpool: free of pointer %p not owned by this pool", item))
	}

	wasFull := s.inner.full()
	if p.itemExit != nil {
		p.itemExit(item, p.hookCtx)
	}

	switch s.inner.free(item) {
	case freeOK:
		// proceeds below
	case freeMisaligned:
		return wrap(ErrMisaligned, "fixedpool: free")
	case freeNotAllocated:
		return wrap(ErrDoubleFree, "fixedpool: free")
	default:
		// findSlot already confirmed item falls within s's cell region.
		panic(fmt.Sprintf("fixedpool: free of pointer %p reported not owned by its own slot", item))
	}

	if s != p.current {
		if wasFull {
			p.full.remove(s)
			p.partial.pushTail(s)
		}
		if s.inner.empty() {
			p.partial.remove(s)
			if p.lastFreed == s {
				p.lastFreed = nil
			}
			p.upstream.Free(s.base)
			s = nil
		}
	}

	p.lastFreed = s
	p.liveCount--
	p.syncMetrics()
	return nil
}

// findSlot locates the owning slot of item: current first, then the
// last-freed cache, then a linear scan of partial and full.
func (p *Pool) findSlot(item unsafe.Pointer) *slot {
	if p.current != nil && p.current.inner.contains(item) {
		return p.current
	}
	if p.lastFreed != nil && p.lastFreed.inner.contains(item) {
		return p.lastFreed
	}

	var found *slot
	p.partial.forEach(func(s *slot) bool {
		if s.inner.contains(item) {
			found = s
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	p.full.forEach(func(s *slot) bool {
		if s.inner.contains(item) {
			found = s
			return false
		}
		return true
	})
	return found
}

// Walk invokes visitor(item, ctx) on every live item: current slot first,
// then partial-list order, then full-list order. walk itself never mutates
// the pool, so it is safe for visitor to inspect (but not free or allocate
// through) the pool it is walking.
func (p *Pool) Walk(visitor WalkFunc, ctx any) {
	call := func(item unsafe.Pointer) bool { return visitor(item, ctx) }

	if p.current != nil {
		if !p.current.inner.walk(call) {
			return
		}
	}

	if !p.partial.forEach(func(s *slot) bool { return s.inner.walk(call) }) {
		return
	}

	p.full.forEach(func(s *slot) bool { return s.inner.walk(call) })
}

// Clear releases every slot back to Upstream after running ItemExit (if
// configured) on every live item, and resets the pool to its freshly
// initialized state.
func (p *Pool) Clear() {
	if p.itemExit != nil {
		p.Walk(func(item unsafe.Pointer, _ any) bool {
			p.itemExit(item, p.hookCtx)
			return true
		}, nil)
	}

	release := func(s *slot) bool {
		p.upstream.Free(s.base)
		return true
	}
	if p.current != nil {
		release(p.current)
	}
	p.partial.forEach(release)
	p.full.forEach(release)

	p.current = nil
	p.partial = slotList{kind: slotPartial}
	p.full = slotList{kind: slotFull}
	p.lastFreed = nil
	p.liveCount = 0
	p.syncMetrics()
}

// Close calls Clear and marks the pool unusable. Alloc, AllocZero and Free
// on a closed Pool return ErrClosed.
func (p *Pool) Close() error {
	p.Clear()
	p.closed = true
	return nil
}

// Dump logs one line per non-empty slot at debug level, and the address of
// every live item at trace level. The production path pays only a level
// check when debug logging is disabled, via logrus's runtime level check.
func (p *Pool) Dump() {
	if !p.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	dumpSlot := func(s *slot) {
		if s.inner.empty() {
			return
		}
		p.log.WithFields(logrus.Fields{
			"kind":     s.kind.String(),
			"in_use":   s.inner.inUse,
			"capacity": s.inner.capacity,
		}).Debug("fixedpool: slot")

		if p.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			s.inner.walk(func(item unsafe.Pointer) bool {
				p.log.WithField("item", item).Trace("fixedpool: item")
				return true
			})
		}
	}

	if p.current != nil {
		dumpSlot(p.current)
	}
	p.partial.forEach(dumpSlot)
	p.full.forEach(dumpSlot)
}

func (p *Pool) syncMetrics() {
	p.metrics.Live.Set(float64(p.liveCount))
	p.metrics.PartialSlots.Set(float64(p.partial.n))
	p.metrics.FullSlots.Set(float64(p.full.n))
	if p.current != nil {
		p.metrics.CurrentSlots.Set(1)
	} else {
		p.metrics.CurrentSlots.Set(0)
	}
}
