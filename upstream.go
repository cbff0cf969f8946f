// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedpool

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// Upstream is the coarse-grained allocator a Pool draws slot-sized regions
// from. It is the only external dependency of the fixedpool core:
// everything else in this package is single-threaded and allocation-free
// once a Pool's slots exist.
//
// actual is allowed to exceed the requested size; Pool exploits this to size
// a staticSlot's capacity from the region it actually received rather than
// the region it asked for.
type Upstream interface {
	// Alloc returns an uninitialized region of at least size bytes.
	Alloc(size int) (p unsafe.Pointer, actual int, err error)
	// AllocZero is like Alloc except the returned region is zero-filled.
	AllocZero(size int) (p unsafe.Pointer, actual int, err error)
	// Free releases a region previously returned by Alloc or AllocZero.
	Free(p unsafe.Pointer)
}

var (
	osPageMask = osPageSize - 1
	osPageSize = os.Getpagesize()
)

// if n%m != 0 { n += m-n%m }. m must be a power of 2.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// mmapUpstream is the default Upstream. A Pool only ever asks it for one
// shape of region: something close to one slot's worth of bytes, requested
// again and again as slots are born and released. That rules out a general
// variable-size allocator's size-class ladder and its sub-page object
// packing — there is only ever one object per region here, so the unit of
// allocation, reuse, and release is the whole OS-page-rounded region.
//
// mmapUpstream rounds every request up to a whole number of pages and keeps
// a small number of same-page-count regions warm per bucket so that a
// Pool's steady-state churn (the same slot size, over and over) mostly
// hits the free list instead of the OS. It owns no goroutines and does no
// locking of its own; DefaultUpstream wraps one instance with a mutex so
// it is safe to share across pools that are each used single-threaded.
type mmapUpstream struct {
	allocs int // # of outstanding allocations, for diagnostics only
	bytes  int // bytes currently mapped from the OS, mapped minus recycled
	mmaps  int // # of distinct OS mappings held, including warm ones
	sizes  map[unsafe.Pointer]int   // base -> region length, for Free
	warm   map[int][]unsafe.Pointer // pages -> recycled region bases
}

// warmPerBucket caps how many same-page-count regions mmapUpstream keeps
// around after Free before it actually unmaps them. A Pool only ever frees
// whole slots, so this bounds how many empty slots' worth of address space
// stay mapped in case the pool immediately needs another one.
const warmPerBucket = 4

// Alloc implements Upstream.
func (a *mmapUpstream) Alloc(size int) (unsafe.Pointer, int, error) {
	if size < 0 {
		panic("fixedpool: invalid alloc size")
	}
	if size == 0 {
		return nil, 0, nil
	}

	pages := roundup(size, osPageSize) / osPageSize
	actual := pages * osPageSize

	if stack := a.warm[pages]; len(stack) > 0 {
		p := stack[len(stack)-1]
		a.warm[pages] = stack[:len(stack)-1]
		a.allocs++
		return p, actual, nil
	}

	b, err := mmapRegion(actual)
	if err != nil {
		return nil, 0, wrap(ErrOutOfMemory, err.Error())
	}

	a.allocs++
	a.mmaps++
	a.bytes += actual
	p := unsafe.Pointer(&b[0])
	if a.sizes == nil {
		a.sizes = map[unsafe.Pointer]int{}
	}
	a.sizes[p] = actual
	log.WithFields(logrus.Fields{"bytes": actual, "mmaps": a.mmaps}).Debug("fixedpool: upstream mmap")
	return p, actual, nil
}

// AllocZero implements Upstream.
func (a *mmapUpstream) AllocZero(size int) (unsafe.Pointer, int, error) {
	p, actual, err := a.Alloc(size)
	if p == nil || err != nil {
		return p, actual, err
	}

	b := unsafe.Slice((*byte)(p), actual)
	for i := range b {
		b[i] = 0
	}
	return p, actual, nil
}

// Free implements Upstream.
func (a *mmapUpstream) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	actual, ok := a.sizes[p]
	if !ok {
		panic(fmt.Sprintf("fixedpool: free of region %p not owned by this upstream", p))
	}
	a.allocs--

	pages := actual / osPageSize
	if len(a.warm[pages]) < warmPerBucket {
		if a.warm == nil {
			a.warm = map[int][]unsafe.Pointer{}
		}
		a.warm[pages] = append(a.warm[pages], p)
		return
	}

	delete(a.sizes, p)
	a.mmaps--
	a.bytes -= actual
	if err := unmapRegion(p, actual); err != nil {
		log.WithError(err).Error("fixedpool: upstream unmap failed")
	}
}

// lockedUpstream serializes access to an mmapUpstream so that independent
// pools, each itself single-threaded, may still safely share the
// process-wide default upstream from different goroutines.
type lockedUpstream struct {
	mu sync.Mutex
	u  mmapUpstream
}

func (l *lockedUpstream) Alloc(size int) (unsafe.Pointer, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.Alloc(size)
}

func (l *lockedUpstream) AllocZero(size int) (unsafe.Pointer, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.AllocZero(size)
}

func (l *lockedUpstream) Free(p unsafe.Pointer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.u.Free(p)
}

var defaultUpstream = &lockedUpstream{}

// DefaultUpstream returns the process-wide Upstream used by New when the
// caller passes a nil Upstream. It must be usable before any Pool operation
// and is torn down only implicitly, at process exit.
func DefaultUpstream() Upstream { return defaultUpstream }
