// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.
//
// Modifications (c) 2017 The Memory Authors.

//go:build darwin || dragonfly || freebsd || linux || openbsd || netbsd

package fixedpool

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapRegion asks the OS for size bytes of anonymous, zero-filled memory.
// Callers round size up to a whole number of pages first; fixedpool never
// needs a mapping smaller than a page or one that packs several unrelated
// regions together.
func mmapRegion(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageMask) != 0 {
		panic("fixedpool: mmap returned a non-page-aligned region")
	}

	return b, nil
}

func unmapRegion(addr unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(addr), size)
	return unix.Munmap(b)
}
