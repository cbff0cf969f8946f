// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.
//
// Modifications (c) 2017 The Memory Authors.

package fixedpool

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmap on Windows is a two-step process. First, CreateFileMapping gets a
// handle; then MapViewOfFile gets an actual pointer into memory. We keep
// handleMap so Free can recover the handle from the region's base address.
var handleMap = map[uintptr]windows.Handle{}

func mmapRegion(size int) ([]byte, error) {
	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if addr == 0 {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}

	if addr&uintptr(osPageMask) != 0 {
		panic("fixedpool: mmap returned a non-page-aligned region")
	}

	handleMap[addr] = h
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func unmapRegion(addr unsafe.Pointer, size int) error {
	// Unmapping and the handleMap bookkeeping race against reuse of the
	// same base address by a subsequent mapping if done concurrently;
	// mmapUpstream callers serialize through lockedUpstream.
	if err := windows.UnmapViewOfFile(uintptr(addr)); err != nil {
		return err
	}

	handle, ok := handleMap[uintptr(addr)]
	if !ok {
		return errors.New("fixedpool: unknown mapping base address")
	}
	delete(handleMap, uintptr(addr))

	return os.NewSyscallError("CloseHandle", windows.CloseHandle(handle))
}
