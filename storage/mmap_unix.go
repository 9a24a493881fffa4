// Copyright 2024 The SMT Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build unix

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion memory-maps the first len(data) bytes of a file as a
// read/write "hot region", letting Read/Write on in-range offsets avoid
// a syscall entirely. The data file on disk remains authoritative: the
// region is advisory and is always sized to fit within an int, unlike
// the data file itself which can grow arbitrarily large.
type mmapRegion struct {
	data []byte
}

func openMmapRegion(f *os.File, size int64) (*mmapRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("storage: mmap region size must be positive")
	}
	// Grow the file to at least size so the mapping doesn't run past
	// EOF, but never shrink it: a tree already holding more than
	// mmapBytes worth of slots has real data past that point, and
	// Truncate would otherwise discard it on every reopen.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("storage: stat for mmap: %w", err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("storage: truncate for mmap: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("storage: mmap: %w", err)
	}
	return &mmapRegion{data: data}, nil
}

// Read copies length bytes starting at offset into a fresh slice, and
// reports false if the span isn't entirely within the mapped region.
func (m *mmapRegion) Read(offset int64, length int) ([]byte, bool) {
	if offset < 0 || offset+int64(length) > int64(len(m.data)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+int64(length)])
	return out, true
}

// Write copies data into the mapped region at offset, and reports false
// (writing nothing) if the span isn't entirely within the mapped
// region.
func (m *mmapRegion) Write(offset int64, data []byte) bool {
	if offset < 0 || offset+int64(len(data)) > int64(len(m.data)) {
		return false
	}
	copy(m.data[offset:offset+int64(len(data))], data)
	return true
}

func (m *mmapRegion) Close() error {
	return unix.Munmap(m.data)
}
