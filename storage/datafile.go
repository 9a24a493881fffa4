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

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/storage/cache"
)

const dataFileName = "data.bin"

// dataFile is the flat, slot-indexed file holding every leaf digest
// ever written, fronted by a page cache and (optionally) a
// memory-mapped hot region covering its first mmapBytes bytes.
type dataFile struct {
	f         *os.File
	pageSize  int
	cache     *cache.PageCache
	hotRegion *mmapRegion // nil if mmap is disabled or unsupported
}

func openDataFile(directory string, pageSizeBytes int, cacheBytes, mmapBytes int64) (*dataFile, error) {
	path := filepath.Join(directory, dataFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: open data file: %w", err))
	}

	df := &dataFile{f: f, pageSize: pageSizeBytes}
	df.cache = cache.New(pageSizeBytes, cacheBytes, df.readPage, df.writePage)

	if mmapBytes > 0 {
		region, err := openMmapRegion(f, mmapBytes)
		if err != nil {
			// The data file remains authoritative either way: mmap is
			// strictly a latency optimization, so a platform that can't
			// support it (or a filesystem that rejects it) just runs
			// without the hot region instead of failing Open.
			region = nil
		}
		df.hotRegion = region
	}
	return df, nil
}

// readPage and writePage are the PageCache's ReadThroughFunc/WriteBackFunc:
// readPage prefers the mmap'd hot region when the page falls within it,
// falling back to a pread-equivalent otherwise.
func (df *dataFile) readPage(pageID int64) ([]byte, error) {
	offset := pageID * int64(df.pageSize)
	if df.hotRegion != nil {
		if data, ok := df.hotRegion.Read(offset, df.pageSize); ok {
			return data, nil
		}
	}
	buf := make([]byte, df.pageSize)
	_, err := df.f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, newError(ClassIO, fmt.Errorf("storage: read data file page %d: %w", pageID, err))
	}
	// A page past current EOF reads back partially or fully zero: slots
	// there were never written, same as a freshly extended file would read.
	return buf, nil
}

func (df *dataFile) writePage(pageID int64, data []byte) error {
	offset := pageID * int64(df.pageSize)
	if df.hotRegion != nil {
		if df.hotRegion.Write(offset, data) {
			return nil
		}
	}
	if _, err := df.f.WriteAt(data, offset); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: write data file page %d: %w", pageID, err))
	}
	return nil
}

// ReadSlot returns the digest at leaf index, and whether it was ever
// written, reading through the page cache (and transparently handling
// slots that straddle a page boundary).
func (df *dataFile) ReadSlot(index uint64) (hasher.Digest, bool, error) {
	start := slotOffset(index)
	buf, err := df.readSpan(start, slotSize)
	if err != nil {
		return hasher.Digest{}, false, err
	}
	var slot [slotSize]byte
	copy(slot[:], buf)
	d, ok := decodeSlot(slot)
	return d, ok, nil
}

// WriteSlot writes d at leaf index through the page cache.
func (df *dataFile) WriteSlot(index uint64, d hasher.Digest) error {
	slot := encodeSlot(d)
	return df.writeSpan(slotOffset(index), slot[:])
}

// ReadSlotDirect reads the digest at leaf index straight from the
// underlying file via pread, bypassing the page cache entirely. The
// cache is the sole reader of the data file for ordinary slot-level
// access; recovery is the one case the cache is deliberately
// sidestepped for, since the cache starts cold at Open and a direct
// read avoids populating it with pages that are about to be
// overwritten by WAL replay.
func (df *dataFile) ReadSlotDirect(index uint64) (hasher.Digest, bool, error) {
	buf := make([]byte, slotSize)
	_, err := df.f.ReadAt(buf, slotOffset(index))
	if err != nil && !errors.Is(err, io.EOF) {
		return hasher.Digest{}, false, newError(ClassIO, fmt.Errorf("storage: direct read data file slot %d: %w", index, err))
	}
	// A slot past current EOF reads back partially or fully zero: never
	// written, same as readPage's handling of a page past EOF.
	var slot [slotSize]byte
	copy(slot[:], buf)
	d, ok := decodeSlot(slot)
	return d, ok, nil
}

// WriteSlotDirect writes d at leaf index straight to the underlying
// file via pwrite, bypassing the page cache entirely. PageCache is not
// safe for concurrent use, so Compact's parallel rewrite across
// disjoint index ranges uses this instead of WriteSlot — concurrent
// WriteAt calls at disjoint, non-overlapping offsets on the same *os.File
// are safe, unlike concurrent calls into a shared, unsynchronized cache.
// Callers that bypass the cache this way must call DropCache afterward
// so previously cached pages don't serve stale reads.
func (df *dataFile) WriteSlotDirect(index uint64, d hasher.Digest) error {
	slot := encodeSlot(d)
	if _, err := df.f.WriteAt(slot[:], slotOffset(index)); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: direct write data file slot %d: %w", index, err))
	}
	return nil
}

// DropCache discards every resident page without writing it back, for
// use after WriteSlotDirect has made the cache's view of the file stale.
func (df *dataFile) DropCache() {
	df.cache.Reset()
}

func (df *dataFile) readSpan(start int64, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for len(out) < length {
		byteOffset := start + int64(len(out))
		pid := pageID(byteOffset, df.pageSize)
		off := pageOffset(byteOffset, df.pageSize)

		page, err := df.cache.Get(pid)
		if err != nil {
			return nil, err
		}
		n := copyBounded(page, off, length-len(out))
		out = append(out, page[off:off+n]...)
	}
	return out, nil
}

func (df *dataFile) writeSpan(start int64, data []byte) error {
	written := 0
	for written < len(data) {
		byteOffset := start + int64(written)
		pid := pageID(byteOffset, df.pageSize)
		off := pageOffset(byteOffset, df.pageSize)

		page, err := df.cache.Get(pid)
		if err != nil {
			return err
		}
		page = append([]byte(nil), page...) // copy-on-write: never alias the cache's backing array
		n := copyBounded(page, off, len(data)-written)
		copy(page[off:off+n], data[written:written+n])
		if err := df.cache.Put(pid, page); err != nil {
			return err
		}
		written += n
	}
	return nil
}

// copyBounded returns how many bytes can be copied into page[off:]
// without exceeding want or the page's own length.
func copyBounded(page []byte, off, want int) int {
	n := len(page) - off
	if n > want {
		n = want
	}
	return n
}

// Flush writes back every dirty cached page and fsyncs the underlying
// file, in that order, so Sync() callers get a durability guarantee.
func (df *dataFile) Flush() error {
	if err := df.cache.Flush(); err != nil {
		return err
	}
	if err := df.f.Sync(); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: sync data file: %w", err))
	}
	return nil
}

func (df *dataFile) Close() error {
	if df.hotRegion != nil {
		_ = df.hotRegion.Close()
	}
	if err := df.f.Close(); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: close data file: %w", err))
	}
	return nil
}
