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
	"os"
	"path/filepath"
	"testing"

	"github.com/chainproof/smt/hasher"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	defer w.Close()

	for i := uint64(0); i < 3; i++ {
		if err := w.Append(walOpAppend, i, hasher.Leaf([]byte{byte(i)})); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Replay returned %d records, want 3", len(records))
	}
	for i, r := range records {
		if r.seq != uint64(i) || r.index != uint64(i) {
			t.Fatalf("record %d = %+v, want seq=index=%d", i, r, i)
		}
	}
}

func TestWALTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	defer w.Close()

	if err := w.Append(walOpAppend, 0, hasher.Leaf([]byte("a"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	records, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Replay after Truncate returned %d records, want 0", len(records))
	}
}

func TestWALReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := w.Append(walOpAppend, uint64(i), hasher.Leaf([]byte{byte(i)})); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := openWAL(dir)
	if err != nil {
		t.Fatalf("re-openWAL: %v", err)
	}
	defer w2.Close()
	if w2.nextSeq != 2 {
		t.Fatalf("nextSeq after reopen = %d, want 2", w2.nextSeq)
	}
}

func TestWALSequenceGapStopsReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.Append(walOpAppend, 0, hasher.Leaf([]byte("a"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(walOpAppend, 1, hasher.Leaf([]byte("b"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Rewrite the second record's sequence field to skip a number,
	// leaving its CRC internally consistent with the new seq value so
	// only the continuity check (not the checksum) can catch the gap.
	path := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open WAL file: %v", err)
	}
	buf := make([]byte, walRecordSize)
	if _, err := f.ReadAt(buf, walRecordSize); err != nil {
		t.Fatalf("read second record: %v", err)
	}
	rec, err := decodeWALRecord(buf)
	if err != nil {
		t.Fatalf("decodeWALRecord: %v", err)
	}
	rec.seq = 5 // skips ahead instead of continuing at 1
	if _, err := f.WriteAt(encodeWALRecord(rec), walRecordSize); err != nil {
		t.Fatalf("rewrite second record: %v", err)
	}
	f.Close()

	w2, err := openWAL(dir)
	if err != nil {
		t.Fatalf("re-openWAL: %v", err)
	}
	defer w2.Close()
	records, err := w2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Replay past a sequence gap returned %d records, want 1", len(records))
	}
}

func TestWALCorruptTailStopsReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := openWAL(dir)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	if err := w.Append(walOpAppend, 0, hasher.Leaf([]byte("a"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(walOpAppend, 1, hasher.Leaf([]byte("b"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip a byte in the second record's digest to break its checksum.
	path := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open WAL file: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, walRecordSize+20); err != nil {
		t.Fatalf("corrupt WAL file: %v", err)
	}
	f.Close()

	w2, err := openWAL(dir)
	if err != nil {
		t.Fatalf("re-openWAL: %v", err)
	}
	defer w2.Close()
	records, err := w2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Replay after corruption returned %d records, want 1", len(records))
	}
}
