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
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/chainproof/smt/hasher"
)

const walFileName = "wal.log"

// walOpKind distinguishes the two mutations the tree ever performs.
type walOpKind uint8

const (
	walOpAppend walOpKind = 1
	walOpUpdate walOpKind = 2
)

// walRecord is one logged mutation: enough to replay Append/Update
// against an in-memory tree without re-hashing the original leaf data
// (the digest is logged, not the raw bytes, matching what SetLeafDigest
// needs).
type walRecord struct {
	seq    uint64
	op     walOpKind
	index  uint64
	digest hasher.Digest
}

// walRecordSize is fixed: seq(8) + op(1) + index(8) + digest(32) +
// crc32(4).
const walRecordSize = 8 + 1 + 8 + hasher.Size + 4

func encodeWALRecord(r walRecord) []byte {
	buf := make([]byte, walRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.seq)
	buf[8] = byte(r.op)
	binary.LittleEndian.PutUint64(buf[9:17], r.index)
	copy(buf[17:17+hasher.Size], r.digest[:])
	crc := crc32.ChecksumIEEE(buf[:17+hasher.Size])
	binary.LittleEndian.PutUint32(buf[17+hasher.Size:], crc)
	return buf
}

func decodeWALRecord(buf []byte) (walRecord, error) {
	var r walRecord
	if len(buf) != walRecordSize {
		return r, fmt.Errorf("storage: WAL record is %d bytes, want %d", len(buf), walRecordSize)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[17+hasher.Size:])
	gotCRC := crc32.ChecksumIEEE(buf[:17+hasher.Size])
	if wantCRC != gotCRC {
		return r, newError(ClassCorruption, ErrCorruptWAL)
	}
	r.seq = binary.LittleEndian.Uint64(buf[0:8])
	r.op = walOpKind(buf[8])
	r.index = binary.LittleEndian.Uint64(buf[9:17])
	d, _ := hasher.DigestFromBytes(buf[17 : 17+hasher.Size])
	r.digest = d
	return r, nil
}

// wal is an append-only log of walRecords, fsync'd on every Append so a
// crash after Append returns never loses that mutation (WAL-first
// ordering: the tree only applies a mutation to the data file after the
// WAL record for it is durable).
type wal struct {
	path    string
	f       *os.File
	nextSeq uint64
}

// openWAL opens (creating if necessary) the WAL at <directory>/wal.log
// and returns it positioned to append after any existing records.
func openWAL(directory string) (*wal, error) {
	path := filepath.Join(directory, walFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: open WAL: %w", err))
	}
	w := &wal{path: path, f: f}

	// Determine nextSeq from the last valid record so a reopened WAL
	// that still holds records continues the sequence rather than
	// restarting it. An empty WAL (for example after a Sync or a clean
	// Close) starts again at 0; within one open WAL, Truncate does not
	// reset the counter.
	records, err := w.replayLocked()
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		w.nextSeq = records[n-1].seq + 1
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: seek WAL: %w", err))
	}
	return w, nil
}

// Append writes r (assigning it the next sequence number) and fsyncs
// before returning, so the caller can treat a nil error as "durable".
func (w *wal) Append(op walOpKind, index uint64, digest hasher.Digest) error {
	r := walRecord{seq: w.nextSeq, op: op, index: index, digest: digest}
	buf := encodeWALRecord(r)
	if _, err := w.f.Write(buf); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: append WAL record: %w", err))
	}
	if err := w.f.Sync(); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: sync WAL: %w", err))
	}
	w.nextSeq++
	return nil
}

// Replay reads every valid record from the start of the file. It stops
// at the first corrupt record (rather than erroring the whole replay)
// on the assumption that a torn write only ever happens at the tail,
// consistent with WAL-first single-writer append semantics; it logs
// when this truncates the visible tail.
func (w *wal) Replay() ([]walRecord, error) {
	records, err := w.replayLocked()
	if _, serr := w.f.Seek(0, io.SeekEnd); serr != nil && err == nil {
		err = newError(ClassIO, fmt.Errorf("storage: seek WAL after replay: %w", serr))
	}
	return records, err
}

func (w *wal) replayLocked() ([]walRecord, error) {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: seek WAL: %w", err))
	}
	r := bufio.NewReader(w.f)
	var records []walRecord
	var nextWantSeq uint64
	haveWantSeq := false
	buf := make([]byte, walRecordSize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			glog.Warningf("storage: WAL %s has a short trailing record, ignoring it", w.path)
			break
		}
		if err != nil {
			return nil, newError(ClassIO, fmt.Errorf("storage: read WAL record: %w", err))
		}
		rec, err := decodeWALRecord(buf)
		if err != nil {
			glog.Warningf("storage: WAL %s has a corrupt record, truncating replay there: %v", w.path, err)
			break
		}
		// Sequence numbers are not reset at each truncate (see openWAL),
		// so the first record's sequence seeds the expectation rather
		// than 0; every
		// record after it must follow with no gap, since the WAL's
		// single-writer, append-only contract never skips a sequence
		// number for a legitimate record.
		if !haveWantSeq {
			nextWantSeq = rec.seq
			haveWantSeq = true
		}
		if rec.seq != nextWantSeq {
			glog.Warningf("storage: WAL %s has a sequence gap (want %d, got %d), truncating replay there", w.path, nextWantSeq, rec.seq)
			break
		}
		records = append(records, rec)
		nextWantSeq = rec.seq + 1
	}
	return records, nil
}

// Size returns the WAL file's current length, for recording as the
// metadata record's walTailOffset just before the WAL is truncated.
func (w *wal) Size() (uint64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, newError(ClassIO, fmt.Errorf("storage: stat WAL: %w", err))
	}
	return uint64(info.Size()), nil
}

// Truncate discards all records, used once their mutations have been
// made durable in the data file and metadata via Sync.
func (w *wal) Truncate() error {
	if err := w.f.Truncate(0); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: truncate WAL: %w", err))
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: seek WAL after truncate: %w", err))
	}
	return nil
}

func (w *wal) Close() error {
	if err := w.f.Close(); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: close WAL: %w", err))
	}
	return nil
}
