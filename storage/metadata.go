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
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

const metadataFileName = "meta.bin"

// metadataMagic identifies the file format independent of FormatVersion,
// so an operator pointing this package at an unrelated file gets a
// clear error instead of a misleading checksum failure.
const metadataMagic uint32 = 0x534d545f // "SMT_"

// metadataRecordSize is fixed: magic(4) + version(2) + depth(1) +
// reserved(1) + nextIndex(8) + root(32) + walTailOffset(8) + crc32(4).
const metadataRecordSize = 4 + 2 + 1 + 1 + 8 + 32 + 8 + 4

// metadataRecord is the durable summary of tree state: everything
// needed to validate a recovered tree against the data file and WAL
// without re-deriving it from the leaves themselves. walTailOffset
// records the WAL file length at the moment this record was written —
// every byte before it is already reflected in nextIndex/root, so a
// reader that trusts this record never needs to re-examine that prefix
// of the WAL. Recovery here (see Tree.recover) does not read
// walTailOffset: the WAL is truncated on every commit, so it replays
// every record the WAL holds. The field is carried for schema fidelity
// and diagnostics.
type metadataRecord struct {
	version       uint16
	depth         uint8
	nextIndex     uint64
	root          [32]byte
	walTailOffset uint64
}

func encodeMetadata(m metadataRecord) []byte {
	buf := make([]byte, metadataRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], metadataMagic)
	binary.LittleEndian.PutUint16(buf[4:6], m.version)
	buf[6] = m.depth
	// buf[7] is reserved padding, always zero.
	binary.LittleEndian.PutUint64(buf[8:16], m.nextIndex)
	copy(buf[16:48], m.root[:])
	binary.LittleEndian.PutUint64(buf[48:56], m.walTailOffset)
	crc := crc32.ChecksumIEEE(buf[:56])
	binary.LittleEndian.PutUint32(buf[56:60], crc)
	return buf
}

func decodeMetadata(buf []byte) (metadataRecord, error) {
	var m metadataRecord
	if len(buf) != metadataRecordSize {
		return m, fmt.Errorf("storage: metadata record is %d bytes, want %d", len(buf), metadataRecordSize)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != metadataMagic {
		return m, fmt.Errorf("storage: metadata file has wrong magic")
	}
	wantCRC := binary.LittleEndian.Uint32(buf[56:60])
	gotCRC := crc32.ChecksumIEEE(buf[:56])
	if wantCRC != gotCRC {
		return m, newError(ClassCorruption, ErrCorruptMetadata)
	}
	m.version = binary.LittleEndian.Uint16(buf[4:6])
	m.depth = buf[6]
	m.nextIndex = binary.LittleEndian.Uint64(buf[8:16])
	copy(m.root[:], buf[16:48])
	m.walTailOffset = binary.LittleEndian.Uint64(buf[48:56])
	return m, nil
}

// writeMetadataAtomic writes m to <directory>/meta.bin via a
// write-to-temp-then-rename, so a crash mid-write never leaves a
// half-written meta.bin for the next Open to trip over.
func writeMetadataAtomic(directory string, m metadataRecord) error {
	final := filepath.Join(directory, metadataFileName)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return newError(ClassIO, fmt.Errorf("storage: create metadata temp file: %w", err))
	}
	if _, err := f.Write(encodeMetadata(m)); err != nil {
		f.Close()
		return newError(ClassIO, fmt.Errorf("storage: write metadata temp file: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return newError(ClassIO, fmt.Errorf("storage: sync metadata temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: close metadata temp file: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: rename metadata temp file: %w", err))
	}
	return nil
}

// readMetadata reads and validates <directory>/meta.bin. It returns
// (metadataRecord{}, false, nil) if the file doesn't exist yet (a fresh
// directory), distinguishing "no tree here yet" from corruption.
func readMetadata(directory string) (metadataRecord, bool, error) {
	path := filepath.Join(directory, metadataFileName)
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return metadataRecord{}, false, nil
	}
	if err != nil {
		return metadataRecord{}, false, newError(ClassIO, fmt.Errorf("storage: read metadata: %w", err))
	}
	m, err := decodeMetadata(buf)
	if err != nil {
		return metadataRecord{}, false, err
	}
	return m, true, nil
}
