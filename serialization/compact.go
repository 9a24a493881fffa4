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

package serialization

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/btree"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
)

// compactEntry is a single (index, digest) pair ordered by index. Using
// a btree to gather entries (rather than sorting a slice built from a
// map) keeps encodeCompact's ordering behavior identical regardless of
// Go's randomized map iteration, and gives decodeCompact's validation a
// natural ascending-order counterpart to check against.
type compactEntry struct {
	index  uint64
	digest hasher.Digest
}

func (e compactEntry) Less(than btree.Item) bool {
	return e.index < than.(compactEntry).index
}

// encodeCompact stores only occupied leaves as varint-packed (index,
// digest) pairs in ascending index order. Because leaves are always
// contiguous from 0 (invariant I1), next_index is never written: a
// decoder recovers it as the last stored index plus one.
func encodeCompact(t *merkle.Tree) ([]byte, error) {
	tr := btree.New(32)
	t.ForEachLeaf(func(index uint64, d hasher.Digest) bool {
		tr.ReplaceOrInsert(compactEntry{index: index, digest: d})
		return true
	})

	var buf bytes.Buffer
	buf.WriteByte(tagCompact)

	var hdr [3]byte
	binary.LittleEndian.PutUint16(hdr[0:2], FormatVersion)
	hdr[2] = t.Depth()
	buf.Write(hdr[:])

	var varintBuf [binary.MaxVarintLen64]byte
	var prevIndexPlusOne uint64
	tr.Ascend(func(item btree.Item) bool {
		e := item.(compactEntry)
		// Store the gap from the previous entry rather than the raw
		// index: gaps are typically small, so varint-encoding them
		// produces shorter records than varint-encoding absolute indices.
		gap := e.index - prevIndexPlusOne
		n := binary.PutUvarint(varintBuf[:], gap)
		buf.Write(varintBuf[:n])
		buf.Write(e.digest[:])
		prevIndexPlusOne = e.index + 1
		return true
	})
	return buf.Bytes(), nil
}

func decodeCompact(body []byte) (*merkle.Tree, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("%w: compact record too short", ErrUnknownFormat)
	}
	version := binary.LittleEndian.Uint16(body[0:2])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: compact record version %d", ErrUnknownFormat, version)
	}
	depth := body[2]

	t, err := merkle.New(depth)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body[3:])
	var prevIndexPlusOne uint64
	for r.Len() > 0 {
		gap, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("serialization: compact decode: bad varint: %w", err)
		}
		index := prevIndexPlusOne + gap

		digestBytes := make([]byte, hasher.Size)
		if _, err := io.ReadFull(r, digestBytes); err != nil {
			return nil, fmt.Errorf("serialization: compact decode index %d: %w", index, err)
		}
		d, ok := hasher.DigestFromBytes(digestBytes)
		if !ok {
			return nil, fmt.Errorf("serialization: compact decode index %d: bad digest length", index)
		}

		if index >= t.Capacity() {
			return nil, fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, index, t.Capacity())
		}
		// For a gap produced by encodeCompact this can never trigger: gap
		// is unsigned, so index = prevIndexPlusOne + gap is always >=
		// prevIndexPlusOne. It guards corrupt or adversarial input instead,
		// where an oversized gap wraps prevIndexPlusOne + gap around
		// uint64's range and lands back below prevIndexPlusOne.
		if index < prevIndexPlusOne {
			return nil, fmt.Errorf("%w: index %d", ErrDuplicateIndex, index)
		}

		if err := t.SetLeafDigest(index, d); err != nil {
			return nil, fmt.Errorf("serialization: compact decode index %d: %w", index, err)
		}
		prevIndexPlusOne = index + 1
	}
	return t, nil
}
