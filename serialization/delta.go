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
	"sort"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
)

// Delta describes how to transform a base tree snapshot into a target
// snapshot of the same depth: the leaves changed within the base's
// already-appended range, plus the leaves newly appended past it.
type Delta struct {
	Depth         uint8
	BaseNextIndex uint64
	BaseRoot      hasher.Digest
	Changed       map[uint64]hasher.Digest // index < BaseNextIndex, value differs from base
	Appended      []hasher.Digest          // ascending, starting at BaseNextIndex
}

// ComputeDelta produces the Delta that transforms base into target.
// base and target must share a depth; target's NextIndex must be >=
// base's (deltas never describe truncation).
func ComputeDelta(base, target *merkle.Tree) (*Delta, error) {
	if base.Depth() != target.Depth() {
		return nil, fmt.Errorf("%w: base depth %d, target depth %d", ErrDeltaMismatch, base.Depth(), target.Depth())
	}
	if target.NextIndex() < base.NextIndex() {
		return nil, fmt.Errorf("%w: target next_index %d < base next_index %d", ErrDeltaMismatch, target.NextIndex(), base.NextIndex())
	}

	d := &Delta{
		Depth:         base.Depth(),
		BaseNextIndex: base.NextIndex(),
		BaseRoot:      base.Root(),
		Changed:       make(map[uint64]hasher.Digest),
		Appended:      make([]hasher.Digest, 0, target.NextIndex()-base.NextIndex()),
	}

	for i := uint64(0); i < base.NextIndex(); i++ {
		baseDigest, _ := base.Leaf(i)
		targetDigest, _ := target.Leaf(i)
		if baseDigest != targetDigest {
			d.Changed[i] = targetDigest
		}
	}
	for i := base.NextIndex(); i < target.NextIndex(); i++ {
		targetDigest, _ := target.Leaf(i)
		d.Appended = append(d.Appended, targetDigest)
	}
	return d, nil
}

// ApplyDelta returns a new tree obtained by applying d to base. base is
// never mutated. ApplyDelta reports ErrDeltaMismatch if base's depth,
// NextIndex or Root does not match the state d was computed against.
func ApplyDelta(base *merkle.Tree, d *Delta) (*merkle.Tree, error) {
	if base.Depth() != d.Depth {
		return nil, fmt.Errorf("%w: base depth %d, delta depth %d", ErrDeltaMismatch, base.Depth(), d.Depth)
	}
	if base.NextIndex() != d.BaseNextIndex {
		return nil, fmt.Errorf("%w: base next_index %d, delta base next_index %d", ErrDeltaMismatch, base.NextIndex(), d.BaseNextIndex)
	}
	if base.Root() != d.BaseRoot {
		return nil, fmt.Errorf("%w: base root %s, delta base root %s", ErrDeltaMismatch, base.Root(), d.BaseRoot)
	}

	out := base.Clone()
	for index, digest := range d.Changed {
		if err := out.SetLeafDigest(index, digest); err != nil {
			return nil, fmt.Errorf("serialization: apply delta, change index %d: %w", index, err)
		}
	}
	for i, digest := range d.Appended {
		index := d.BaseNextIndex + uint64(i)
		if err := out.SetLeafDigest(index, digest); err != nil {
			return nil, fmt.Errorf("serialization: apply delta, append index %d: %w", index, err)
		}
	}
	return out, nil
}

// EncodeDelta serializes d to a self-contained byte record.
func EncodeDelta(d *Delta) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagDelta)

	var hdr [19]byte
	binary.LittleEndian.PutUint16(hdr[0:2], FormatVersion)
	hdr[2] = d.Depth
	binary.LittleEndian.PutUint64(hdr[3:11], d.BaseNextIndex)
	binary.LittleEndian.PutUint32(hdr[11:15], uint32(len(d.Changed)))
	binary.LittleEndian.PutUint32(hdr[15:19], uint32(len(d.Appended)))
	buf.Write(hdr[:])
	buf.Write(d.BaseRoot[:])

	// Changed entries are written in ascending index order so
	// EncodeDelta's output is deterministic byte-for-byte across calls.
	indices := make([]uint64, 0, len(d.Changed))
	for idx := range d.Changed {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var idxBuf [8]byte
	for _, idx := range indices {
		binary.LittleEndian.PutUint64(idxBuf[:], idx)
		buf.Write(idxBuf[:])
		digest := d.Changed[idx]
		buf.Write(digest[:])
	}
	for _, digest := range d.Appended {
		buf.Write(digest[:])
	}
	return buf.Bytes(), nil
}

// DecodeDelta parses a record produced by EncodeDelta.
func DecodeDelta(body []byte) (*Delta, error) {
	if len(body) == 0 || body[0] != tagDelta {
		return nil, fmt.Errorf("%w: not a delta record", ErrUnknownFormat)
	}
	body = body[1:]
	if len(body) < 19+hasher.Size {
		return nil, fmt.Errorf("%w: delta record too short", ErrUnknownFormat)
	}
	version := binary.LittleEndian.Uint16(body[0:2])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: delta record version %d", ErrUnknownFormat, version)
	}

	d := &Delta{
		Depth:         body[2],
		BaseNextIndex: binary.LittleEndian.Uint64(body[3:11]),
		Changed:       make(map[uint64]hasher.Digest),
	}
	numChanged := binary.LittleEndian.Uint32(body[11:15])
	numAppended := binary.LittleEndian.Uint32(body[15:19])

	r := bytes.NewReader(body[19:])
	rootBytes := make([]byte, hasher.Size)
	if _, err := io.ReadFull(r, rootBytes); err != nil {
		return nil, fmt.Errorf("serialization: delta decode base root: %w", err)
	}
	root, ok := hasher.DigestFromBytes(rootBytes)
	if !ok {
		return nil, fmt.Errorf("%w: bad base root length", ErrUnknownFormat)
	}
	d.BaseRoot = root

	idxBytes := make([]byte, 8)
	digestBytes := make([]byte, hasher.Size)
	for i := uint32(0); i < numChanged; i++ {
		if _, err := io.ReadFull(r, idxBytes); err != nil {
			return nil, fmt.Errorf("serialization: delta decode changed[%d] index: %w", i, err)
		}
		idx := binary.LittleEndian.Uint64(idxBytes)
		if _, err := io.ReadFull(r, digestBytes); err != nil {
			return nil, fmt.Errorf("serialization: delta decode changed[%d] digest: %w", i, err)
		}
		digest, ok := hasher.DigestFromBytes(digestBytes)
		if !ok {
			return nil, fmt.Errorf("%w: bad digest length at changed[%d]", ErrUnknownFormat, i)
		}
		d.Changed[idx] = digest
	}

	d.Appended = make([]hasher.Digest, 0, numAppended)
	for i := uint32(0); i < numAppended; i++ {
		if _, err := io.ReadFull(r, digestBytes); err != nil {
			return nil, fmt.Errorf("serialization: delta decode appended[%d]: %w", i, err)
		}
		digest, ok := hasher.DigestFromBytes(digestBytes)
		if !ok {
			return nil, fmt.Errorf("%w: bad digest length at appended[%d]", ErrUnknownFormat, i)
		}
		d.Appended = append(d.Appended, digest)
	}
	return d, nil
}
