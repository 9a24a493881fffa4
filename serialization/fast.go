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

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
)

// encodeFast writes a dense dump: tag, version, depth, next_index, then
// next_index digests in ascending index order. Every index in
// [0, next_index) is guaranteed populated (the tree never has holes
// below next_index), so no presence flags are needed: this is what
// makes the format fast to both produce and consume.
func encodeFast(t *merkle.Tree) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagFast)

	var hdr [11]byte
	binary.LittleEndian.PutUint16(hdr[0:2], FormatVersion)
	hdr[2] = t.Depth()
	binary.LittleEndian.PutUint64(hdr[3:11], t.NextIndex())
	buf.Write(hdr[:])

	t.ForEachLeaf(func(_ uint64, d hasher.Digest) bool {
		buf.Write(d[:])
		return true
	})
	return buf.Bytes(), nil
}

func decodeFast(body []byte) (*merkle.Tree, error) {
	if len(body) < 11 {
		return nil, fmt.Errorf("%w: fast record too short", ErrUnknownFormat)
	}
	version := binary.LittleEndian.Uint16(body[0:2])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: fast record version %d", ErrUnknownFormat, version)
	}
	depth := body[2]
	nextIndex := binary.LittleEndian.Uint64(body[3:11])
	payload := body[11:]

	if uint64(len(payload)) != nextIndex*hasher.Size {
		return nil, fmt.Errorf("%w: fast record payload length %d, want %d", ErrUnknownFormat, len(payload), nextIndex*hasher.Size)
	}

	t, err := merkle.New(depth)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nextIndex; i++ {
		d, _ := hasher.DigestFromBytes(payload[i*hasher.Size : (i+1)*hasher.Size])
		if err := t.SetLeafDigest(i, d); err != nil {
			return nil, fmt.Errorf("serialization: fast decode leaf %d: %w", i, err)
		}
	}
	return t, nil
}
