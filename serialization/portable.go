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
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
)

// portableRecord is the JSON-visible shape of the portable codec. It is
// intentionally self-describing (field names survive in the bytes) at
// the cost of being larger and slower to parse than the fast codec.
type portableRecord struct {
	FormatVersion uint16   `json:"format_version"`
	Depth         uint8    `json:"depth"`
	NextIndex     uint64   `json:"next_index"`
	Leaves        []string `json:"leaves"` // hex digests, ascending index order
}

func encodePortable(t *merkle.Tree) ([]byte, error) {
	rec := portableRecord{
		FormatVersion: FormatVersion,
		Depth:         t.Depth(),
		NextIndex:     t.NextIndex(),
		Leaves:        make([]string, 0, t.NextIndex()),
	}
	t.ForEachLeaf(func(_ uint64, d hasher.Digest) bool {
		rec.Leaves = append(rec.Leaves, hex.EncodeToString(d[:]))
		return true
	})

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("serialization: portable encode: %w", err)
	}
	return append([]byte{tagPortable}, body...), nil
}

func decodePortable(body []byte) (*merkle.Tree, error) {
	var rec portableRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("serialization: portable decode: %w", err)
	}
	if rec.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: portable record version %d", ErrUnknownFormat, rec.FormatVersion)
	}
	if uint64(len(rec.Leaves)) != rec.NextIndex {
		return nil, fmt.Errorf("%w: portable record has %d leaves, next_index %d", ErrUnknownFormat, len(rec.Leaves), rec.NextIndex)
	}

	t, err := merkle.New(rec.Depth)
	if err != nil {
		return nil, err
	}
	for i, hx := range rec.Leaves {
		raw, err := hex.DecodeString(hx)
		if err != nil {
			return nil, fmt.Errorf("serialization: portable decode leaf %d: %w", i, err)
		}
		d, ok := hasher.DigestFromBytes(raw)
		if !ok {
			return nil, fmt.Errorf("serialization: portable decode leaf %d: bad digest length %d", i, len(raw))
		}
		if err := t.SetLeafDigest(uint64(i), d); err != nil {
			return nil, fmt.Errorf("serialization: portable decode leaf %d: %w", i, err)
		}
	}
	return t, nil
}
