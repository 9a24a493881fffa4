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

import "github.com/chainproof/smt/hasher"

// slotSize is the on-disk footprint of one leaf: a presence byte
// followed by its 32-byte digest. The presence byte lets a freshly
// zero-extended data file (via Truncate/ftruncate, which zero-fills)
// be told apart from a slot that was actually written with an
// all-zero digest.
const slotSize = 1 + hasher.Size

const slotPresent = 0x01

// slotOffset returns the byte offset of leaf index within the flat
// data file. Pages are purely a cache/mmap granularity layered over
// this flat stream: a slot is never required to be page-aligned, so a
// single slot read or write can span two pages.
func slotOffset(index uint64) int64 {
	return int64(index) * slotSize
}

// pageID and pageOffset split a flat byte offset into the page it
// falls in and the offset within that page, given a page size.
func pageID(byteOffset int64, pageSizeBytes int) int64 {
	return byteOffset / int64(pageSizeBytes)
}

func pageOffset(byteOffset int64, pageSizeBytes int) int {
	return int(byteOffset % int64(pageSizeBytes))
}

// encodeSlot renders d into a slotSize-byte buffer.
func encodeSlot(d hasher.Digest) [slotSize]byte {
	var buf [slotSize]byte
	buf[0] = slotPresent
	copy(buf[1:], d[:])
	return buf
}

// decodeSlot parses a slotSize-byte buffer back into a digest and
// whether the slot was ever written.
func decodeSlot(buf [slotSize]byte) (hasher.Digest, bool) {
	if buf[0] != slotPresent {
		return hasher.Digest{}, false
	}
	d, _ := hasher.DigestFromBytes(buf[1:])
	return d, true
}
