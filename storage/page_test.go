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
	"testing"

	"github.com/chainproof/smt/hasher"
)

func TestSlotEncodeDecodeRoundTrip(t *testing.T) {
	d := hasher.Leaf([]byte("hello"))
	buf := encodeSlot(d)
	got, ok := decodeSlot(buf)
	if !ok {
		t.Fatalf("decodeSlot reported absent for a just-encoded slot")
	}
	if got != d {
		t.Fatalf("decodeSlot = %s, want %s", got, d)
	}
}

func TestSlotDecodeAbsentForZeroBuffer(t *testing.T) {
	var buf [slotSize]byte // as if zero-extended by Truncate, never written
	_, ok := decodeSlot(buf)
	if ok {
		t.Fatalf("decodeSlot reported present for a never-written slot")
	}
}

func TestSlotOffsetIsContiguous(t *testing.T) {
	if slotOffset(0) != 0 {
		t.Fatalf("slotOffset(0) = %d, want 0", slotOffset(0))
	}
	if slotOffset(1) != int64(slotSize) {
		t.Fatalf("slotOffset(1) = %d, want %d", slotOffset(1), slotSize)
	}
}

func TestPageIDAndOffset(t *testing.T) {
	const pageSize = 64
	if pageID(0, pageSize) != 0 {
		t.Fatalf("pageID(0) = %d, want 0", pageID(0, pageSize))
	}
	if pageID(70, pageSize) != 1 {
		t.Fatalf("pageID(70) = %d, want 1", pageID(70, pageSize))
	}
	if pageOffset(70, pageSize) != 6 {
		t.Fatalf("pageOffset(70) = %d, want 6", pageOffset(70, pageSize))
	}
}
