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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chainproof/smt/merkle"
)

func buildTestTree(t *testing.T) *merkle.Tree {
	t.Helper()
	tr, err := merkle.New(5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := tr.Append([]byte{byte(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return tr
}

func assertSameTree(t *testing.T, want, got *merkle.Tree) {
	t.Helper()
	if want.Depth() != got.Depth() {
		t.Fatalf("depth mismatch: want %d got %d", want.Depth(), got.Depth())
	}
	if want.NextIndex() != got.NextIndex() {
		t.Fatalf("next_index mismatch: want %d got %d", want.NextIndex(), got.NextIndex())
	}
	if want.Root() != got.Root() {
		t.Fatalf("root mismatch: want %s got %s", want.Root(), got.Root())
	}
	for i := uint64(0); i < want.NextIndex(); i++ {
		wd, _ := want.Leaf(i)
		gd, _ := got.Leaf(i)
		if wd != gd {
			t.Fatalf("leaf %d mismatch: want %s got %s", i, wd, gd)
		}
	}
}

func TestRoundTripAllFormats(t *testing.T) {
	tr := buildTestTree(t)

	for _, format := range []Format{Fast, Portable, Compact} {
		for _, compression := range []bool{false, true} {
			opts := Options{Format: format, Compression: compression}
			data, err := Serialize(tr, opts)
			if err != nil {
				t.Fatalf("Serialize(%v, compression=%v): %v", format, compression, err)
			}
			got, err := Deserialize(data, opts)
			if err != nil {
				t.Fatalf("Deserialize(%v, compression=%v): %v", format, compression, err)
			}
			assertSameTree(t, tr, got)
		}
	}
}

func TestRoundTripEmptyTree(t *testing.T) {
	tr, err := merkle.New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, format := range []Format{Fast, Portable, Compact} {
		data, err := Serialize(tr, Options{Format: format})
		if err != nil {
			t.Fatalf("Serialize(%v): %v", format, err)
		}
		got, err := Deserialize(data, Options{Format: format})
		if err != nil {
			t.Fatalf("Deserialize(%v): %v", format, err)
		}
		assertSameTree(t, tr, got)
	}
}

func TestDeserializeUnknownFormat(t *testing.T) {
	if _, err := Deserialize([]byte{0xFF}, Options{}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
}

func TestDeserializeEmptyData(t *testing.T) {
	if _, err := Deserialize(nil, Options{}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
}

func TestCompactRejectsOutOfRangeIndex(t *testing.T) {
	tr, _ := merkle.New(2) // capacity 4
	tr.Append([]byte("a"))
	tr.Append([]byte("b"))
	tr.Append([]byte("c"))

	data, err := Serialize(tr, Options{Format: Compact})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	// Corrupt the depth byte to shrink capacity below the encoded index.
	data[3] = 1 // depth 1 => capacity 2, but index 2 was encoded against depth 2

	if _, err := Deserialize(data, Options{Format: Compact}); err == nil {
		t.Fatalf("want an error decoding against a shrunk depth")
	}
}

func TestFormatString(t *testing.T) {
	cases := map[Format]string{Fast: "fast", Portable: "portable", Compact: "compact"}
	for f, want := range cases {
		if got := f.String(); got != want {
			t.Errorf("Format(%d).String() = %q, want %q", f, got, want)
		}
	}
	if got := Format(0).String(); got == "fast" || got == "portable" || got == "compact" {
		t.Errorf("Format(0).String() = %q, want a Format(N) fallback", got)
	}
}

func TestDeltaRoundTripChangedAndAppended(t *testing.T) {
	base, _ := merkle.New(6)
	for i := 0; i < 5; i++ {
		base.Append([]byte{byte(i)})
	}

	target := base.Clone()
	target.Update(2, []byte("changed"))
	for i := 0; i < 3; i++ {
		target.Append([]byte{byte(100 + i)})
	}

	delta, err := ComputeDelta(base, target)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}
	if len(delta.Changed) != 1 {
		t.Fatalf("want 1 changed entry, got %d", len(delta.Changed))
	}
	if len(delta.Appended) != 3 {
		t.Fatalf("want 3 appended entries, got %d", len(delta.Appended))
	}

	applied, err := ApplyDelta(base, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	assertSameTree(t, target, applied)

	// base itself must be untouched.
	if base.NextIndex() != 5 {
		t.Fatalf("ApplyDelta mutated base: next_index now %d", base.NextIndex())
	}

	encoded, err := EncodeDelta(delta)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}
	decoded, err := DecodeDelta(encoded)
	if err != nil {
		t.Fatalf("DecodeDelta: %v", err)
	}
	if diff := cmp.Diff(delta, decoded); diff != "" {
		t.Fatalf("DecodeDelta(EncodeDelta(delta)) mismatch (-want +got):\n%s", diff)
	}
	reapplied, err := ApplyDelta(base, decoded)
	if err != nil {
		t.Fatalf("ApplyDelta(decoded): %v", err)
	}
	assertSameTree(t, target, reapplied)
}

func TestApplyDeltaMismatch(t *testing.T) {
	base, _ := merkle.New(6)
	base.Append([]byte("a"))

	target := base.Clone()
	target.Append([]byte("b"))
	delta, err := ComputeDelta(base, target)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}

	diverged, _ := merkle.New(6)
	diverged.Append([]byte("not-a"))

	if _, err := ApplyDelta(diverged, delta); !errors.Is(err, ErrDeltaMismatch) {
		t.Fatalf("want ErrDeltaMismatch, got %v", err)
	}
}

func TestComputeDeltaRejectsTruncation(t *testing.T) {
	base, _ := merkle.New(6)
	for i := 0; i < 3; i++ {
		base.Append([]byte{byte(i)})
	}
	target, _ := merkle.New(6)
	target.Append([]byte{0})

	if _, err := ComputeDelta(base, target); !errors.Is(err, ErrDeltaMismatch) {
		t.Fatalf("want ErrDeltaMismatch, got %v", err)
	}
}
