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

package merkle

import (
	"fmt"
	"testing"

	"github.com/chainproof/smt/hasher"
)

func mustNew(t *testing.T, depth uint8) *Tree {
	t.Helper()
	tr, err := New(depth)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", depth, err)
	}
	return tr
}

func TestNewRejectsInvalidDepth(t *testing.T) {
	for _, d := range []uint8{0, 33, 255} {
		if _, err := New(d); err != ErrInvalidDepth {
			t.Errorf("New(%d) err = %v, want ErrInvalidDepth", d, err)
		}
	}
}

// Scenario 1: empty root equals zeroHashes[depth] (P2 and boundary: next_index = 0).
func TestEmptyRoot(t *testing.T) {
	for depth := uint8(1); depth <= 8; depth++ {
		tr := mustNew(t, depth)
		if got, want := tr.Root(), tr.ZeroHash(depth); got != want {
			t.Errorf("depth %d: empty root = %x, want %x", depth, got, want)
		}
	}
}

// Scenario 2: single append at depth 3.
func TestSingleAppendRoot(t *testing.T) {
	tr := mustNew(t, 3)
	idx, err := tr.Append([]byte("a"))
	if err != nil || idx != 0 {
		t.Fatalf("Append(a) = (%d, %v), want (0, nil)", idx, err)
	}

	z0, z1, z2 := tr.ZeroHash(0), tr.ZeroHash(1), tr.ZeroHash(2)
	want := hasher.Node(hasher.Node(hasher.Node(hasher.Leaf([]byte("a")), z0), z1), z2)
	if got := tr.Root(); got != want {
		t.Fatalf("root = %x, want %x", got, want)
	}
}

// Scenario 3: two appends, prove index 0, tamper a sibling.
func TestProveAfterTwoAppends(t *testing.T) {
	tr := mustNew(t, 3)
	if _, err := tr.Append([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Append([]byte("b")); err != nil {
		t.Fatal(err)
	}

	proof, err := tr.Prove(0)
	if err != nil {
		t.Fatalf("Prove(0): %v", err)
	}
	want := []hasher.Digest{hasher.Leaf([]byte("b")), tr.ZeroHash(1), tr.ZeroHash(2)}
	if len(proof.Siblings) != len(want) {
		t.Fatalf("siblings len = %d, want %d", len(proof.Siblings), len(want))
	}
	for i := range want {
		if proof.Siblings[i] != want[i] {
			t.Errorf("siblings[%d] = %x, want %x", i, proof.Siblings[i], want[i])
		}
	}

	root := tr.Root()
	if !proof.Verify(root) {
		t.Fatalf("valid proof failed to verify")
	}

	tampered := *proof
	siblingsCopy := append([]hasher.Digest(nil), proof.Siblings...)
	siblingsCopy[0][0] ^= 0xFF
	tampered.Siblings = siblingsCopy
	if tampered.Verify(root) {
		t.Fatalf("tampered proof verified")
	}
}

// Scenario 4: update round-trip.
func TestUpdateRoundTrip(t *testing.T) {
	tr := mustNew(t, 3)
	if _, err := tr.Append([]byte("x")); err != nil {
		t.Fatal(err)
	}
	r1 := tr.Root()

	if err := tr.Update(0, []byte("y")); err != nil {
		t.Fatal(err)
	}
	r2 := tr.Root()
	if r2 == r1 {
		t.Fatalf("root unchanged after update")
	}

	if err := tr.Update(0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if got := tr.Root(); got != r1 {
		t.Fatalf("root after revert = %x, want %x", got, r1)
	}
}

func TestUpdateRejectsUnappendedIndex(t *testing.T) {
	tr := mustNew(t, 3)
	if _, err := tr.Append([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Update(1, []byte("b")); err != ErrOutOfBounds {
		t.Fatalf("Update(1, ...) err = %v, want ErrOutOfBounds", err)
	}
}

func TestProveRejectsUnappendedIndex(t *testing.T) {
	tr := mustNew(t, 3)
	if _, err := tr.Prove(0); err != ErrNotAppended {
		t.Fatalf("Prove(0) on empty tree err = %v, want ErrNotAppended", err)
	}
}

func TestCapacityExceeded(t *testing.T) {
	tr := mustNew(t, 1) // capacity 2
	if _, err := tr.Append([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Append([]byte("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Append([]byte("c")); err != ErrCapacityExceeded {
		t.Fatalf("third append on depth-1 tree err = %v, want ErrCapacityExceeded", err)
	}
}

// Scenario 7: compact-ish population spanning index 0 and the last slot.
func TestFillThroughLastSlot(t *testing.T) {
	tr := mustNew(t, 3) // capacity 8
	for i := 0; i < 8; i++ {
		if _, err := tr.Append([]byte(fmt.Sprintf("leaf-%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := tr.Append([]byte("overflow")); err != ErrCapacityExceeded {
		t.Fatalf("append beyond capacity err = %v, want ErrCapacityExceeded", err)
	}
	root := tr.Root()
	for i := uint64(0); i < 8; i++ {
		proof, err := tr.Prove(i)
		if err != nil {
			t.Fatalf("Prove(%d): %v", i, err)
		}
		if !proof.Verify(root) {
			t.Fatalf("proof for index %d failed to verify", i)
		}
	}
}

// P1: for depth in [1, 8] and every sequence of <= 2^depth appends,
// every appended leaf's proof verifies.
func TestProofsVerifyForEveryAppendedLeaf(t *testing.T) {
	for depth := uint8(1); depth <= 8; depth++ {
		tr := mustNew(t, depth)
		cap := tr.Capacity()
		for i := uint64(0); i < cap; i++ {
			if _, err := tr.Append([]byte(fmt.Sprintf("d%d-leaf-%d", depth, i))); err != nil {
				t.Fatalf("depth %d: append %d: %v", depth, i, err)
			}
		}
		root := tr.Root()
		for i := uint64(0); i < cap; i++ {
			proof, err := tr.Prove(i)
			if err != nil {
				t.Fatalf("depth %d: Prove(%d): %v", depth, i, err)
			}
			if !proof.Verify(root) {
				t.Fatalf("depth %d: proof for %d did not verify", depth, i)
			}
		}
	}
}

// P3: determinism across independent instances given identical inputs.
func TestDeterminismAcrossInstances(t *testing.T) {
	build := func() *Tree {
		tr := mustNew(t, 5)
		for i := 0; i < 20; i++ {
			if _, err := tr.Append([]byte(fmt.Sprintf("leaf-%d", i))); err != nil {
				t.Fatal(err)
			}
		}
		if err := tr.Update(3, []byte("updated")); err != nil {
			t.Fatal(err)
		}
		return tr
	}

	a, b := build(), build()
	if a.Root() != b.Root() {
		t.Fatalf("two independently built trees produced different roots")
	}

	pa, err := a.Prove(10)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := b.Prove(10)
	if err != nil {
		t.Fatal(err)
	}
	if pa.Leaf != pb.Leaf || len(pa.Siblings) != len(pb.Siblings) {
		t.Fatalf("proofs diverged in shape")
	}
	for i := range pa.Siblings {
		if pa.Siblings[i] != pb.Siblings[i] {
			t.Fatalf("proofs diverged at sibling %d", i)
		}
	}
}

// P6: zero-hash law for any untouched subtree.
func TestZeroHashLawForUntouchedSubtree(t *testing.T) {
	tr := mustNew(t, 4) // capacity 16
	for i := 0; i < 4; i++ {
		if _, err := tr.Append([]byte(fmt.Sprintf("leaf-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	// Leaves [8, 16) form an untouched subtree at level 3, index 1.
	got := tr.nodeHash(3, 1)
	if want := tr.ZeroHash(3); got != want {
		t.Fatalf("node_hash(3, 1) = %x, want zero hash %x", got, want)
	}
}

// P9: flipping any single bit of leaf/sibling/root breaks verification.
func TestProofTamperResistance(t *testing.T) {
	tr := mustNew(t, 3)
	for i := 0; i < 4; i++ {
		if _, err := tr.Append([]byte(fmt.Sprintf("leaf-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.Root()
	proof, err := tr.Prove(2)
	if err != nil {
		t.Fatal(err)
	}
	if !proof.Verify(root) {
		t.Fatalf("baseline proof failed to verify")
	}

	flipLeaf := *proof
	flipLeaf.Leaf[0] ^= 0x01
	if flipLeaf.Verify(root) {
		t.Fatalf("proof verified after flipping a bit of the leaf")
	}

	for i := range proof.Siblings {
		flipSib := *proof
		sibs := append([]hasher.Digest(nil), proof.Siblings...)
		sibs[i][0] ^= 0x01
		flipSib.Siblings = sibs
		if flipSib.Verify(root) {
			t.Fatalf("proof verified after flipping a bit of sibling %d", i)
		}
	}

	badRoot := root
	badRoot[0] ^= 0x01
	if proof.Verify(badRoot) {
		t.Fatalf("proof verified against a tampered expected root")
	}
}

func TestForEachLeafOrderAndCoverage(t *testing.T) {
	tr := mustNew(t, 4)
	want := map[uint64]hasher.Digest{}
	for i := 0; i < 5; i++ {
		idx, err := tr.Append([]byte(fmt.Sprintf("leaf-%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		d, _ := tr.Leaf(idx)
		want[idx] = d
	}

	var seen []uint64
	tr.ForEachLeaf(func(index uint64, d hasher.Digest) bool {
		seen = append(seen, index)
		if want[index] != d {
			t.Errorf("leaf %d digest mismatch", index)
		}
		return true
	})
	for i, idx := range seen {
		if idx != uint64(i) {
			t.Fatalf("ForEachLeaf not in ascending order: %v", seen)
		}
	}
	if len(seen) != len(want) {
		t.Fatalf("ForEachLeaf visited %d leaves, want %d", len(seen), len(want))
	}
}

func TestAppendBatchStopsAtCapacity(t *testing.T) {
	tr := mustNew(t, 1) // capacity 2
	indices, err := tr.AppendBatch([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != ErrCapacityExceeded {
		t.Fatalf("AppendBatch err = %v, want ErrCapacityExceeded", err)
	}
	if len(indices) != 2 {
		t.Fatalf("AppendBatch returned %d indices before failing, want 2", len(indices))
	}
}

func TestSetLeafDigestAdvancesNextIndex(t *testing.T) {
	tr := mustNew(t, 3)
	d := hasher.Leaf([]byte("a"))
	if err := tr.SetLeafDigest(0, d); err != nil {
		t.Fatal(err)
	}
	if tr.NextIndex() != 1 {
		t.Fatalf("NextIndex() = %d, want 1", tr.NextIndex())
	}
	got, ok := tr.Leaf(0)
	if !ok || got != d {
		t.Fatalf("Leaf(0) = (%x, %v), want (%x, true)", got, ok, d)
	}
}
