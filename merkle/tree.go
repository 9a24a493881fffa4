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

// Package merkle implements a sparse, fixed-depth, append-optimized
// binary Merkle tree over the domain-separated SHA-256 digests produced
// by package hasher.
//
// The tree is intentionally simple: leaves are only ever appended to the
// right of the last appended leaf (never inserted at an arbitrary
// index), and an already-appended leaf may be updated in place. This
// mirrors the commitment-set trees used by privacy-preserving protocols,
// where a participant's membership proof must remain verifiable forever
// even as new members are appended.
package merkle

import (
	"github.com/golang/glog"

	"github.com/chainproof/smt/hasher"
)

// memoKey identifies a cached internal node by its level (0 = leaf) and
// its index within that level.
type memoKey struct {
	level uint8
	index uint64
}

// Tree is an in-memory sparse Merkle tree of fixed depth.
//
// Tree is not safe for concurrent use; callers that need concurrent
// readers and a single writer should guard it with their own lock (the
// persistent tree orchestrator in package storage does exactly this).
type Tree struct {
	depth      uint8
	capacity   uint64
	nextIndex  uint64
	leaves     map[uint64]hasher.Digest
	zeroHashes []hasher.Digest
	memo       map[memoKey]hasher.Digest
}

// New constructs an empty tree of the given depth. depth must be in
// [1, 32]; capacity is 2^depth.
func New(depth uint8) (*Tree, error) {
	if depth < 1 || depth > 32 {
		return nil, ErrInvalidDepth
	}
	return &Tree{
		depth:      depth,
		capacity:   uint64(1) << depth,
		leaves:     make(map[uint64]hasher.Digest),
		zeroHashes: zeroHashes(depth),
		memo:       make(map[memoKey]hasher.Digest),
	}, nil
}

// Clone returns a deep copy of t: mutating the clone never affects t,
// and vice versa. The zero-hash table is immutable and safely shared.
func (t *Tree) Clone() *Tree {
	leaves := make(map[uint64]hasher.Digest, len(t.leaves))
	for k, v := range t.leaves {
		leaves[k] = v
	}
	memo := make(map[memoKey]hasher.Digest, len(t.memo))
	for k, v := range t.memo {
		memo[k] = v
	}
	return &Tree{
		depth:      t.depth,
		capacity:   t.capacity,
		nextIndex:  t.nextIndex,
		leaves:     leaves,
		zeroHashes: t.zeroHashes,
		memo:       memo,
	}
}

// Depth returns the tree's fixed depth.
func (t *Tree) Depth() uint8 { return t.depth }

// Capacity returns 2^depth, the maximum number of leaves.
func (t *Tree) Capacity() uint64 { return t.capacity }

// NextIndex returns the count of leaves ever appended, and the slot the
// next Append will occupy.
func (t *Tree) NextIndex() uint64 { return t.nextIndex }

// ZeroHash returns the precomputed zero-hash for the given level, where
// level 0 is a leaf and level == Depth() is the root of an empty tree.
func (t *Tree) ZeroHash(level uint8) hasher.Digest { return t.zeroHashes[level] }

// Append hashes data with hasher.Leaf and appends it as the next leaf.
// It returns the index the leaf was written to.
func (t *Tree) Append(data []byte) (uint64, error) {
	if t.nextIndex == t.capacity {
		return 0, ErrCapacityExceeded
	}
	idx := t.nextIndex
	t.leaves[idx] = hasher.Leaf(data)
	t.nextIndex++
	t.invalidateAncestors(idx)
	return idx, nil
}

// AppendBatch appends each element of data in order, as if by repeated
// calls to Append. It is not a transaction: if an element beyond the
// first would exceed capacity, the elements appended before it remain
// appended and the returned error reports how far it got.
func (t *Tree) AppendBatch(data [][]byte) ([]uint64, error) {
	indices := make([]uint64, 0, len(data))
	for _, d := range data {
		idx, err := t.Append(d)
		if err != nil {
			return indices, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// Update replaces the digest at index with hasher.Leaf(data). index must
// already have been appended (index < NextIndex()).
func (t *Tree) Update(index uint64, data []byte) error {
	if index >= t.nextIndex {
		return ErrOutOfBounds
	}
	t.leaves[index] = hasher.Leaf(data)
	t.invalidateAncestors(index)
	return nil
}

// SetLeafDigest installs digest directly at index without re-hashing,
// for use by callers (recovery, deserialization) that already hold leaf
// digests rather than raw leaf bytes. index must be < NextIndex(), or
// exactly NextIndex() in which case it also advances NextIndex() by one
// (the equivalent of Append, but skipping the hash).
func (t *Tree) SetLeafDigest(index uint64, d hasher.Digest) error {
	switch {
	case index > t.nextIndex:
		return ErrOutOfBounds
	case index == t.nextIndex:
		if index >= t.capacity {
			return ErrCapacityExceeded
		}
		t.nextIndex++
	}
	t.leaves[index] = d
	t.invalidateAncestors(index)
	return nil
}

// Leaf returns the digest stored at index and whether one has ever been
// written there.
func (t *Tree) Leaf(index uint64) (hasher.Digest, bool) {
	d, ok := t.leaves[index]
	return d, ok
}

// ForEachLeaf calls fn for every occupied leaf slot in ascending index
// order, stopping early if fn returns false.
func (t *Tree) ForEachLeaf(fn func(index uint64, d hasher.Digest) bool) {
	for i := uint64(0); i < t.nextIndex; i++ {
		d, ok := t.leaves[i]
		if !ok {
			continue
		}
		if !fn(i, d) {
			return
		}
	}
}

// Root returns the root digest of the tree.
func (t *Tree) Root() hasher.Digest {
	return t.nodeHash(t.depth, 0)
}

// invalidateAncestors clears every memoized node on the path from the
// given leaf index up to and including the root (level == depth, whose
// only possible index is 0). Every one of those nodes' hashes depends on
// the leaf that just changed, so every one of them is stale.
func (t *Tree) invalidateAncestors(index uint64) {
	for level := uint8(1); level <= t.depth; level++ {
		delete(t.memo, memoKey{level: level, index: index >> level})
	}
}

// nodeHash computes the digest of the node at (level, index), where
// level 0 addresses leaves directly. It short-circuits to the
// appropriate zero-hash whenever the subtree rooted at (level, index)
// contains no populated leaf: because leaves are only ever appended
// contiguously from index 0 (invariant I1), a subtree covering
// [index<<level, (index+1)<<level) is entirely empty exactly when its
// start is >= NextIndex(). That turns the "does this range contain any
// leaf" check the spec describes into an O(1) comparison instead of a
// range scan.
func (t *Tree) nodeHash(level uint8, index uint64) hasher.Digest {
	if level == 0 {
		if d, ok := t.leaves[index]; ok {
			return d
		}
		return t.zeroHashes[0]
	}

	rangeStart := index << level
	if rangeStart >= t.nextIndex {
		return t.zeroHashes[level]
	}

	key := memoKey{level: level, index: index}
	if d, ok := t.memo[key]; ok {
		return d
	}

	left := t.nodeHash(level-1, index*2)
	right := t.nodeHash(level-1, index*2+1)
	d := hasher.Node(left, right)
	t.memo[key] = d
	return d
}

// Prove returns an inclusion proof for the leaf at index. index must
// already have been appended.
func (t *Tree) Prove(index uint64) (*Proof, error) {
	if index >= t.nextIndex {
		return nil, ErrNotAppended
	}

	leaf, ok := t.leaves[index]
	if !ok {
		// Can only happen if an occupied slot's digest was never set,
		// which Append/Update/SetLeafDigest never allow; defensive only.
		glog.Errorf("merkle: index %d < next_index %d but has no stored digest", index, t.nextIndex)
		leaf = t.zeroHashes[0]
	}

	siblings := make([]hasher.Digest, t.depth)
	idx := index
	for level := uint8(0); level < t.depth; level++ {
		siblingIndex := idx ^ 1
		siblings[level] = t.nodeHash(level, siblingIndex)
		idx >>= 1
	}

	return &Proof{
		LeafIndex: index,
		Leaf:      leaf,
		Siblings:  siblings,
	}, nil
}

// VerifyProof walks a sibling path from leaf to root and reports whether
// it reproduces expectedRoot. It touches no tree state: callers can
// verify a proof they received from any source, including one they
// serialized and sent over the wire.
func VerifyProof(leaf hasher.Digest, index uint64, siblings []hasher.Digest, expectedRoot hasher.Digest) bool {
	acc := leaf
	idx := index
	for _, sib := range siblings {
		if idx&1 == 1 {
			acc = hasher.Node(sib, acc)
		} else {
			acc = hasher.Node(acc, sib)
		}
		idx >>= 1
	}
	return acc == expectedRoot
}
