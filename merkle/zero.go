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

import "github.com/chainproof/smt/hasher"

// zeroHashes computes the zero-hash table for a tree of the given depth.
//
// zeroHashes[0] is the hash of an empty leaf; zeroHashes[i+1] is the hash
// of a subtree of height i+1 whose leaves are all empty. The table is
// never persisted: it is cheap to recompute from depth alone, and baking
// it into a wire format would just be redundant bytes that have to agree
// with a fixed depth anyway.
func zeroHashes(depth uint8) []hasher.Digest {
	zh := make([]hasher.Digest, depth+1)
	zh[0] = hasher.Leaf([]byte{0x00})
	for i := uint8(0); i < depth; i++ {
		zh[i+1] = hasher.Node(zh[i], zh[i])
	}
	return zh
}
