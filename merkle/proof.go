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

// Proof is an inclusion proof: the leaf at LeafIndex, together with the
// sibling digest at every level from leaf to root, is sufficient for a
// verifier to recompute the root independently of any tree state.
type Proof struct {
	LeafIndex uint64
	Leaf      hasher.Digest
	Siblings  []hasher.Digest
}

// Verify reports whether the proof reproduces expectedRoot.
func (p *Proof) Verify(expectedRoot hasher.Digest) bool {
	return VerifyProof(p.Leaf, p.LeafIndex, p.Siblings, expectedRoot)
}
