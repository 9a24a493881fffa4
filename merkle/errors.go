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

import "errors"

var (
	// ErrInvalidDepth is returned by New when depth is outside [1, 32].
	ErrInvalidDepth = errors.New("merkle: depth must be in [1, 32]")

	// ErrCapacityExceeded is returned by Append when the tree is full.
	ErrCapacityExceeded = errors.New("merkle: capacity exceeded")

	// ErrOutOfBounds is returned by Update when index >= next_index.
	ErrOutOfBounds = errors.New("merkle: index out of bounds")

	// ErrNotAppended is returned by Prove when index >= next_index.
	ErrNotAppended = errors.New("merkle: leaf not appended")
)
