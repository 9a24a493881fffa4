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

import "errors"

// Class is the taxonomy an operator-facing caller (in particular
// cmd/smt) maps to a process exit code.
type Class int

const (
	// ClassCorruption covers a checksum or structural failure while
	// reading back something this package itself wrote.
	ClassCorruption Class = 2
	// ClassCapacityExceeded covers an Append past the tree's capacity.
	ClassCapacityExceeded Class = 3
	// ClassInvalidArgument covers malformed configuration or a malformed
	// call — including a Prove/Update against an index that was never
	// appended, which the spec groups under invalid-argument rather than
	// giving its own exit code.
	ClassInvalidArgument Class = 4
	// ClassIO covers an underlying filesystem operation failing.
	ClassIO Class = 5
)

// ClassNotAppended is ClassInvalidArgument under another name, for call
// sites where "not appended" is the more precise thing to say even
// though it maps to the same exit code.
const ClassNotAppended = ClassInvalidArgument

// ExitCode returns the process exit code cmd/smt should use for err, or
// 0 if err is nil. Errors this package doesn't recognize map to 1, the
// generic-failure code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StorageError
	if errors.As(err, &se) {
		return int(se.Class)
	}
	return 1
}

// StorageError wraps an underlying error with the Class an operator
// should act on. Its Error() delegates to the wrapped error so callers
// that don't care about Class still get a readable message.
type StorageError struct {
	Class Class
	Err   error
}

func (e *StorageError) Error() string { return e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func newError(class Class, err error) error {
	return &StorageError{Class: class, Err: err}
}

var (
	// ErrCorruptMetadata is returned when meta.bin fails its checksum.
	ErrCorruptMetadata = errors.New("storage: metadata record failed checksum")
	// ErrCorruptWAL is returned when a WAL record fails its checksum;
	// replay stops at the first such record rather than treating the
	// rest of the file as trustworthy.
	ErrCorruptWAL = errors.New("storage: WAL record failed checksum")
	// ErrCorruptDataFile is returned by recovery, before WAL replay, when
	// a slot below the committed next_index was never written or the
	// root rebuilt from the data file doesn't match the metadata root.
	ErrCorruptDataFile = errors.New("storage: data file slot failed verification")
	// ErrClosed is returned by any operation on a Tree after Close.
	ErrClosed = errors.New("storage: tree is closed")
	// ErrDepthMismatch is returned by Open when cfg.Depth disagrees with
	// the depth recorded in an existing meta.bin.
	ErrDepthMismatch = errors.New("storage: configured depth does not match existing metadata")
)
