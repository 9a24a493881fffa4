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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainproof/smt/hasher"
)

const checkpointFileName = "checkpoint.json"

// Checkpoint is a human-readable sidecar summarizing committed tree
// state, meant for operators and external auditors rather than
// recovery (meta.bin is authoritative for that): a `cat checkpoint.json`
// should be enough to sanity-check a tree without any tooling.
type Checkpoint struct {
	Depth      uint8     `json:"depth"`
	NextIndex  uint64    `json:"next_index"`
	Root       string    `json:"root"`
	WrittenAt  time.Time `json:"written_at"`
}

func writeCheckpoint(directory string, depth uint8, nextIndex uint64, root hasher.Digest, writtenAt time.Time) error {
	cp := Checkpoint{
		Depth:     depth,
		NextIndex: nextIndex,
		Root:      root.String(),
		WrittenAt: writtenAt,
	}
	body, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal checkpoint: %w", err)
	}

	final := filepath.Join(directory, checkpointFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: write checkpoint temp file: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		return newError(ClassIO, fmt.Errorf("storage: rename checkpoint temp file: %w", err))
	}
	return nil
}

// ReadCheckpoint loads the sidecar from directory, for callers (such as
// an external auditor) that want committed state without opening the
// tree for writing.
func ReadCheckpoint(directory string) (Checkpoint, error) {
	path := filepath.Join(directory, checkpointFileName)
	body, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, newError(ClassIO, fmt.Errorf("storage: read checkpoint: %w", err))
	}
	var cp Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("storage: unmarshal checkpoint: %w", err)
	}
	return cp, nil
}
