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

//go:build unix

package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockFileName = "LOCK"

// directoryLock holds an exclusive, non-blocking advisory lock on a
// tree's directory, so a second process opening the same directory
// fails fast instead of silently corrupting it via two single-writer
// trees racing each other.
type directoryLock struct {
	f *os.File
}

func acquireDirectoryLock(directory string) (*directoryLock, error) {
	path := filepath.Join(directory, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: open lock file: %w", err))
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, newError(ClassIO, fmt.Errorf("storage: directory %s is already locked by another process: %w", directory, err))
	}
	return &directoryLock{f: f}, nil
}

func (l *directoryLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return newError(ClassIO, fmt.Errorf("storage: unlock directory: %w", err))
	}
	return l.f.Close()
}
