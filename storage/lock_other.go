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

//go:build !unix

package storage

// directoryLock is a no-op on platforms without flock; a second process
// opening the same directory is not guarded against there.
type directoryLock struct{}

func acquireDirectoryLock(directory string) (*directoryLock, error) {
	return &directoryLock{}, nil
}

func (l *directoryLock) Release() error { return nil }
