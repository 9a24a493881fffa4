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

import (
	"fmt"
	"os"
)

// mmapRegion is a no-op stand-in on platforms without the unix mmap
// syscalls. openDataFile treats any error from openMmapRegion as "run
// without the hot region", so this simply disables the optimization
// rather than failing Open.
type mmapRegion struct{}

func openMmapRegion(f *os.File, size int64) (*mmapRegion, error) {
	return nil, fmt.Errorf("storage: mmap is not supported on this platform")
}

func (m *mmapRegion) Read(offset int64, length int) ([]byte, bool) { return nil, false }
func (m *mmapRegion) Write(offset int64, data []byte) bool         { return false }
func (m *mmapRegion) Close() error                                 { return nil }
