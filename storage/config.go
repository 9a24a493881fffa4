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

import "github.com/chainproof/smt/serialization"

// Config is the configuration record a caller supplies to Open. Loading
// it from flags, environment variables, or a config file is explicitly
// the caller's job — this package only ever consumes the record.
type Config struct {
	// Directory holds data.bin, meta.bin, wal.log and the checkpoint
	// sidecar. It must exist or be creatable.
	Directory string

	// Depth is the tree's fixed depth; immutable after the first Open
	// of a given Directory. Default 20.
	Depth uint8

	// PageSizeBytes is the page cache / mmap granularity. Default 4096.
	PageSizeBytes int

	// CacheBytes is the maximum resident size of the page cache.
	// Default 1 MiB.
	CacheBytes int64

	// MmapBytes is the size of the memory-mapped hot region at the head
	// of data.bin. Default 16 MiB. Zero disables mmap entirely.
	MmapBytes int64

	// WALEnabled toggles write-ahead logging. Default true; disabling
	// it trades crash-safety (P7/P8) for raw append throughput.
	WALEnabled bool

	// CompressionEnabled toggles gzip wrapping of serialized output.
	// Default false.
	CompressionEnabled bool

	// CompressionLevel is a gzip level, 1-9; default 6. Zero is treated
	// as unset and replaced by the default.
	CompressionLevel int

	// SerializationFormat selects the codec used by Tree.Serialize.
	// Default serialization.Fast.
	SerializationFormat serialization.Format
}

const (
	defaultDepth            = 20
	defaultPageSizeBytes    = 4096
	defaultCacheBytes       = 1 << 20  // 1 MiB
	defaultMmapBytes        = 16 << 20 // 16 MiB
	defaultCompressionLevel = 6
)

// DefaultConfig returns a Config populated with the defaults from the
// operational API's configuration option list, rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Directory:           dir,
		Depth:               defaultDepth,
		PageSizeBytes:       defaultPageSizeBytes,
		CacheBytes:          defaultCacheBytes,
		MmapBytes:           defaultMmapBytes,
		WALEnabled:          true,
		CompressionEnabled:  false,
		CompressionLevel:    defaultCompressionLevel,
		SerializationFormat: serialization.Fast,
	}
}

// withDefaults fills any zero-valued fields of cfg with defaults,
// leaving explicit values (including explicit zeroes for MmapBytes, to
// allow disabling mmap) alone where the field can reasonably be zero.
//
// Depth is deliberately left untouched here: Open applies defaultDepth
// to it only after checking for existing metadata, so that reopening a
// tree with Depth left unset adopts the depth recorded on disk instead
// of always being forced to defaultDepth first.
func (cfg Config) withDefaults() Config {
	if cfg.PageSizeBytes == 0 {
		cfg.PageSizeBytes = defaultPageSizeBytes
	}
	if cfg.CacheBytes == 0 {
		cfg.CacheBytes = defaultCacheBytes
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = defaultCompressionLevel
	}
	return cfg
}
