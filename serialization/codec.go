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

// Package serialization implements the three interchangeable whole-tree
// wire codecs (fast, portable, compact), an optional gzip wrapper around
// any of them, and a delta codec between two tree snapshots of the same
// depth.
//
// None of the codecs ever write the zero-hash table: it is always
// re-derivable from depth alone, so persisting it would just be
// redundant bytes that still have to agree with depth on decode.
package serialization

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/chainproof/smt/merkle"
)

// Format selects which whole-tree codec Serialize/Deserialize use.
type Format uint8

const (
	// Fast is a dense binary dump optimized for encode/decode speed.
	Fast Format = iota + 1
	// Portable is a self-describing JSON encoding, optimized for
	// cross-process/cross-language legibility rather than speed or size.
	Portable
	// Compact stores only occupied leaves as (index, digest) pairs,
	// optimized for size.
	Compact
)

func (f Format) String() string {
	switch f {
	case Fast:
		return "fast"
	case Portable:
		return "portable"
	case Compact:
		return "compact"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// FormatVersion is embedded in every encoded record so a decoder can
// detect a format it doesn't understand instead of misreading it.
const FormatVersion uint16 = 1

// Options configures Serialize and Deserialize.
type Options struct {
	Format           Format
	Compression      bool
	CompressionLevel int // gzip level, 0-9; 0 means gzip.DefaultCompression
}

var (
	// ErrUnknownFormat is returned when the format tag embedded in a
	// record (or requested via Options) isn't one this package knows.
	ErrUnknownFormat = errors.New("serialization: unknown format")

	// ErrDuplicateIndex is returned by the compact decoder when indices
	// are not strictly increasing.
	ErrDuplicateIndex = errors.New("serialization: duplicate or unordered index")

	// ErrIndexOutOfRange is returned by the compact decoder when an
	// index is >= the tree's capacity.
	ErrIndexOutOfRange = errors.New("serialization: index out of range")

	// ErrDeltaMismatch is returned by ApplyDelta when the delta's
	// recorded base state does not match the supplied base tree.
	ErrDeltaMismatch = errors.New("serialization: delta does not apply to base")
)

// formatTag values prefix every encoded record, ahead of compression.
const (
	tagFast     byte = 1
	tagPortable byte = 2
	tagCompact  byte = 3
	tagDelta    byte = 4
)

// Serialize encodes t using the codec and compression named by opts.
func Serialize(t *merkle.Tree, opts Options) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch opts.Format {
	case Fast:
		raw, err = encodeFast(t)
	case Portable:
		raw, err = encodePortable(t)
	case Compact:
		raw, err = encodeCompact(t)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, opts.Format)
	}
	if err != nil {
		return nil, err
	}
	if opts.Compression {
		return compress(raw, opts.CompressionLevel)
	}
	return raw, nil
}

// Deserialize decodes data produced by Serialize with the same Options
// (Compression must match). The codec is chosen from the tag embedded
// in the record itself; opts.Format is not consulted.
func Deserialize(data []byte, opts Options) (*merkle.Tree, error) {
	raw := data
	if opts.Compression {
		var err error
		raw, err = decompress(data)
		if err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrUnknownFormat)
	}

	switch raw[0] {
	case tagFast:
		return decodeFast(raw[1:])
	case tagPortable:
		return decodePortable(raw[1:])
	case tagCompact:
		return decodeCompact(raw[1:])
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownFormat, raw[0])
	}
}

func compress(raw []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("serialization: gzip writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("serialization: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("serialization: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("serialization: gzip reader: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("serialization: gzip read: %w", err)
	}
	return raw, nil
}
