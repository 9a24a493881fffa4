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

// Package storage implements the crash-durable, file-backed tree: a WAL
// for durability, a paged data file (optionally mmap-accelerated) for
// the committed leaves, a fixed-schema metadata record for fast
// recovery, and a JSON checkpoint sidecar for operators.
package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
	"github.com/chainproof/smt/serialization"
)

// Tree is a crash-durable Merkle tree backed by a directory on disk. It
// is safe for concurrent use: one writer at a time, any number of
// concurrent readers, enforced by an internal sync.RWMutex.
//
// Tree.mu is the only lock: the page cache, data file and WAL have no
// locks of their own and are only touched while Tree.mu is held.
type Tree struct {
	mu sync.RWMutex

	cfg  Config
	tree *merkle.Tree

	data *dataFile
	wal  *wal
	lock *directoryLock

	metrics *metrics
	closed  bool
}

// Open opens (or creates) a tree rooted at cfg.Directory, replaying any
// WAL records not yet reflected in the data file and metadata.
func Open(cfg Config, reg prometheus.Registerer) (*Tree, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, newError(ClassIO, fmt.Errorf("storage: create directory: %w", err))
	}

	lock, err := acquireDirectoryLock(cfg.Directory)
	if err != nil {
		return nil, err
	}

	existing, found, err := readMetadata(cfg.Directory)
	if err != nil {
		lock.Release()
		return nil, err
	}
	depth := cfg.Depth
	if found {
		if cfg.Depth != 0 && cfg.Depth != existing.depth {
			lock.Release()
			return nil, newError(ClassInvalidArgument, fmt.Errorf("%w: configured %d, recorded %d", ErrDepthMismatch, cfg.Depth, existing.depth))
		}
		depth = existing.depth
	} else if depth == 0 {
		depth = defaultDepth
	}
	cfg.Depth = depth

	mt, err := merkle.New(depth)
	if err != nil {
		lock.Release()
		return nil, newError(ClassInvalidArgument, err)
	}

	data, err := openDataFile(cfg.Directory, cfg.PageSizeBytes, cfg.CacheBytes, cfg.MmapBytes)
	if err != nil {
		lock.Release()
		return nil, err
	}

	w, err := openWAL(cfg.Directory)
	if err != nil {
		data.Close()
		lock.Release()
		return nil, err
	}

	t := &Tree{
		cfg:     cfg,
		tree:    mt,
		data:    data,
		wal:     w,
		lock:    lock,
		metrics: newMetrics(reg, cfg.Directory),
	}

	if err := t.recover(existing, found); err != nil {
		data.Close()
		w.Close()
		lock.Release()
		return nil, err
	}
	return t, nil
}

// recover loads committed leaves from the data file (per the metadata
// record's next_index, if any was found), then replays any WAL records
// past that point. This is the crash-recovery path exercised by P7/P8:
// a crash between a WAL append and the corresponding Sync leaves
// exactly those extra WAL records to replay here.
func (t *Tree) recover(meta metadataRecord, found bool) error {
	var committedNextIndex uint64
	if found {
		committedNextIndex = meta.nextIndex
		for i := uint64(0); i < committedNextIndex; i++ {
			d, ok, err := t.data.ReadSlotDirect(i)
			if err != nil {
				return err
			}
			if !ok {
				return newError(ClassCorruption, fmt.Errorf("%w: slot %d missing below committed next_index %d", ErrCorruptDataFile, i, committedNextIndex))
			}
			if err := t.tree.SetLeafDigest(i, d); err != nil {
				return newError(ClassCorruption, err)
			}
		}
		if t.tree.Root() != hasher.Digest(meta.root) {
			return newError(ClassCorruption, fmt.Errorf("%w: recovered root does not match metadata", ErrCorruptDataFile))
		}
	}

	records, err := t.wal.Replay()
	if err != nil {
		return err
	}
	replayed := 0
	for _, r := range records {
		// The WAL is truncated on every commit, so every record Replay
		// returns postdates the committed metadata and must be applied,
		// whether it's an append (index == next_index) or an in-place
		// update to an already-committed slot (index < next_index):
		// SetLeafDigest handles both.
		if err := t.tree.SetLeafDigest(r.index, r.digest); err != nil {
			return newError(ClassCorruption, fmt.Errorf("storage: replay WAL record seq %d: %w", r.seq, err))
		}
		if err := t.data.WriteSlot(r.index, r.digest); err != nil {
			return err
		}
		replayed++
	}
	if replayed > 0 {
		t.metrics.walReplays.Add(float64(replayed))
		glog.Infof("storage: %s replayed %d WAL record(s) past next_index %d", t.cfg.Directory, replayed, committedNextIndex)
		if err := t.commit(); err != nil {
			return err
		}
	}
	return nil
}

// Append hashes data and appends it as the next leaf, returning its
// index. The mutation is WAL-durable before Append returns.
func (t *Tree) Append(data []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}

	index := t.tree.NextIndex()
	if index >= t.tree.Capacity() {
		return 0, newError(ClassCapacityExceeded, merkle.ErrCapacityExceeded)
	}
	digest := hasher.Leaf(data)

	if t.cfg.WALEnabled {
		if err := t.wal.Append(walOpAppend, index, digest); err != nil {
			return 0, err
		}
	}
	if _, err := t.tree.Append(data); err != nil {
		return 0, newError(ClassCapacityExceeded, err)
	}
	if err := t.data.WriteSlot(index, digest); err != nil {
		return 0, err
	}
	t.metrics.appends.Inc()
	t.metrics.observeCacheStats(t.data.cache.Stats())
	return index, nil
}

// Update replaces the digest at index. index must already have been
// appended.
func (t *Tree) Update(index uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if index >= t.tree.NextIndex() {
		return newError(ClassNotAppended, merkle.ErrOutOfBounds)
	}
	digest := hasher.Leaf(data)

	if t.cfg.WALEnabled {
		if err := t.wal.Append(walOpUpdate, index, digest); err != nil {
			return err
		}
	}
	if err := t.tree.Update(index, data); err != nil {
		return newError(ClassNotAppended, err)
	}
	if err := t.data.WriteSlot(index, digest); err != nil {
		return err
	}
	t.metrics.updates.Inc()
	t.metrics.observeCacheStats(t.data.cache.Stats())
	return nil
}

// AppendBatch appends each element of data in order, returning the
// index assigned to each. As with the in-memory tree's AppendBatch,
// this is not a transaction: if an entry fails (most commonly
// ErrCapacityExceeded), the entries already appended before it stay
// appended, and the returned index slice reflects only those.
func (t *Tree) AppendBatch(data [][]byte) ([]uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	indices := make([]uint64, 0, len(data))
	for _, d := range data {
		index := t.tree.NextIndex()
		if index >= t.tree.Capacity() {
			return indices, newError(ClassCapacityExceeded, merkle.ErrCapacityExceeded)
		}
		digest := hasher.Leaf(d)
		if t.cfg.WALEnabled {
			if err := t.wal.Append(walOpAppend, index, digest); err != nil {
				return indices, err
			}
		}
		if _, err := t.tree.Append(d); err != nil {
			return indices, newError(ClassCapacityExceeded, err)
		}
		if err := t.data.WriteSlot(index, digest); err != nil {
			return indices, err
		}
		indices = append(indices, index)
	}
	t.metrics.appends.Add(float64(len(indices)))
	t.metrics.observeCacheStats(t.data.cache.Stats())
	return indices, nil
}

// Root returns the current root digest.
func (t *Tree) Root() hasher.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Root()
}

// Snapshot serializes the whole tree using cfg.SerializationFormat (and
// cfg.CompressionEnabled), for export to another process or to cold
// storage. It is independent of Sync: a snapshot captures exactly the
// committed-plus-unsynced state visible to readers at the moment it's
// taken.
func (t *Tree) Snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	return serialization.Serialize(t.tree, serialization.Options{
		Format:           t.cfg.SerializationFormat,
		Compression:      t.cfg.CompressionEnabled,
		CompressionLevel: t.cfg.CompressionLevel,
	})
}

// Prove returns an inclusion proof for the leaf at index.
func (t *Tree) Prove(index uint64) (*merkle.Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	p, err := t.tree.Prove(index)
	if err != nil {
		return nil, newError(ClassNotAppended, err)
	}
	t.metrics.proves.Inc()
	return p, nil
}

// NextIndex, Depth and Capacity mirror the in-memory tree's accessors.
func (t *Tree) NextIndex() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.NextIndex()
}

func (t *Tree) Depth() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Depth()
}

func (t *Tree) Capacity() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Capacity()
}

// TreeStats is a point-in-time operational snapshot of a Tree, returned
// by Stats for monitoring or the cmd/smt stats subcommand.
type TreeStats struct {
	NextIndex     uint64
	Depth         uint8
	Capacity      uint64
	Root          hasher.Digest
	WALSize       uint64
	CacheHits     int64
	CacheMisses   int64
	CacheEvictions int64
}

// Stats reports a snapshot of tree position and page cache hit/miss/
// eviction counters, alongside the current WAL size on disk.
func (t *Tree) Stats() (TreeStats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hits, misses, evictions := t.data.cache.Stats()
	t.metrics.observeCacheStats(hits, misses, evictions)

	var walSize uint64
	if t.cfg.WALEnabled {
		var err error
		walSize, err = t.wal.Size()
		if err != nil {
			return TreeStats{}, err
		}
	}
	return TreeStats{
		NextIndex:      t.tree.NextIndex(),
		Depth:          t.tree.Depth(),
		Capacity:       t.tree.Capacity(),
		Root:           t.tree.Root(),
		WALSize:        walSize,
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheEvictions: evictions,
	}, nil
}

// Sync flushes the page cache and data file to disk, writes an updated
// metadata record, writes the checkpoint sidecar, and truncates the WAL
// now that the data file and metadata fully reflect it.
func (t *Tree) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.commit()
}

// commit is Sync's body, callable while t.mu is already held (recover
// calls it directly after replaying WAL records).
func (t *Tree) commit() error {
	start := time.Now()
	defer func() { t.metrics.syncSeconds.Observe(time.Since(start).Seconds()) }()

	if err := t.data.Flush(); err != nil {
		return err
	}
	var walTailOffset uint64
	if t.cfg.WALEnabled {
		var err error
		walTailOffset, err = t.wal.Size()
		if err != nil {
			return err
		}
	}
	root := t.tree.Root()
	meta := metadataRecord{
		version:       serialization.FormatVersion,
		depth:         t.tree.Depth(),
		nextIndex:     t.tree.NextIndex(),
		root:          [32]byte(root),
		walTailOffset: walTailOffset,
	}
	if err := writeMetadataAtomic(t.cfg.Directory, meta); err != nil {
		return err
	}
	if err := writeCheckpoint(t.cfg.Directory, t.tree.Depth(), t.tree.NextIndex(), root, time.Now()); err != nil {
		return err
	}
	if t.cfg.WALEnabled {
		if err := t.wal.Truncate(); err != nil {
			return err
		}
	}
	t.metrics.syncs.Inc()
	t.metrics.observeCacheStats(t.data.cache.Stats())
	return nil
}

// Compact rewrites every slot below NextIndex in the data file from the
// in-memory tree's leaves, using a pool of workers that write disjoint
// index ranges directly to the file, then drops the page cache and
// commits (metadata, checkpoint, WAL truncate). The rewrite is in place:
// each slot is written at its existing offset in the same file, no new
// file is written and nothing is renamed, so a crash mid-rewrite leaves
// the file partly rewritten.
func (t *Tree) Compact(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	nextIndex := t.tree.NextIndex()
	const chunkSize = 4096
	g, gctx := errgroup.WithContext(ctx)
	for start := uint64(0); start < nextIndex; start += chunkSize {
		start := start
		end := start + chunkSize
		if end > nextIndex {
			end = nextIndex
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d, ok := t.tree.Leaf(i)
				if !ok {
					return fmt.Errorf("storage: compact: leaf %d unexpectedly absent", i)
				}
				// Workers write disjoint index ranges directly to the
				// file, bypassing the page cache: PageCache is not safe
				// for concurrent use, but concurrent pwrite at disjoint
				// offsets on the same *os.File is.
				if err := t.data.WriteSlotDirect(i, d); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return newError(ClassIO, err)
	}
	t.data.DropCache()
	t.metrics.compactions.Inc()
	return t.commit()
}

// Close flushes pending state and releases the tree's file handles and
// directory lock. It is an error to use t after Close.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if err := t.commit(); err != nil {
		glog.Errorf("storage: %s: final sync before close failed: %v", t.cfg.Directory, err)
	}
	t.closed = true

	var firstErr error
	if err := t.data.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
