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

// Package cache implements the bounded, write-back page cache that sits
// in front of the data file: a fixed-size page is the unit of eviction,
// and a dirty page is written back to its WriteBack function only when
// evicted or explicitly flushed, never on every write.
package cache

import "container/list"

// WriteBackFunc persists a single dirty page. It is supplied by the
// caller (the data file) rather than baked into PageCache, so the cache
// itself never knows about files.
type WriteBackFunc func(pageID int64, data []byte) error

// ReadThroughFunc loads a page that isn't resident. Like WriteBackFunc,
// it's supplied by the caller.
type ReadThroughFunc func(pageID int64) ([]byte, error)

type entry struct {
	pageID int64
	data   []byte
	dirty  bool
}

// PageCache is a bounded, least-recently-used cache of fixed-size
// pages. It is not safe for concurrent use; the orchestrator in package
// storage guards it with the tree's single-writer lock.
type PageCache struct {
	pageSize    int
	maxPages    int
	writeBack   WriteBackFunc
	readThrough ReadThroughFunc

	order *list.List              // front = most recently used
	index map[int64]*list.Element // pageID -> element holding *entry

	hits, misses, evictions int64
}

// New constructs a PageCache holding at most capacityBytes worth of
// pageSizeBytes-sized pages (at least one page).
func New(pageSizeBytes int, capacityBytes int64, rt ReadThroughFunc, wb WriteBackFunc) *PageCache {
	maxPages := int(capacityBytes / int64(pageSizeBytes))
	if maxPages < 1 {
		maxPages = 1
	}
	return &PageCache{
		pageSize:    pageSizeBytes,
		maxPages:    maxPages,
		writeBack:   wb,
		readThrough: rt,
		order:       list.New(),
		index:       make(map[int64]*list.Element),
	}
}

// Get returns the contents of pageID, loading it via ReadThroughFunc on
// a miss and marking it most-recently-used either way.
func (c *PageCache) Get(pageID int64) ([]byte, error) {
	if el, ok := c.index[pageID]; ok {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*entry).data, nil
	}

	c.misses++
	data, err := c.readThrough(pageID)
	if err != nil {
		return nil, err
	}
	c.insert(pageID, data, false)
	return data, nil
}

// Put installs data as the contents of pageID, marking it dirty and
// most-recently-used. It does not write through immediately.
func (c *PageCache) Put(pageID int64, data []byte) error {
	if el, ok := c.index[pageID]; ok {
		e := el.Value.(*entry)
		e.data = data
		e.dirty = true
		c.order.MoveToFront(el)
		return nil
	}
	return c.insert(pageID, data, true)
}

func (c *PageCache) insert(pageID int64, data []byte, dirty bool) error {
	if c.order.Len() >= c.maxPages {
		if err := c.evictOldest(); err != nil {
			return err
		}
	}
	el := c.order.PushFront(&entry{pageID: pageID, data: data, dirty: dirty})
	c.index[pageID] = el
	return nil
}

func (c *PageCache) evictOldest() error {
	back := c.order.Back()
	if back == nil {
		return nil
	}
	e := back.Value.(*entry)
	if e.dirty {
		if err := c.writeBack(e.pageID, e.data); err != nil {
			return err
		}
	}
	c.order.Remove(back)
	delete(c.index, e.pageID)
	c.evictions++
	return nil
}

// Flush writes back every dirty page in ascending page-id order, so a
// crash partway through flush leaves a prefix of pages durable rather
// than an arbitrary scatter.
func (c *PageCache) Flush() error {
	ids := make([]int64, 0, len(c.index))
	for id := range c.index {
		ids = append(ids, id)
	}
	sortInt64s(ids)

	for _, id := range ids {
		el := c.index[id]
		e := el.Value.(*entry)
		if !e.dirty {
			continue
		}
		if err := c.writeBack(e.pageID, e.data); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// Stats reports cache hit/miss/eviction counters since construction,
// for wiring into Prometheus gauges by the caller.
func (c *PageCache) Stats() (hits, misses, evictions int64) {
	return c.hits, c.misses, c.evictions
}

// Len reports the number of resident pages.
func (c *PageCache) Len() int { return c.order.Len() }

// Reset discards every resident page without writing any of them back,
// for callers that have just rewritten the backing store directly and
// need the cache's next reads to go through ReadThroughFunc again.
func (c *PageCache) Reset() {
	c.order.Init()
	c.index = make(map[int64]*list.Element)
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
