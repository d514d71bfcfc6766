// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// cache.go: sharded LRU of decoded values kept in front of a backend, so
// repeated reads of a hot key skip both the backend round trip and decoding.

// Package cache provides a sharded, concurrent LRU with optional expiry.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielsz/konserve/internal/clock"
)

const numShards = 16

// Options configures an LRU.
type Options struct {
	// MaxEntries bounds the total number of entries. Each shard holds an
	// equal part, at least one.
	MaxEntries int
	// TTL expires entries this long after they were stored. Zero keeps them
	// until evicted.
	TTL   time.Duration
	Clock clock.Clock
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

type shard struct {
	mu    sync.Mutex
	items map[string]*entry
	order *list.List // front is most recently used
	limit int
}

// LRU is a sharded least-recently-used cache.
type LRU struct {
	shards [numShards]*shard
	ttl    time.Duration
	clock  clock.Clock
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an LRU.
func New(opts Options) *LRU {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	limit := opts.MaxEntries / numShards
	if limit < 1 {
		limit = 1
	}
	c := &LRU{ttl: opts.TTL, clock: opts.Clock}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]*entry), order: list.New(), limit: limit}
	}
	return c
}

func (c *LRU) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Put stores value under key, evicting the least recently used entry of the
// shard when it is full.
func (c *LRU) Put(key string, value any) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock.Now().Add(c.ttl)
	}
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		sh.order.MoveToFront(e.elem)
		return
	}
	if len(sh.items) >= sh.limit {
		if back := sh.order.Back(); back != nil {
			sh.remove(back.Value.(*entry))
		}
	}
	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.elem = sh.order.PushFront(e)
	sh.items[key] = e
}

// Get returns the value under key if present and not expired.
func (c *LRU) Get(key string) (any, bool) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.clock.Now().After(e.expiresAt) {
		sh.remove(e)
		c.misses.Add(1)
		return nil, false
	}
	sh.order.MoveToFront(e.elem)
	c.hits.Add(1)
	return e.value, true
}

// Delete drops key.
func (c *LRU) Delete(key string) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	if e, ok := sh.items[key]; ok {
		sh.remove(e)
	}
	sh.mu.Unlock()
}

// Flush drops every entry.
func (c *LRU) Flush() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.items = make(map[string]*entry)
		sh.order.Init()
		sh.mu.Unlock()
	}
}

// Stats holds hit, miss and entry counts.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int64
}

// Stats returns current statistics.
func (c *LRU) Stats() Stats {
	var n int64
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += int64(len(sh.items))
		sh.mu.Unlock()
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

func (sh *shard) remove(e *entry) {
	delete(sh.items, e.key)
	sh.order.Remove(e.elem)
}
