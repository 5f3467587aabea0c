// Package permcache memoizes CompiledPolicy permission decisions. Policy
// decisions are pure functions of (CompiledPolicy, ActionHash); caching pays
// off when the same action is re-checked within a single tool invocation.
package permcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind distinguishes the permission domain an ActionHash addresses.
type Kind int

const (
	KindTool Kind = iota
	KindNetwork
	KindStorage
	KindEnvironment
)

func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindNetwork:
		return "network"
	case KindStorage:
		return "storage"
	case KindEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// ActionHash is the cache key: a sum type over the four query shapes
// CompiledPolicy exposes.
type ActionHash struct {
	Kind Kind
	Name string // tool name, host, or env key
	Path string // storage path (Kind == KindStorage only)
	Op   string // storage access mode (Kind == KindStorage only)
}

func (a ActionHash) key() string {
	if a.Kind == KindStorage {
		return fmt.Sprintf("%d|%s|%s", a.Kind, a.Path, a.Op)
	}
	return fmt.Sprintf("%d|%s", a.Kind, a.Name)
}

// Stats exposes cache hit/miss counters for observability.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Cache is a process-wide, bounded, thread-safe memoization layer over
// policy decisions. The zero value is not usable; construct with New.
type Cache struct {
	lru *lru.Cache[string, bool]

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// New creates a Cache with a fixed LRU capacity.
func New(capacity int) (*Cache, error) {
	l, err := lru.New[string, bool](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating permission cache: %w", err)
	}
	return &Cache{lru: l}, nil
}

// Check returns the cached decision for action, if present. A cache hit
// never lies: the returned bool is exactly whatever Store last recorded for
// this key.
func (c *Cache) Check(action ActionHash) (allowed bool, ok bool) {
	v, ok := c.lru.Get(action.key())
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, ok
}

// Store records the decision for action.
func (c *Cache) Store(action ActionHash, allowed bool) {
	c.lru.Add(action.key(), allowed)
}

// CheckOrCompute returns the cached decision if present, otherwise invokes
// compute, stores, and returns its result — the common call shape for
// wrapping a CompiledPolicy query method.
func (c *Cache) CheckOrCompute(action ActionHash, compute func() bool) bool {
	if v, ok := c.Check(action); ok {
		return v
	}
	v := compute()
	c.Store(action, v)
	return v
}

// Stats returns a snapshot of hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes every cached entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}
