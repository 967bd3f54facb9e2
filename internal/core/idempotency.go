package core

import (
	"container/list"
	"fmt"

	"LevFarm/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU in
// front of the processed_commands table.
// Not thread-safe: only the executor goroutine touches it.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(commandType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", commandType, idempotencyKey)
}

// IsDuplicate checks if a command has been processed
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	key := compositeKey(commandType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
	if err != nil {
		// A DB outage must not stall the executor: treat as new.
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(commandType, "postgres")
		ic.lru.Add(key)
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(commandType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// --- LRU ---

// IdempotencyLRU is an LRU set of composite keys.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
}

// WarmFromKeys loads recently processed composite keys, oldest first, so a
// restart does not fall through to Postgres for them.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns all keys, oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
