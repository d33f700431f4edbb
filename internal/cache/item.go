// Package cache implements the disk-backed streaming cache behind a
// cached provider: Pool (the populate/evict/lookup state machine) and
// Reader (the async reader that tails a still-growing cache file).
package cache

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hollowsky/annex/internal/provider"
)

// Item is a persistent record of a cached or currently-caching track.
// It is reference-counted implicitly via readerCount: the pool may
// mark it evicted while readers are still attached; for a fully cached
// item the backing file is then only deleted once the last reader
// detaches, avoiding a lifetime cycle without weak references. An item
// evicted before it was fully cached has its file deleted at once,
// whether or not readers are attached.
type Item struct {
	Path string
	Info provider.AudioInfo

	mu       sync.RWMutex
	cached   bool
	size     uint64
	failed   error // terminal: the populator's upstream copy errored

	readerCount int32
	evicted     atomic.Bool
	log         *slog.Logger
}

func newItem(path string, info provider.AudioInfo, log *slog.Logger) *Item {
	return &Item{Path: path, Info: info, size: info.Size, log: log}
}

// Cached reports whether the backing file is complete and durable.
func (it *Item) Cached() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.cached
}

// Size returns the item's current size — the upstream-reported size
// until the background copy finishes and corrects it.
func (it *Item) Size() uint64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.size
}

// Failed returns the terminal error the populator encountered, if any.
// Exposed so CacheReader can fail fast instead of polling forever when
// the upstream copy has permanently stopped making progress.
func (it *Item) Failed() error {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.failed
}

func (it *Item) setCached(size uint64) {
	it.mu.Lock()
	it.cached = true
	it.size = size
	it.mu.Unlock()
}

func (it *Item) setFailed(err error) {
	it.mu.Lock()
	it.failed = err
	it.mu.Unlock()
}

func (it *Item) acquireReader() {
	atomic.AddInt32(&it.readerCount, 1)
}

// releaseReader drops a reader's hold on the item; if the item has
// been evicted and this was the last reader, the backing file is
// deleted now (the drop handler).
func (it *Item) releaseReader() {
	if atomic.AddInt32(&it.readerCount, -1) == 0 && it.evicted.Load() {
		it.deleteFile()
	}
}

// markEvictedOrOrphan flags the item as no longer live in the pool. If
// it was never fully cached, or has no attached readers, the backing
// file is deleted immediately (orphan cleanup); otherwise deletion is
// deferred to the last reader's release.
func (it *Item) markEvictedOrOrphan() {
	it.evicted.Store(true)
	if !it.Cached() || atomic.LoadInt32(&it.readerCount) == 0 {
		it.deleteFile()
	}
}

func (it *Item) deleteFile() {
	if err := os.Remove(it.Path); err != nil && !os.IsNotExist(err) {
		if it.log != nil {
			it.log.Error("cache: failed to remove orphaned file", "path", it.Path, "err", err)
		}
	}
}
