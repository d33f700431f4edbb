package cache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

// Populator fetches the full, uncached resource for key. It is called
// with the full range regardless of what range the caller originally
// asked for, since the cache always stores a complete copy.
type Populator func(ctx context.Context, key catalog.TrackIdentifier) (provider.AudioResourceReader, error)

// Pool is the disk-backed LRU cache behind a cacheprovider.Provider. A
// miss triggers a synchronous upstream fetch of the audio's metadata
// followed by a background copy into the cache file; readers opened
// while the copy is still running tail the file via Reader.
type Pool struct {
	root    string
	maxSize uint64 // 0 means unbounded
	log     *slog.Logger

	mu     sync.Mutex
	items  map[catalog.TrackIdentifier]*Item
	order  *list.List
	elems  map[catalog.TrackIdentifier]*list.Element
	locks  map[catalog.TrackIdentifier]*sync.Mutex
}

// NewPool returns a Pool rooted at dir. maxSize of 0 disables eviction.
func NewPool(dir string, maxSize uint64, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		root:    dir,
		maxSize: maxSize,
		log:     log,
		items:   make(map[catalog.TrackIdentifier]*Item),
		order:   list.New(),
		elems:   make(map[catalog.TrackIdentifier]*list.Element),
		locks:   make(map[catalog.TrackIdentifier]*sync.Mutex),
	}
}

func (p *Pool) filePath(key catalog.TrackIdentifier) string {
	return filepath.Join(p.root, key.AlbumID.String(), key.CacheFileName())
}

// Fetch returns the cached Item for key, populating it via fetch on a
// miss. The caller must call Pool.Release (via a Reader's Close, or
// directly) once for every successful Fetch.
func (p *Pool) Fetch(ctx context.Context, key catalog.TrackIdentifier, fetch Populator) (*Item, error) {
	if item, ok := p.lookup(key); ok {
		return item, nil
	}

	keyLock := p.lockFor(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	// Another goroutine may have populated this key while we waited for
	// the per-key lock; re-check before doing any I/O.
	if item, ok := p.lookup(key); ok {
		return item, nil
	}

	res, err := fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	path := p.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		_ = res.Reader.Close()
		return nil, fmt.Errorf("cache: create cache dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		_ = res.Reader.Close()
		return nil, fmt.Errorf("cache: create cache file: %w", err)
	}

	item := newItem(path, res.Info, p.log)

	p.mu.Lock()
	p.items[key] = item
	// Touch as most-recently-used BEFORE the eviction check below, so a
	// populator can never evict the very item it just inserted: with a
	// single item in the pool order.Len() is 1 and the eviction loop
	// below never runs, regardless of maxSize.
	p.touchLocked(key)
	p.evictLocked()
	p.mu.Unlock()

	go p.populate(item, f, res.Reader)

	item.acquireReader()
	return item, nil
}

// Peek returns the live item for key without acquiring a reader hold,
// for callers that only want metadata (e.g. a cache-hit fast path for
// GetAudioInfo) and never open a Reader on the result. It still touches
// the item's LRU position, since a metadata lookup is as much evidence
// of recent use as a streaming read.
func (p *Pool) Peek(key catalog.TrackIdentifier) (*Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if !ok {
		return nil, false
	}
	p.touchLocked(key)
	return item, true
}

// lookup returns the live item for key, if any, touching its LRU
// position.
func (p *Pool) lookup(key catalog.TrackIdentifier) (*Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if !ok {
		return nil, false
	}
	p.touchLocked(key)
	item.acquireReader()
	return item, true
}

func (p *Pool) lockFor(key catalog.TrackIdentifier) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

func (p *Pool) touchLocked(key catalog.TrackIdentifier) {
	if e, ok := p.elems[key]; ok {
		p.order.MoveToFront(e)
		return
	}
	p.elems[key] = p.order.PushFront(key)
}

// evictLocked drops least-recently-used items until the pool's total
// known size is within maxSize, never touching the front (most
// recently used) element. Must be called with mu held.
func (p *Pool) evictLocked() {
	if p.maxSize == 0 {
		return
	}
	for p.spaceUsedLocked() > p.maxSize && p.order.Len() > 1 {
		back := p.order.Back()
		key := back.Value.(catalog.TrackIdentifier)
		p.order.Remove(back)
		delete(p.elems, key)
		item, ok := p.items[key]
		if !ok {
			continue
		}
		delete(p.items, key)
		item.markEvictedOrOrphan()
	}
}

func (p *Pool) spaceUsedLocked() uint64 {
	var total uint64
	for _, item := range p.items {
		total += item.Size()
	}
	return total
}

// Release relinquishes a hold acquired by Fetch/lookup, outside of a
// Reader's lifecycle (e.g. if the caller never opened one).
func (p *Pool) Release(item *Item) {
	item.releaseReader()
}

func (p *Pool) populate(item *Item, f *os.File, src io.ReadCloser) {
	defer src.Close()
	defer f.Close()

	written, err := io.Copy(f, src)
	if err != nil {
		item.setFailed(fmt.Errorf("cache: populate %q: %w", item.Path, err))
		p.log.Error("cache: populate failed", "path", item.Path, "err", err)
		return
	}
	if err := f.Sync(); err != nil {
		item.setFailed(fmt.Errorf("cache: sync %q: %w", item.Path, err))
		return
	}
	item.setCached(uint64(written))
}
