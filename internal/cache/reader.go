package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

// pollInterval is how long Reader waits between polls of a still-
// populating cache item before retrying a short read.
const pollInterval = 100 * time.Millisecond

// Reader serves a ranged read against a cache Item whose backing file
// may still be growing. It alternates between reading whatever bytes
// are already on disk and waiting for the background populator to
// write more. It reports EOF once the requested range has been read, or
// once the item is marked cached AND the file has been read out to its
// final size; it fails with provider.ErrUpstream when the populator
// failed, and with the context's error when ctx is done.
type Reader struct {
	ctx  context.Context
	item *Item
	f    *os.File
	pos  uint64
	end  uint64 // exclusive, relative to the start of the file
}

// OpenReader opens a ranged reader against item. The caller owns the
// one reference Pool.Fetch already acquired for item; closing the
// returned Reader releases it.
func (p *Pool) OpenReader(ctx context.Context, item *Item, rng catalog.Range) (*Reader, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		item.releaseReader()
		return nil, fmt.Errorf("cache: open %q: %w", item.Path, err)
	}
	if _, err := f.Seek(int64(rng.Start), io.SeekStart); err != nil {
		f.Close()
		item.releaseReader()
		return nil, fmt.Errorf("%w: seek %q: %v", provider.ErrInvalidRange, item.Path, err)
	}
	return &Reader{
		ctx:  ctx,
		item: item,
		f:    f,
		pos:  rng.Start,
		end:  rng.Start + rng.LengthLimit(item.Info.Size),
	}, nil
}

// Read implements io.Reader, blocking (subject to ctx) while the
// populator is still writing bytes this read needs.
func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.pos >= r.end {
			return 0, io.EOF
		}
		want := r.end - r.pos
		if uint64(len(p)) < want {
			want = uint64(len(p))
		}
		n, err := r.f.Read(p[:want])
		if n > 0 {
			r.pos += uint64(n)
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		if failErr := r.item.Failed(); failErr != nil {
			return 0, fmt.Errorf("%w: %v", provider.ErrUpstream, failErr)
		}

		cached := r.item.Cached()
		size := r.item.Size()
		if cached && r.pos >= size {
			return 0, io.EOF
		}
		if cached {
			// cached flipped true but our read hasn't caught up to the
			// final size yet (stat/buffer lag) — retry without waiting.
			continue
		}

		select {
		case <-time.After(pollInterval):
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
}

// Close releases the Reader's hold on the underlying cache Item.
func (r *Reader) Close() error {
	err := r.f.Close()
	r.item.releaseReader()
	return err
}
