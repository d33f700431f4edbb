// Package priority implements an ordered fan-out over several
// providers, trying each in descending priority order and returning
// the first successful result.
package priority

import (
	"context"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

type entry struct {
	priority int32
	provider provider.Provider
}

// Provider holds an ordered list of (priority, provider) pairs, higher
// priority first, and dispatches reads to the first provider that can
// serve them.
type Provider struct {
	entries []entry
}

// Pair associates a provider with its priority for New.
type Pair struct {
	Priority int32
	Provider provider.Provider
}

// New builds a Provider from pairs, sorted descending by priority.
// Ties keep the order pairs were given in, matching a stable sort.
func New(pairs []Pair) *Provider {
	p := &Provider{}
	for _, pair := range pairs {
		p.insert(pair.Priority, pair.Provider)
	}
	return p
}

// Insert adds prov at priority pri, preserving descending order.
func (p *Provider) Insert(pri int32, prov provider.Provider) {
	p.insert(pri, prov)
}

func (p *Provider) insert(pri int32, prov provider.Provider) {
	idx := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].priority < pri
	})
	p.entries = append(p.entries, entry{})
	copy(p.entries[idx+1:], p.entries[idx:])
	p.entries[idx] = entry{priority: pri, provider: prov}
}

// Albums implements provider.Provider: the union of every member
// provider's album set.
func (p *Provider) Albums(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{})
	for _, e := range p.entries {
		albums, err := e.provider.Albums(ctx)
		if err != nil {
			return nil, err
		}
		for id := range albums {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// HasAlbum reports whether any member provider has the album.
func (p *Provider) HasAlbum(albumID uuid.UUID) bool {
	for _, e := range p.entries {
		if e.provider.HasAlbum(albumID) {
			return true
		}
	}
	return false
}

// GetAudioInfo tries each provider in priority order, returning the
// first success.
func (p *Provider) GetAudioInfo(ctx context.Context, track catalog.TrackIdentifier) (provider.AudioInfo, error) {
	var lastErr error
	for _, e := range p.entries {
		info, err := e.provider.GetAudioInfo(ctx, track)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return provider.AudioInfo{}, firstErrOrNotFound(lastErr)
}

// GetAudio tries each provider in priority order, returning the first
// success.
func (p *Provider) GetAudio(ctx context.Context, track catalog.TrackIdentifier, rng catalog.Range) (provider.AudioResourceReader, error) {
	var lastErr error
	for _, e := range p.entries {
		res, err := e.provider.GetAudio(ctx, track, rng)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return provider.AudioResourceReader{}, firstErrOrNotFound(lastErr)
}

// GetCover tries each provider in priority order, returning the first
// success.
func (p *Provider) GetCover(ctx context.Context, albumID uuid.UUID, discID *uint8) (io.ReadCloser, error) {
	var lastErr error
	for _, e := range p.entries {
		r, err := e.provider.GetCover(ctx, albumID, discID)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return nil, firstErrOrNotFound(lastErr)
}

// Reload reloads every member provider. All are attempted regardless
// of earlier failures; the last error encountered is returned.
func (p *Provider) Reload(ctx context.Context) error {
	var lastErr error
	for _, e := range p.entries {
		if err := e.provider.Reload(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func firstErrOrNotFound(err error) error {
	if err != nil {
		return err
	}
	return provider.ErrNotFound
}
