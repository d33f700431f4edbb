// Package cacheprovider decorates a provider.Provider with a disk
// cache: every track is pulled through in full on first access and
// served from disk (concurrently with the background copy) on every
// subsequent access.
package cacheprovider

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/cache"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

// Provider wraps an inner provider.Provider, routing GetAudio through
// a cache.Pool. GetCover and the index operations pass straight
// through: covers are small and infrequently re-fetched, and albums
// listing carries no payload worth caching.
type Provider struct {
	inner provider.Provider
	pool  *cache.Pool
}

// New returns a caching decorator around inner, storing cached audio
// under pool.
func New(inner provider.Provider, pool *cache.Pool) *Provider {
	return &Provider{inner: inner, pool: pool}
}

func (p *Provider) Albums(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	return p.inner.Albums(ctx)
}

func (p *Provider) HasAlbum(albumID uuid.UUID) bool {
	return p.inner.HasAlbum(albumID)
}

// GetAudioInfo takes a cache-hit fast path: if track is already fully
// cached, its info is served straight from the cache.Item rather than
// round-tripping to the inner provider. A miss, or an item still mid
// background-copy, falls through to the inner provider as before.
func (p *Provider) GetAudioInfo(ctx context.Context, track catalog.TrackIdentifier) (provider.AudioInfo, error) {
	if item, ok := p.pool.Peek(track); ok && item.Cached() {
		return item.Info, nil
	}
	return p.inner.GetAudioInfo(ctx, track)
}

// GetAudio implements provider.Provider. The inner provider is only
// ever consulted with the full range: the cache always stores a
// complete copy, and ranged callers are served out of it via
// cache.Reader once the cache.Item exists.
func (p *Provider) GetAudio(ctx context.Context, track catalog.TrackIdentifier, rng catalog.Range) (provider.AudioResourceReader, error) {
	populate := func(ctx context.Context, key catalog.TrackIdentifier) (provider.AudioResourceReader, error) {
		return p.inner.GetAudio(ctx, key, catalog.Full())
	}
	item, err := p.pool.Fetch(ctx, track, populate)
	if err != nil {
		return provider.AudioResourceReader{}, err
	}
	reader, err := p.pool.OpenReader(ctx, item, rng)
	if err != nil {
		return provider.AudioResourceReader{}, err
	}
	return provider.AudioResourceReader{
		Info:   item.Info,
		Range:  rng.EndWith(item.Info.Size),
		Reader: reader,
	}, nil
}

func (p *Provider) GetCover(ctx context.Context, albumID uuid.UUID, discID *uint8) (io.ReadCloser, error) {
	return p.inner.GetCover(ctx, albumID, discID)
}

func (p *Provider) Reload(ctx context.Context) error {
	return p.inner.Reload(ctx)
}
