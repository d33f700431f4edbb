package cacheprovider

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/cache"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

// countingProvider counts GetAudioInfo calls so tests can assert the
// cache fast path bypassed it.
type countingProvider struct {
	infoCalls int
	payload   string
}

func (p *countingProvider) Albums(context.Context) (map[uuid.UUID]struct{}, error) { return nil, nil }
func (p *countingProvider) HasAlbum(uuid.UUID) bool                                { return true }

func (p *countingProvider) GetAudioInfo(context.Context, catalog.TrackIdentifier) (provider.AudioInfo, error) {
	p.infoCalls++
	return provider.AudioInfo{Size: uint64(len(p.payload))}, nil
}

func (p *countingProvider) GetAudio(_ context.Context, _ catalog.TrackIdentifier, _ catalog.Range) (provider.AudioResourceReader, error) {
	return provider.AudioResourceReader{
		Info:   provider.AudioInfo{Size: uint64(len(p.payload))},
		Reader: io.NopCloser(strings.NewReader(p.payload)),
	}, nil
}

func (p *countingProvider) GetCover(context.Context, uuid.UUID, *uint8) (io.ReadCloser, error) {
	return nil, provider.ErrNotFound
}

func (p *countingProvider) Reload(context.Context) error { return nil }

func newKey(t *testing.T) catalog.TrackIdentifier {
	t.Helper()
	k, err := catalog.New(uuid.New(), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestGetAudioInfoServesFromCacheOnHit(t *testing.T) {
	dir := t.TempDir()
	inner := &countingProvider{payload: "cached audio bytes"}
	pool := cache.NewPool(dir, 0, nil)
	cp := New(inner, pool)
	key := newKey(t)

	res, err := cp.GetAudio(context.Background(), key, catalog.Full())
	if err != nil {
		t.Fatalf("GetAudio: %v", err)
	}
	if _, err := io.ReadAll(res.Reader); err != nil {
		t.Fatalf("read: %v", err)
	}
	res.Reader.Close()

	item, ok := pool.Peek(key)
	if !ok {
		t.Fatal("expected item in pool after GetAudio")
	}
	deadline := 0
	for !item.Cached() {
		deadline++
		if deadline > 100000 {
			t.Fatal("timed out waiting for item to be cached")
		}
	}

	inner.infoCalls = 0
	info, err := cp.GetAudioInfo(context.Background(), key)
	if err != nil {
		t.Fatalf("GetAudioInfo: %v", err)
	}
	if info.Size != uint64(len(inner.payload)) {
		t.Fatalf("got size %d, want %d", info.Size, len(inner.payload))
	}
	if inner.infoCalls != 0 {
		t.Fatalf("inner.GetAudioInfo called %d times, want 0 (cache-hit fast path bypassed)", inner.infoCalls)
	}
}

func TestGetAudioInfoFallsThroughOnMiss(t *testing.T) {
	dir := t.TempDir()
	inner := &countingProvider{payload: "uncached"}
	pool := cache.NewPool(dir, 0, nil)
	cp := New(inner, pool)
	key := newKey(t)

	info, err := cp.GetAudioInfo(context.Background(), key)
	if err != nil {
		t.Fatalf("GetAudioInfo: %v", err)
	}
	if info.Size != uint64(len(inner.payload)) {
		t.Fatalf("got size %d, want %d", info.Size, len(inner.payload))
	}
	if inner.infoCalls != 1 {
		t.Fatalf("inner.GetAudioInfo called %d times, want 1 on a cache miss", inner.infoCalls)
	}
}
