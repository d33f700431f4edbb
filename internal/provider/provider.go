// Package provider defines the capability set every storage backend
// implements, and the sentinel errors the HTTP layer and the priority
// dispatcher use to decide whether a failure is terminal.
package provider

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/catalog"
)

// Sentinel error kinds. Wrapped with fmt.Errorf("...: %w", ...) at the
// point of failure so callers use errors.Is rather than a closed
// kind-switch.
var (
	ErrNotFound     = errors.New("provider: not found")
	ErrInvalidPath  = errors.New("provider: invalid path")
	ErrInvalidRange = errors.New("provider: invalid range")
	ErrUnauthorized = errors.New("provider: unauthorized")
	ErrUpstream     = errors.New("provider: upstream failure")
)

// AudioInfo describes a track's container-level properties.
type AudioInfo struct {
	Extension string
	Size      uint64
	Duration  float64 // seconds
}

// AudioResourceReader is a streamed response to a ranged audio fetch.
type AudioResourceReader struct {
	Info   AudioInfo
	Range  catalog.Range // effective range actually served
	Reader io.ReadCloser
}

// Provider resolves (album, disc, track) tuples to bytes. Implemented
// by FilesystemProvider and DriveProvider directly, and by
// cacheprovider.Provider and priority.Provider as decorators/composites
// over those. Realized as an interface (dynamic dispatch) because the
// set of active providers is assembled at runtime from configuration.
type Provider interface {
	// Albums returns the set of album IDs this provider currently
	// holds, as of the last successful Reload.
	Albums(ctx context.Context) (map[uuid.UUID]struct{}, error)

	// HasAlbum is a pure, O(1), non-I/O membership check against the
	// in-memory index built by the last Reload.
	HasAlbum(albumID uuid.UUID) bool

	// GetAudioInfo may be synthesized from a small ranged GetAudio call
	// when that is cheaper than a dedicated metadata lookup.
	GetAudioInfo(ctx context.Context, track catalog.TrackIdentifier) (AudioInfo, error)

	// GetAudio returns a reader whose first byte corresponds to
	// rng.Start. The returned range's Total is populated when known.
	GetAudio(ctx context.Context, track catalog.TrackIdentifier, rng catalog.Range) (AudioResourceReader, error)

	// GetCover returns the album cover, or the disc cover when discID
	// is non-nil.
	GetCover(ctx context.Context, albumID uuid.UUID, discID *uint8) (io.ReadCloser, error)

	// Reload refreshes the provider's index without blocking
	// concurrent reads: implementations build the new index off to the
	// side and swap it in.
	Reload(ctx context.Context) error
}
