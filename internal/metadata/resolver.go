// Package metadata defines the narrow interface providers use to turn
// on-disk/on-drive album folder names into stable album identifiers.
// Richer metadata concerns (tags, artists, artwork editing) belong to
// an external metadata service this package does not implement.
package metadata

import (
	"context"

	"github.com/google/uuid"
)

// Resolver is the external collaborator interface providers depend on
// during discovery. Providers invoke only these two operations.
type Resolver interface {
	// MatchAlbum returns the unique album matching catalog, releaseDate,
	// discCount, and title, or (uuid.Nil, false, nil) if none matches.
	MatchAlbum(ctx context.Context, catalog, releaseDate string, discCount int, title string) (uuid.UUID, bool, error)

	// Reload bulk-refreshes the resolver's backing store.
	Reload(ctx context.Context) error
}
