package metadata

import (
	"context"

	"github.com/google/uuid"
)

// deterministicNamespace seeds the UUIDv5 derivation DeterministicResolver
// uses, so the same catalog number always maps to the same album id
// across restarts without a backing database.
var deterministicNamespace = uuid.MustParse("a9f2f5b0-4f1e-4c3d-9a7e-9b9f5a6d2c10")

// DeterministicResolver is a MetadataResolver with no external
// dependency: it derives a stable album id from the catalog number
// alone (catalog numbers are this domain's natural unique key), so the
// service is usable out of the box before a Postgres-backed resolver
// is configured.
type DeterministicResolver struct{}

// NewDeterministicResolver returns a resolver requiring no database.
func NewDeterministicResolver() *DeterministicResolver {
	return &DeterministicResolver{}
}

// MatchAlbum implements Resolver by hashing the catalog number into a
// UUIDv5 under a fixed namespace.
func (DeterministicResolver) MatchAlbum(_ context.Context, catalog, _ string, _ int, _ string) (uuid.UUID, bool, error) {
	if catalog == "" {
		return uuid.Nil, false, nil
	}
	return uuid.NewSHA1(deterministicNamespace, []byte(catalog)), true, nil
}

// Reload implements Resolver; there is nothing to refresh.
func (DeterministicResolver) Reload(context.Context) error { return nil }
