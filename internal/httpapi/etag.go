package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// computeETag derives a stable hash of the ordered, deduplicated album
// id set, per spec.md's "ordered concatenation of provider album sets"
// rule. Ordering the ids before hashing is what makes two reloads of
// an unchanged store produce the same ETag regardless of map iteration
// order.
func computeETag(albums map[uuid.UUID]struct{}) string {
	ids := make([]string, 0, len(albums))
	for id := range albums {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
