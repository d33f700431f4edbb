// Package auth implements the three token shapes (user, share, admin)
// the HTTP layer authenticates and authorizes requests against, along
// with the signing-key dispatch rule that keeps a share key from
// minting user-level access.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates the decoded payload of a JWT-style token.
type Kind string

const (
	KindUser  Kind = "user"
	KindShare Kind = "share"
)

// ShareGrant is the share-minting credential a user token may carry,
// used only by the admin-sign endpoint, never consulted by the
// request-authorization middleware itself.
type ShareGrant struct {
	KeyID   string       `json:"key_id"`
	Secret  string       `json:"secret"`
	Allowed []uuid.UUID  `json:"allowed,omitempty"`
}

// DiscTracks maps a disc id (stringified, per the wire schema) to the
// set of allowed 1-based track ids on that disc.
type DiscTracks map[string][]uint8

// Claims is the decoded body of either a user or a share token. Both
// shapes are modeled together, tagged by Type, mirroring the wire
// schema's single flat JSON object with a "type" discriminant rather
// than two distinct Go types — this keeps (de)serialization a single
// round trip and matches how the token is actually put on the wire.
type Claims struct {
	Type   Kind                  `json:"type"`
	IssuedAt int64               `json:"iat"`
	UserID string                `json:"user_id,omitempty"`
	Share  *ShareGrant           `json:"share,omitempty"`
	Audios map[string]DiscTracks `json:"audios,omitempty"`

	jwt.RegisteredClaims
}

// IsUser reports whether these are user claims.
func (c *Claims) IsUser() bool { return c.Type == KindUser }

// IsShare reports whether these are share claims.
func (c *Claims) IsShare() bool { return c.Type == KindShare }

// CanFetch reports whether the claims authorize reading the given
// track. User tokens always may; share tokens may only when the
// album/disc/track triple appears in their whitelist.
func (c *Claims) CanFetch(albumID uuid.UUID, discID, trackID uint8) bool {
	if c.IsUser() {
		return true
	}
	discs, ok := c.Audios[albumID.String()]
	if !ok {
		return false
	}
	tracks, ok := discs[fmt.Sprintf("%d", discID)]
	if !ok {
		return false
	}
	for _, t := range tracks {
		if t == trackID {
			return true
		}
	}
	return false
}
