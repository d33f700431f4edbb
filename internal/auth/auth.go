package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hollowsky/annex/internal/provider"
)

// ErrUnauthorized is returned by Verify on any failure to authenticate
// a token: missing, malformed, expired, wrong key, or (via the key-id
// dispatch rule) a payload type mismatch.
var ErrUnauthorized = provider.ErrUnauthorized

// Verifier holds the two signing keys and the admin secret, and
// implements the key-id dispatch rule: a token with no "kid" header
// is checked against SignKey and may be either a user or share
// payload; a token carrying a "kid" must match ShareKeyID and verify
// against ShareKey, and is rejected unless its payload is a share
// token — a user token signed with the share key must not grant user
// privileges.
type Verifier struct {
	SignKey    []byte
	ShareKey   []byte
	ShareKeyID string
	AdminToken string
}

// IssueUser signs a user token, optionally embedding share-minting
// credentials.
func (v *Verifier) IssueUser(userID string, share *ShareGrant) (string, error) {
	claims := &Claims{
		Type:     KindUser,
		IssuedAt: time.Now().Unix(),
		UserID:   userID,
		Share:    share,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(v.SignKey)
}

// IssueShare signs a share token carrying the share key's id in its
// header, as required for the key-id dispatch rule above.
func (v *Verifier) IssueShare(audios map[string]DiscTracks) (string, error) {
	claims := &Claims{
		Type:     KindShare,
		IssuedAt: time.Now().Unix(),
		Audios:   audios,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = v.ShareKeyID
	return tok.SignedString(v.ShareKey)
}

// Verify decodes and validates a bearer token, returning its claims.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	keyFunc := func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		kid, hasKid := tok.Header["kid"]
		if !hasKid {
			return v.SignKey, nil
		}
		if kid != v.ShareKeyID {
			return nil, fmt.Errorf("unknown key id %v", kid)
		}
		return v.ShareKey, nil
	}

	tok, err := jwt.ParseWithClaims(raw, claims, keyFunc)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if _, hasKid := tok.Header["kid"]; hasKid && !claims.IsShare() {
		return nil, fmt.Errorf("%w: a user token cannot be signed with the share key", ErrUnauthorized)
	}
	return claims, nil
}

// IsAdmin compares raw against the configured admin secret in
// constant time.
func (v *Verifier) IsAdmin(raw string) bool {
	return subtle.ConstantTimeCompare([]byte(raw), []byte(v.AdminToken)) == 1
}

// ExtractToken reads the bearer token from the Authorization header or
// the "auth" query parameter, the latter existing so that <audio>
// elements (which cannot set headers) can still authenticate.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("auth")
}
