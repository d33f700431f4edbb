package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TrackIdentifier addresses a single audio file: an album, a 1-based
// disc within it, and a 1-based track within that disc.
type TrackIdentifier struct {
	AlbumID uuid.UUID
	DiscID  uint8
	TrackID uint8
}

// New constructs a TrackIdentifier, rejecting a zero disc or track.
func New(albumID uuid.UUID, discID, trackID uint8) (TrackIdentifier, error) {
	if discID == 0 {
		return TrackIdentifier{}, fmt.Errorf("catalog: disc_id must be >= 1")
	}
	if trackID == 0 {
		return TrackIdentifier{}, fmt.Errorf("catalog: track_id must be >= 1")
	}
	return TrackIdentifier{AlbumID: albumID, DiscID: discID, TrackID: trackID}, nil
}

// Parse reads "{uuid}/{disc}/{track}" path segments.
func Parse(album, disc, track string) (TrackIdentifier, error) {
	albumID, err := uuid.Parse(album)
	if err != nil {
		return TrackIdentifier{}, fmt.Errorf("catalog: bad album id %q: %w", album, err)
	}
	discID, err := strconv.ParseUint(disc, 10, 8)
	if err != nil {
		return TrackIdentifier{}, fmt.Errorf("catalog: bad disc id %q: %w", disc, err)
	}
	trackID, err := strconv.ParseUint(track, 10, 8)
	if err != nil {
		return TrackIdentifier{}, fmt.Errorf("catalog: bad track id %q: %w", track, err)
	}
	return New(albumID, uint8(discID), uint8(trackID))
}

// String formats the stable "{uuid}/{disc}/{track}" form.
func (t TrackIdentifier) String() string {
	return fmt.Sprintf("%s/%d/%d", t.AlbumID, t.DiscID, t.TrackID)
}

// ParseString is the inverse of String.
func ParseString(s string) (TrackIdentifier, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return TrackIdentifier{}, fmt.Errorf("catalog: malformed track identifier %q", s)
	}
	return Parse(parts[0], parts[1], parts[2])
}

// Less gives the lexicographic total ordering over (album, disc, track).
func (t TrackIdentifier) Less(other TrackIdentifier) bool {
	if t.AlbumID != other.AlbumID {
		return t.AlbumID.String() < other.AlbumID.String()
	}
	if t.DiscID != other.DiscID {
		return t.DiscID < other.DiscID
	}
	return t.TrackID < other.TrackID
}

// CacheFileName is the on-disk basename this track occupies under the
// album's cache directory, per the "{disc}_{track}" layout.
func (t TrackIdentifier) CacheFileName() string {
	return fmt.Sprintf("%d_%d", t.DiscID, t.TrackID)
}
