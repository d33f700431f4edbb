package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// AlbumFolderInfo is what can be recovered from an album directory (or
// cloud folder) name alone, before consulting the metadata resolver.
type AlbumFolderInfo struct {
	ReleaseDate string // YYMMDD, as it appears in the folder name
	Catalog     string
	Title       string
}

// albumPattern matches the "[YYMMDD][CATALOG] TITLE" convention, with
// an optional "【edition】" suffix. Disc count is deliberately not part
// of this pattern: unlike catalog/date/title, it is not reliably
// encoded in the top-level folder name, so both providers determine it
// by probing for Disc-N subdirectories instead (see
// fsprovider.countDiscs / driveprovider's analogous folder-listing
// probe) and pass the result alongside this parse.
var albumPattern = regexp.MustCompile(`^\[(\d{6})\]\[([^\]]+)\]\s*(.+?)(?:\s*【[^】]*】)?$`)

// discPattern matches the "[CATALOG] TITLE [Disc N]" convention used
// for multi-disc album subdirectories.
var discPattern = regexp.MustCompile(`^\[([^\]]+)\]\s*(.+?)\s*\[Disc\s+(\d+)\]$`)

// ParseAlbumFolderName parses an album directory/folder basename. It
// returns ErrInvalidPath wrapped with context when the name doesn't
// match the convention at all — callers should queue non-matching
// directories for a deeper walk rather than treat this as fatal.
func ParseAlbumFolderName(name string) (AlbumFolderInfo, error) {
	m := albumPattern.FindStringSubmatch(name)
	if m == nil {
		return AlbumFolderInfo{}, fmt.Errorf("%w: %q does not match the album convention", ErrInvalidPath, name)
	}
	return AlbumFolderInfo{
		ReleaseDate: m[1],
		Catalog:     m[2],
		Title:       strings.TrimSpace(m[3]),
	}, nil
}

// ParseDiscFolderName parses a disc subdirectory/subfolder basename,
// returning its 1-based disc index.
func ParseDiscFolderName(name string) (catalog string, title string, discIndex int, err error) {
	m := discPattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", 0, fmt.Errorf("%w: %q does not match the disc convention", ErrInvalidPath, name)
	}
	var n int
	if _, err := fmt.Sscanf(m[3], "%d", &n); err != nil || n < 1 {
		return "", "", 0, fmt.Errorf("%w: %q has an invalid disc index", ErrInvalidPath, name)
	}
	return m[1], strings.TrimSpace(m[2]), n, nil
}

// TrackFilePrefix is the zero-padded "NN." prefix a track file of the
// given 1-based track_id must start with, per both providers' file
// naming convention "{NN}. {title}.flac".
func TrackFilePrefix(trackID uint8) string {
	return fmt.Sprintf("%02d.", trackID)
}
