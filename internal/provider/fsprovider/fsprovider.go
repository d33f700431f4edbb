// Package fsprovider implements a provider.Provider over a local
// filesystem tree, discovering albums by directory-name convention.
package fsprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/flacinfo"
	"github.com/hollowsky/annex/internal/metadata"
	"github.com/hollowsky/annex/internal/provider"
)

// defaultMaxLayer bounds how many directory levels below root Reload
// will descend looking for album folders, matching the configuration
// schema's "layer" field default.
const defaultMaxLayer = 2

// Provider walks a root directory for albums matching the naming
// convention and serves ranged reads directly off disk, mirroring the
// teacher's LocalFS.GetRange (seek + io.LimitReader) for the hot path.
type Provider struct {
	root     string
	resolver metadata.Resolver
	log      *slog.Logger
	strict   bool
	maxLayer int

	mu         sync.RWMutex
	albumPath  map[uuid.UUID]string   // album_id -> album root directory
	albumDiscs map[uuid.UUID][]string // album_id -> ordered disc directories (multi-disc only)
}

// Option configures a Provider beyond its required constructor args.
type Option func(*Provider)

// WithStrict causes Reload to fail outright when a directory matches
// the album naming convention but the metadata resolver has no match
// for it, instead of logging a warning and skipping it.
func WithStrict(strict bool) Option {
	return func(p *Provider) { p.strict = strict }
}

// WithMaxLayer overrides how many directory levels below root Reload
// will search; 0 keeps the default.
func WithMaxLayer(layer int) Option {
	return func(p *Provider) {
		if layer > 0 {
			p.maxLayer = layer
		}
	}
}

// New returns a Provider rooted at root. Call Reload before first use.
func New(root string, resolver metadata.Resolver, log *slog.Logger, opts ...Option) *Provider {
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{
		root:       root,
		resolver:   resolver,
		log:        log,
		maxLayer:   defaultMaxLayer,
		albumPath:  make(map[uuid.UUID]string),
		albumDiscs: make(map[uuid.UUID][]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Albums implements provider.Provider.
func (p *Provider) Albums(context.Context) (map[uuid.UUID]struct{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uuid.UUID]struct{}, len(p.albumPath))
	for id := range p.albumPath {
		out[id] = struct{}{}
	}
	return out, nil
}

// HasAlbum implements provider.Provider: O(1), no I/O.
func (p *Provider) HasAlbum(albumID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.albumPath[albumID]
	return ok
}

// GetAudioInfo implements provider.Provider by synthesizing from a
// FLAC-header-only read, cheaper than a dedicated metadata call.
func (p *Provider) GetAudioInfo(ctx context.Context, track catalog.TrackIdentifier) (provider.AudioInfo, error) {
	res, err := p.GetAudio(ctx, track, catalog.FlacHeader())
	if err != nil {
		return provider.AudioInfo{}, err
	}
	_ = res.Reader.Close()
	return res.Info, nil
}

// discDir resolves the directory holding the given disc's tracks.
func (p *Provider) discDir(albumID uuid.UUID, discID uint8) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if discs, ok := p.albumDiscs[albumID]; ok {
		if int(discID) < 1 || int(discID) > len(discs) {
			return "", fmt.Errorf("%w: disc %d out of range for album %s", provider.ErrNotFound, discID, albumID)
		}
		return discs[discID-1], nil
	}
	if root, ok := p.albumPath[albumID]; ok {
		return root, nil
	}
	return "", fmt.Errorf("%w: album %s", provider.ErrNotFound, albumID)
}

// albumDir resolves the album's own root directory (for single-disc
// covers and the album-level cover).
func (p *Provider) albumDir(albumID uuid.UUID) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	root, ok := p.albumPath[albumID]
	if !ok {
		return "", fmt.Errorf("%w: album %s", provider.ErrNotFound, albumID)
	}
	return root, nil
}

// GetAudio implements provider.Provider.
func (p *Provider) GetAudio(_ context.Context, track catalog.TrackIdentifier, rng catalog.Range) (provider.AudioResourceReader, error) {
	dir, err := p.discDir(track.AlbumID, track.DiscID)
	if err != nil {
		return provider.AudioResourceReader{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return provider.AudioResourceReader{}, fmt.Errorf("provider: read disc dir %q: %w", dir, err)
	}
	prefix := provider.TrackFilePrefix(track.TrackID)
	var filePath string
	for _, e := range entries {
		if !e.IsDir() && hasPrefix(e.Name(), prefix) {
			filePath = filepath.Join(dir, e.Name())
			break
		}
	}
	if filePath == "" {
		return provider.AudioResourceReader{}, fmt.Errorf("%w: track %s not found in %q", provider.ErrNotFound, track, dir)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return provider.AudioResourceReader{}, fmt.Errorf("provider: open %q: %w", filePath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return provider.AudioResourceReader{}, fmt.Errorf("provider: stat %q: %w", filePath, err)
	}
	fileSize := uint64(fi.Size())

	if _, err := f.Seek(int64(rng.Start), io.SeekStart); err != nil {
		f.Close()
		return provider.AudioResourceReader{}, fmt.Errorf("%w: seek %q: %v", provider.ErrInvalidRange, filePath, err)
	}

	limited := &limitedReadCloser{r: io.LimitReader(f, int64(rng.LengthLimit(fileSize))), c: f}

	var duration float64
	var headerReader io.ReadCloser = limited
	if rng.ContainsFlacHeader() {
		info, rest, perr := flacinfo.Peek(limited)
		if perr == nil {
			duration = info.Duration()
		}
		headerReader = rest
	}

	return provider.AudioResourceReader{
		Info: provider.AudioInfo{
			Extension: extensionOf(filePath),
			Size:      fileSize,
			Duration:  duration,
		},
		Range:  rng.EndWith(fileSize),
		Reader: headerReader,
	}, nil
}

// GetCover implements provider.Provider.
func (p *Provider) GetCover(_ context.Context, albumID uuid.UUID, discID *uint8) (io.ReadCloser, error) {
	var dir string
	var err error
	if discID != nil {
		dir, err = p.discDir(albumID, *discID)
	} else {
		dir, err = p.albumDir(albumID)
	}
	if err != nil {
		return nil, err
	}
	coverPath := filepath.Join(dir, "cover.jpg")
	f, err := os.Open(coverPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cover for album %s: %v", provider.ErrNotFound, albumID, err)
	}
	return f, nil
}

// Reload implements provider.Provider: walks the tree off to the side
// and swaps the new index in under the write lock.
func (p *Provider) Reload(ctx context.Context) error {
	if err := p.resolver.Reload(ctx); err != nil {
		return fmt.Errorf("provider: reload metadata resolver: %w", err)
	}

	newPath := make(map[uuid.UUID]string)
	newDiscs := make(map[uuid.UUID][]string)

	type visit struct {
		dir   string
		depth int
	}
	toVisit := []visit{{dir: p.root, depth: 0}}
	for len(toVisit) > 0 {
		v := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]

		entries, err := os.ReadDir(v.dir)
		if err != nil {
			return fmt.Errorf("provider: walk %q: %w", v.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(v.dir, e.Name())
			info, err := provider.ParseAlbumFolderName(e.Name())
			if err != nil {
				// Doesn't match the album convention; it might still
				// contain albums nested deeper, up to maxLayer.
				if v.depth+1 < p.maxLayer {
					toVisit = append(toVisit, visit{dir: path, depth: v.depth + 1})
				}
				continue
			}

			discDirs, discCount := discoverDiscs(path)
			albumID, ok, err := p.resolver.MatchAlbum(ctx, info.Catalog, info.ReleaseDate, discCount, info.Title)
			if err != nil {
				return fmt.Errorf("provider: match album %q: %w", info.Catalog, err)
			}
			if !ok {
				if p.strict {
					return fmt.Errorf("%w: no metadata match for catalog %q (path %q)", provider.ErrNotFound, info.Catalog, path)
				}
				p.log.Warn("album id not found, ignoring", "catalog", info.Catalog, "path", path)
				continue
			}
			newPath[albumID] = path
			if discCount > 1 {
				newDiscs[albumID] = discDirs
			}
		}
	}

	p.mu.Lock()
	p.albumPath = newPath
	p.albumDiscs = newDiscs
	p.mu.Unlock()
	return nil
}

// discoverDiscs lists albumDir's immediate subdirectories matching the
// disc convention, sorted by disc index, and reports the disc count
// (1 when no subdirectory matches, i.e. a single-disc album).
func discoverDiscs(albumDir string) (dirs []string, count int) {
	entries, err := os.ReadDir(albumDir)
	if err != nil {
		return nil, 1
	}
	type indexed struct {
		idx int
		dir string
	}
	var found []indexed
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		_, _, idx, err := provider.ParseDiscFolderName(e.Name())
		if err != nil {
			continue
		}
		found = append(found, indexed{idx: idx, dir: filepath.Join(albumDir, e.Name())})
	}
	if len(found) == 0 {
		return nil, 1
	}
	sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	dirs = make([]string, len(found))
	for i, f := range found {
		dirs[i] = f.dir
	}
	return dirs, len(dirs)
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func extensionOf(path string) string {
	ext := filepath.Ext(path)
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	return ext
}

// limitedReadCloser pairs a bounded reader with the underlying file's
// Close, matching the teacher's objstore.limitedReadCloser.
type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
