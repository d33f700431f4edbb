// Package driveprovider implements a provider.Provider backed by a
// Google Drive folder tree, using the same directory-name convention
// as the filesystem provider but resolving everything through Drive
// API calls instead of local syscalls.
package driveprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"google.golang.org/api/drive/v3"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/flacinfo"
	"github.com/hollowsky/annex/internal/metadata"
	"github.com/hollowsky/annex/internal/provider"
)

// outstandingRequests bounds concurrent calls against the Drive API,
// matching the upstream project's semaphore width for this provider.
const outstandingRequests = 100

// Settings configures where in a shared drive this provider looks for
// albums.
type Settings struct {
	Corpora   string // "user" or "drive"
	DriveID   string // required when Corpora == "drive"
	Strict    bool
}

type discState struct {
	resolved bool
	folders  []string // disc index order; folder IDs
}

type audioMeta struct {
	extension string
	size      uint64
}

// Provider implements provider.Provider against a Google Drive
// folder tree.
type Provider struct {
	svc      *drive.Service
	resolver metadata.Resolver
	settings Settings
	log      *slog.Logger
	sem      *semaphore.Weighted

	mu      sync.RWMutex
	folders map[uuid.UUID]string    // album_id -> top-level folder id
	discs   map[uuid.UUID]discState // present only for multi-disc albums
	files   map[string]string       // "album/disc/track" -> file id
	audios  map[string]audioMeta    // file id -> metadata
}

// New returns a Provider using svc to talk to the Drive API.
func New(svc *drive.Service, resolver metadata.Resolver, settings Settings, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		svc:      svc,
		resolver: resolver,
		settings: settings,
		log:      log,
		sem:      semaphore.NewWeighted(outstandingRequests),
		folders:  make(map[uuid.UUID]string),
		discs:    make(map[uuid.UUID]discState),
		files:    make(map[string]string),
		audios:   make(map[string]audioMeta),
	}
}

func (p *Provider) prepareList(query string) *drive.FilesListCall {
	call := p.svc.Files.List().
		Q(query).
		Corpora(p.settings.Corpora).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(500).
		Fields("nextPageToken, files(id, name, mimeType)")
	if p.settings.DriveID != "" {
		call = call.DriveId(p.settings.DriveID)
	}
	return call
}

func (p *Provider) listAll(ctx context.Context, query string) ([]*drive.File, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	var out []*drive.File
	pageToken := ""
	for {
		call := p.prepareList(query)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("%w: drive list %q: %v", provider.ErrUpstream, query, err)
		}
		out = append(out, res.Files...)
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	return out, nil
}

// Albums implements provider.Provider.
func (p *Provider) Albums(context.Context) (map[uuid.UUID]struct{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uuid.UUID]struct{}, len(p.folders))
	for id := range p.folders {
		out[id] = struct{}{}
	}
	return out, nil
}

// HasAlbum implements provider.Provider.
func (p *Provider) HasAlbum(albumID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.folders[albumID]
	return ok
}

// Reload implements provider.Provider: lists top-level folders in the
// configured corpus, matches each against the album naming
// convention, and resolves its disc count (via a subfolder probe, not
// the folder name) before asking the metadata resolver for an album
// id. The disc-count probe costs one subfolder listing call per
// matching album. The disc *folder ids* it sees are not kept: they are
// left unresolved (pending) for multi-disc albums and listed again on
// first need — see cacheDiscs.
func (p *Provider) Reload(ctx context.Context) error {
	if err := p.resolver.Reload(ctx); err != nil {
		return fmt.Errorf("driveprovider: reload metadata resolver: %w", err)
	}

	files, err := p.listAll(ctx, "mimeType='application/vnd.google-apps.folder' and trashed=false")
	if err != nil {
		return err
	}

	newFolders := make(map[uuid.UUID]string)
	newDiscs := make(map[uuid.UUID]discState)

	for _, f := range files {
		info, err := provider.ParseAlbumFolderName(f.Name)
		if err != nil {
			continue
		}
		discCount, err := p.probeDiscCount(ctx, f.Id)
		if err != nil {
			return err
		}
		albumID, ok, err := p.resolver.MatchAlbum(ctx, info.Catalog, info.ReleaseDate, discCount, info.Title)
		if err != nil {
			return fmt.Errorf("driveprovider: match album %q: %w", info.Catalog, err)
		}
		if !ok {
			if p.settings.Strict {
				return fmt.Errorf("%w: no metadata match for catalog %q (folder %q)", provider.ErrNotFound, info.Catalog, f.Name)
			}
			p.log.Warn("album id not found, ignoring", "catalog", info.Catalog, "folder", f.Name)
			continue
		}
		newFolders[albumID] = f.Id
		if discCount > 1 {
			newDiscs[albumID] = discState{resolved: false}
		}
	}

	p.mu.Lock()
	p.folders = newFolders
	p.discs = newDiscs
	p.files = make(map[string]string)
	p.audios = make(map[string]audioMeta)
	p.mu.Unlock()
	return nil
}

// probeDiscCount lists albumFolderID's immediate subfolders and counts
// how many match the disc naming convention, mirroring fsprovider's
// directory probe so both providers compute disc_count identically.
func (p *Provider) probeDiscCount(ctx context.Context, albumFolderID string) (int, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false", albumFolderID)
	children, err := p.listAll(ctx, query)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range children {
		if _, _, _, err := provider.ParseDiscFolderName(c.Name); err == nil {
			count++
		}
	}
	if count == 0 {
		return 1, nil
	}
	return count, nil
}

// cacheDiscs resolves albumID's disc folder ids on first need. It is a
// no-op unless discs[albumID] exists and is still pending: an absent
// entry means the album was never multi-disc, and an already-resolved
// entry means nothing to do. This mirrors the "Some(vec) done, None
// pending, absent not-multi-disc" three-state sentinel the upstream
// project's cache uses for this exact memoization.
func (p *Provider) cacheDiscs(ctx context.Context, albumID uuid.UUID) error {
	p.mu.RLock()
	state, tracked := p.discs[albumID]
	folderID := p.folders[albumID]
	p.mu.RUnlock()
	if !tracked || state.resolved {
		return nil
	}

	query := fmt.Sprintf("'%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false", folderID)
	children, err := p.listAll(ctx, query)
	if err != nil {
		return err
	}
	type indexed struct {
		idx int
		id  string
	}
	var found []indexed
	for _, c := range children {
		if _, _, idx, err := provider.ParseDiscFolderName(c.Name); err == nil {
			found = append(found, indexed{idx: idx, id: c.Id})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}

	p.mu.Lock()
	p.discs[albumID] = discState{resolved: true, folders: ids}
	p.mu.Unlock()
	return nil
}

// parentFolder returns the Drive folder id holding track's audio
// files: the disc folder for multi-disc albums, the album folder
// otherwise.
func (p *Provider) parentFolder(ctx context.Context, track catalog.TrackIdentifier) (string, error) {
	if err := p.cacheDiscs(ctx, track.AlbumID); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if state, ok := p.discs[track.AlbumID]; ok {
		if int(track.DiscID) < 1 || int(track.DiscID) > len(state.folders) {
			return "", fmt.Errorf("%w: disc %d out of range for album %s", provider.ErrNotFound, track.DiscID, track.AlbumID)
		}
		return state.folders[track.DiscID-1], nil
	}
	folderID, ok := p.folders[track.AlbumID]
	if !ok {
		return "", fmt.Errorf("%w: album %s", provider.ErrNotFound, track.AlbumID)
	}
	return folderID, nil
}

// resolveTrackFile finds the Drive file id backing a track, caching
// the result. Candidates are matched by "starts with {NN}." rather
// than mere substring containment, so e.g. track 1 never matches a
// file named "11. Encore.flac".
func (p *Provider) resolveTrackFile(ctx context.Context, track catalog.TrackIdentifier) (string, audioMeta, error) {
	key := fmt.Sprintf("%s/%d/%d", track.AlbumID, track.DiscID, track.TrackID)

	p.mu.RLock()
	if fileID, ok := p.files[key]; ok {
		meta := p.audios[fileID]
		p.mu.RUnlock()
		return fileID, meta, nil
	}
	p.mu.RUnlock()

	parent, err := p.parentFolder(ctx, track)
	if err != nil {
		return "", audioMeta{}, err
	}

	prefix := provider.TrackFilePrefix(track.TrackID)
	query := fmt.Sprintf("'%s' in parents and name contains '%s' and trashed=false", parent, prefix)
	candidates, err := p.listAll(ctx, query)
	if err != nil {
		return "", audioMeta{}, err
	}

	var best *drive.File
	for _, c := range candidates {
		if strings.HasPrefix(c.Name, prefix) {
			best = c
			break
		}
	}
	if best == nil {
		return "", audioMeta{}, fmt.Errorf("%w: track %s not found under folder %s", provider.ErrNotFound, track, parent)
	}

	size, ext, err := p.statFile(ctx, best.Id, best.Name)
	if err != nil {
		return "", audioMeta{}, err
	}
	meta := audioMeta{extension: ext, size: size}

	p.mu.Lock()
	p.files[key] = best.Id
	p.audios[best.Id] = meta
	p.mu.Unlock()

	return best.Id, meta, nil
}

func (p *Provider) statFile(ctx context.Context, fileID, name string) (uint64, string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, "", err
	}
	defer p.sem.Release(1)

	f, err := p.svc.Files.Get(fileID).SupportsAllDrives(true).Fields("size").Context(ctx).Do()
	if err != nil {
		return 0, "", fmt.Errorf("%w: drive stat %q: %v", provider.ErrUpstream, fileID, err)
	}
	return uint64(f.Size), extensionOf(name), nil
}

func extensionOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}

// GetAudioInfo implements provider.Provider.
func (p *Provider) GetAudioInfo(ctx context.Context, track catalog.TrackIdentifier) (provider.AudioInfo, error) {
	res, err := p.GetAudio(ctx, track, catalog.FlacHeader())
	if err != nil {
		return provider.AudioInfo{}, err
	}
	_ = res.Reader.Close()
	return res.Info, nil
}

// GetAudio implements provider.Provider.
func (p *Provider) GetAudio(ctx context.Context, track catalog.TrackIdentifier, rng catalog.Range) (provider.AudioResourceReader, error) {
	fileID, meta, err := p.resolveTrackFile(ctx, track)
	if err != nil {
		return provider.AudioResourceReader{}, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return provider.AudioResourceReader{}, err
	}
	defer p.sem.Release(1)

	call := p.svc.Files.Get(fileID).SupportsAllDrives(true)
	call.Header().Set("Range", rng.ToRequestHeader())
	resp, err := call.Context(ctx).Download()
	if err != nil {
		return provider.AudioResourceReader{}, fmt.Errorf("%w: drive download %q: %v", provider.ErrUpstream, fileID, err)
	}

	effRange := rng.EndWith(meta.size)
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		effRange = catalog.ParseContentRangeHeader(cr)
	}

	var duration float64
	var reader io.ReadCloser = resp.Body
	if rng.ContainsFlacHeader() {
		info, rest, perr := flacinfo.Peek(reader)
		if perr == nil {
			duration = info.Duration()
		}
		reader = rest
	}

	return provider.AudioResourceReader{
		Info: provider.AudioInfo{
			Extension: meta.extension,
			Size:      meta.size,
			Duration:  duration,
		},
		Range:  effRange,
		Reader: reader,
	}, nil
}

// GetCover implements provider.Provider.
func (p *Provider) GetCover(ctx context.Context, albumID uuid.UUID, discID *uint8) (io.ReadCloser, error) {
	var folderID string
	var err error
	if discID != nil {
		track := catalog.TrackIdentifier{AlbumID: albumID, DiscID: *discID, TrackID: 1}
		folderID, err = p.parentFolder(ctx, track)
	} else {
		p.mu.RLock()
		var ok bool
		folderID, ok = p.folders[albumID]
		p.mu.RUnlock()
		if !ok {
			err = fmt.Errorf("%w: album %s", provider.ErrNotFound, albumID)
		}
	}
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and mimeType='image/jpeg' and name='cover.jpg' and trashed=false", folderID)
	matches, err := p.listAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: cover for album %s", provider.ErrNotFound, albumID)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	resp, err := p.svc.Files.Get(matches[0].Id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("%w: drive download cover %q: %v", provider.ErrUpstream, matches[0].Id, err)
	}
	return resp.Body, nil
}
