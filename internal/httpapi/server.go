// Package httpapi is the HTTP surface of the service: token
// authentication and classification, range/quality negotiation, and
// the album-listing/reload/sign admin endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hollowsky/annex/internal/auth"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
	"github.com/hollowsky/annex/internal/transcode"
)

const (
	serverVersion  = "1.0.0"
	protocolVersion = "1"
)

// Server holds the one top-level shared state the spec describes:
// providers, the auth verifier, and the {etag, last_update} pair every
// mutation (reload) flows through. Reads take the read lock; reload
// takes the write lock only for the brief swap.
type Server struct {
	Name string

	providers provider.Provider
	verifier  *auth.Verifier
	log       *slog.Logger

	mu         sync.RWMutex
	etag       string
	lastUpdate time.Time
	ready      bool
}

// New builds a Server. Call Reload once before serving to populate the
// initial ETag.
func New(name string, providers provider.Provider, verifier *auth.Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Name: name, providers: providers, verifier: verifier, log: log}
}

// Router builds the chi router for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", healthz)
	r.Get("/readyz", s.readyz)

	r.Get("/info", s.handleInfo)
	r.Get("/albums", s.handleAlbums)
	r.Get("/cover/{album}", s.handleAlbumCover)
	r.Get("/cover/{album}/{disc}", s.handleDiscCover)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sign", s.handleAdminSign)
		r.Post("/reload", s.handleAdminReload)
	})

	r.Method(http.MethodGet, "/{album}/{disc}/{track}", http.HandlerFunc(s.handleAudio))
	r.Method(http.MethodHead, "/{album}/{disc}/{track}", http.HandlerFunc(s.handleAudio))

	return r
}

// Reload invokes reload() on every provider and bumps the ETag.
// Idempotent: reloading an unchanged store yields the same album set
// and the same ETag.
func (s *Server) Reload(ctx context.Context) error {
	if err := s.providers.Reload(ctx); err != nil {
		return err
	}
	albums, err := s.providers.Albums(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.etag = computeETag(albums)
	s.lastUpdate = time.Now()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Server) currentETag() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.etag, s.lastUpdate
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady() {
		http.Error(w, "providers: no successful reload yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type infoResponse struct {
	Version         string   `json:"version"`
	ProtocolVersion string   `json:"protocol_version"`
	Features        []string `json:"features"`
	LastUpdate      int64    `json:"last_update"`
	ETag            string   `json:"etag"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	etag, lastUpdate := s.currentETag()
	writeJSON(w, http.StatusOK, infoResponse{
		Version:         serverVersion,
		ProtocolVersion: protocolVersion,
		Features:        []string{"transcode", "range"},
		LastUpdate:      lastUpdate.Unix(),
		ETag:            etag,
	})
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	etag, _ := s.currentETag()
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	albums, err := s.providers.Albums(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list albums")
		return
	}
	ids := make([]string, 0, len(albums))
	for id := range albums {
		ids = append(ids, id.String())
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleAlbumCover(w http.ResponseWriter, r *http.Request) {
	albumID, err := uuid.Parse(chi.URLParam(r, "album"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown album")
		return
	}
	s.serveCover(w, r, albumID, nil)
}

func (s *Server) handleDiscCover(w http.ResponseWriter, r *http.Request) {
	albumID, err := uuid.Parse(chi.URLParam(r, "album"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown album")
		return
	}
	discID, err := parseUint8(chi.URLParam(r, "disc"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown disc")
		return
	}
	s.serveCover(w, r, albumID, &discID)
}

func (s *Server) serveCover(w http.ResponseWriter, r *http.Request, albumID uuid.UUID, discID *uint8) {
	rc, err := s.providers.GetCover(r.Context(), albumID, discID)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = ioCopy(w, rc)
}

func (s *Server) handleAdminSign(w http.ResponseWriter, r *http.Request) {
	raw := auth.ExtractToken(r)
	claims, err := s.verifier.Verify(raw)
	if err != nil || !claims.IsUser() || claims.Share == nil {
		writeError(w, http.StatusUnauthorized, "no share credentials on this token")
		return
	}

	var body struct {
		Audios map[string]auth.DiscTracks `json:"audios"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	tok, err := s.verifier.IssueShare(body.Audios)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if !s.verifier.IsAdmin(auth.ExtractToken(r)) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleAudio implements the core audio-streaming negotiation
// described in the HttpService audio negotiation algorithm: auth →
// range parse → quality negotiation → provider dispatch → headers.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	albumID, err := uuid.Parse(chi.URLParam(r, "album"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown album")
		return
	}
	discID, err := parseUint8(chi.URLParam(r, "disc"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown disc")
		return
	}
	trackID, err := parseUint8(chi.URLParam(r, "track"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown track")
		return
	}
	track, err := catalog.New(albumID, discID, trackID)
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid track identifier")
		return
	}

	claims, err := s.verifier.Verify(auth.ExtractToken(r))
	if err != nil || !claims.CanFetch(albumID, discID, trackID) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rng := catalog.Full()
	if rawRange := r.Header.Get("Range"); rawRange != "" {
		parsed, err := catalog.ParseRequestHeader(rawRange)
		if err != nil {
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
			return
		}
		rng = parsed
	}

	quality, err := transcode.ParseQuality(r.URL.Query().Get("quality"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if claims.IsShare() && quality == transcode.QualityLossless {
		// Guests are forced to medium or lower.
		quality = transcode.QualityMedium
	}
	needsTranscode := quality != transcode.QualityLossless
	if needsTranscode {
		// Partial content is incompatible with on-the-fly re-encoding.
		rng = catalog.Full()
	}

	res, err := s.providers.GetAudio(r.Context(), track, rng)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	defer res.Reader.Close()

	w.Header().Set("Access-Control-Expose-Headers",
		"Content-Range, Accept-Ranges, Content-Length, X-Origin-Type, X-Origin-Size, X-Duration-Seconds, X-Audio-Quality")
	w.Header().Set("X-Origin-Type", "audio/"+res.Info.Extension)
	w.Header().Set("X-Origin-Size", strconv.FormatUint(res.Info.Size, 10))
	w.Header().Set("X-Duration-Seconds", strconv.FormatFloat(res.Info.Duration, 'f', -1, 64))
	w.Header().Set("X-Audio-Quality", string(quality))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if needsTranscode {
		aac, err := transcode.ToAAC(r.Context(), res.Reader, quality)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "transcode failed")
			return
		}
		defer aac.Close()
		w.Header().Set("Content-Type", "audio/aac")
		_, _ = ioCopy(w, aac)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	length, hasLength := res.Range.Length()
	if !hasLength {
		length = res.Info.Size - res.Range.Start
	}
	w.Header().Set("Content-Length", strconv.FormatUint(length, 10))
	if res.Range.Start != 0 || (res.Range.End != nil && *res.Range.End+1 != res.Info.Size) {
		w.Header().Set("Content-Range", res.Range.ToContentRangeHeader())
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = ioCopy(w, res.Reader)
}

func parseUint8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid uint8 %q: %w", s, err)
	}
	return uint8(n), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case isErr(err, provider.ErrNotFound):
		// Mark the 404 itself as not cacheable by shared caches, since
		// "not found today" doesn't mean "not found tomorrow" once the
		// library is reloaded. The short text body is dropped by
		// net/http for HEAD requests.
		w.Header().Set("Cache-Control", "private")
		writeError(w, http.StatusNotFound, "not found")
	case isErr(err, provider.ErrInvalidRange):
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
	case isErr(err, provider.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, http.StatusInternalServerError, "upstream error")
	}
}
