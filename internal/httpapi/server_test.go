package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hollowsky/annex/internal/auth"
	"github.com/hollowsky/annex/internal/catalog"
	"github.com/hollowsky/annex/internal/provider"
)

type fakeProvider struct {
	albumID     uuid.UUID
	body        string
	info        provider.AudioInfo
	reloads     int
	missesAudio bool // when true, GetAudio reports provider.ErrNotFound
}

func newFakeProvider() *fakeProvider {
	id := uuid.New()
	body := "flac-bytes-0123456789"
	return &fakeProvider{
		albumID: id,
		body:    body,
		info:    provider.AudioInfo{Extension: "flac", Size: uint64(len(body)), Duration: 12.5},
	}
}

func (p *fakeProvider) Albums(context.Context) (map[uuid.UUID]struct{}, error) {
	return map[uuid.UUID]struct{}{p.albumID: {}}, nil
}

func (p *fakeProvider) HasAlbum(id uuid.UUID) bool { return id == p.albumID }

func (p *fakeProvider) GetAudioInfo(context.Context, catalog.TrackIdentifier) (provider.AudioInfo, error) {
	return p.info, nil
}

func (p *fakeProvider) GetAudio(_ context.Context, _ catalog.TrackIdentifier, rng catalog.Range) (provider.AudioResourceReader, error) {
	if p.missesAudio {
		return provider.AudioResourceReader{}, fmt.Errorf("%w: track", provider.ErrNotFound)
	}
	start := rng.Start
	end := uint64(len(p.body))
	if e, ok := rng.Length(); ok {
		if start+e < end {
			end = start + e
		}
	}
	slice := p.body[start:end]
	return provider.AudioResourceReader{
		Info:   p.info,
		Range:  rng.EndWith(uint64(len(p.body))),
		Reader: io.NopCloser(strings.NewReader(slice)),
	}, nil
}

func (p *fakeProvider) GetCover(context.Context, uuid.UUID, *uint8) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("jpeg-bytes")), nil
}

func (p *fakeProvider) Reload(context.Context) error {
	p.reloads++
	return nil
}

func testVerifier() *auth.Verifier {
	return &auth.Verifier{
		SignKey:    []byte("sign-secret"),
		ShareKey:   []byte("share-secret"),
		ShareKeyID: "k1",
		AdminToken: "admin-secret",
	}
}

func newTestServer(t *testing.T) (*Server, *fakeProvider, *auth.Verifier) {
	t.Helper()
	p := newFakeProvider()
	v := testVerifier()
	s := New("annex-test", p, v, nil)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("initial Reload: %v", err)
	}
	return s, p, v
}

func TestReadyzBeforeAndAfterReload(t *testing.T) {
	p := newFakeProvider()
	v := testVerifier()
	s := New("annex-test", p, v, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first reload, got %d", rr.Code)
	}

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	req2 := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200 after reload, got %d", rr2.Code)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestAlbumsListAndConditionalRequest(t *testing.T) {
	s, p, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/albums", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), p.albumID.String()) {
		t.Fatalf("expected album id in body, got %q", rr.Body.String())
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag header")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/albums", nil)
	req2.Header.Set("If-None-Match", etag)
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr2.Code)
	}
}

func issueUserToken(t *testing.T, v *auth.Verifier) string {
	t.Helper()
	tok, err := v.IssueUser("user-1", nil)
	if err != nil {
		t.Fatalf("IssueUser: %v", err)
	}
	return tok
}

func TestHandleAudioRequiresAuth(t *testing.T) {
	s, p, _ := newTestServer(t)
	path := "/" + p.albumID.String() + "/1/1"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}
}

func TestHandleAudioServesFullBodyForUserToken(t *testing.T) {
	s, p, v := newTestServer(t)
	tok := issueUserToken(t, v)

	path := "/" + p.albumID.String() + "/1/1?quality=lossless"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != p.body {
		t.Fatalf("got body %q, want %q", rr.Body.String(), p.body)
	}
	if rr.Header().Get("X-Audio-Quality") != "lossless" {
		t.Fatalf("expected lossless quality header, got %q", rr.Header().Get("X-Audio-Quality"))
	}
}

func TestHandleAudioMissingTrackSetsCacheControlPrivate(t *testing.T) {
	s, p, v := newTestServer(t)
	p.missesAudio = true
	tok := issueUserToken(t, v)

	path := "/" + p.albumID.String() + "/1/1"
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", method, rr.Code)
		}
		if got := rr.Header().Get("Cache-Control"); got != "private" {
			t.Fatalf("%s: expected Cache-Control: private, got %q", method, got)
		}
	}
}

func TestHandleAudioPartialContent(t *testing.T) {
	s, p, v := newTestServer(t)
	tok := issueUserToken(t, v)

	path := "/" + p.albumID.String() + "/1/1?quality=lossless"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Range", "bytes=5-9")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if rr.Body.String() != p.body[5:10] {
		t.Fatalf("got %q, want %q", rr.Body.String(), p.body[5:10])
	}
}

func TestHandleAudioGuestDowngradedFromLossless(t *testing.T) {
	s, p, v := newTestServer(t)
	tok, err := v.IssueShare(map[string]auth.DiscTracks{
		p.albumID.String(): {"1": {1}},
	})
	if err != nil {
		t.Fatalf("IssueShare: %v", err)
	}

	path := "/" + p.albumID.String() + "/1/1?quality=lossless"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Audio-Quality"); got != "medium" {
		t.Fatalf("expected guest downgrade to medium, got %q", got)
	}
}

func TestHandleAudioShareTokenOutsideGrantIsUnauthorized(t *testing.T) {
	s, p, v := newTestServer(t)
	tok, err := v.IssueShare(map[string]auth.DiscTracks{
		p.albumID.String(): {"1": {2}}, // only track 2 allowed
	})
	if err != nil {
		t.Fatalf("IssueShare: %v", err)
	}

	path := "/" + p.albumID.String() + "/1/1"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleAdminReloadRequiresAdminToken(t *testing.T) {
	s, p, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	req2.Header.Set("Authorization", "Bearer admin-secret")
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin token, got %d", rr2.Code)
	}
	if p.reloads == 0 {
		t.Fatal("expected Reload to have been invoked on the provider")
	}
}

func TestHandleAdminSignRequiresUserTokenWithShareGrant(t *testing.T) {
	s, _, v := newTestServer(t)

	noGrant := issueUserToken(t, v)
	req := httptest.NewRequest(http.MethodPost, "/admin/sign", strings.NewReader(`{"audios":{}}`))
	req.Header.Set("Authorization", "Bearer "+noGrant)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a user token with no share grant, got %d", rr.Code)
	}

	withGrant, err := v.IssueUser("user-1", &auth.ShareGrant{KeyID: "g1", Secret: "s"})
	if err != nil {
		t.Fatalf("IssueUser: %v", err)
	}
	req2 := httptest.NewRequest(http.MethodPost, "/admin/sign", strings.NewReader(`{"audios":{}}`))
	req2.Header.Set("Authorization", "Bearer "+withGrant)
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestExtractTokenFallsBackToQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?auth=abc123", nil)
	if got := auth.ExtractToken(req); got != "abc123" {
		t.Fatalf("got %q, want %q", got, "abc123")
	}
}
