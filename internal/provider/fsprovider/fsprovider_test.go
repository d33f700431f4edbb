package fsprovider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hollowsky/annex/internal/catalog"
)

type fakeResolver struct {
	albumID uuid.UUID
}

func (f *fakeResolver) MatchAlbum(_ context.Context, catalog, releaseDate string, discCount int, title string) (uuid.UUID, bool, error) {
	if catalog == "KSLA-0178" {
		return f.albumID, true, nil
	}
	return uuid.Nil, false, nil
}

func (f *fakeResolver) Reload(context.Context) error { return nil }

func writeFlacLike(t *testing.T, path string, payload []byte) {
	t.Helper()
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFilesystemProviderDiscoverAndRead(t *testing.T) {
	root := t.TempDir()
	albumDir := filepath.Join(root, "[241225][KSLA-0178] Sweet Time")
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("not really flac but long enough to range over 0123456789")
	writeFlacLike(t, filepath.Join(albumDir, "01. Intro.flac"), content)

	albumID := uuid.New()
	p := New(root, &fakeResolver{albumID: albumID}, nil)
	if err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !p.HasAlbum(albumID) {
		t.Fatal("expected album to be indexed")
	}

	track, err := catalog.New(albumID, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.GetAudio(context.Background(), track, catalog.Full())
	if err != nil {
		t.Fatalf("get audio: %v", err)
	}
	defer res.Reader.Close()
	got, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
	if res.Info.Size != uint64(len(content)) {
		t.Fatalf("size = %d, want %d", res.Info.Size, len(content))
	}
}

func TestFilesystemProviderStrictFailsOnUnmatchedCatalog(t *testing.T) {
	root := t.TempDir()
	albumDir := filepath.Join(root, "[241225][KSLA-9999] Unmatched")
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		t.Fatal(err)
	}

	p := New(root, &fakeResolver{}, nil, WithStrict(true))
	if err := p.Reload(context.Background()); err == nil {
		t.Fatal("expected strict mode to fail reload on an unmatched catalog")
	}
}

func TestFilesystemProviderLayerBoundsDescent(t *testing.T) {
	root := t.TempDir()
	// Nested two levels below root: root/unmatched/[catalog] album dir.
	// With maxLayer=1, Reload should never descend far enough to find it.
	nested := filepath.Join(root, "unmatched", "[241225][KSLA-0178] Sweet Time")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	albumID := uuid.New()
	p := New(root, &fakeResolver{albumID: albumID}, nil, WithMaxLayer(1))
	if err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.HasAlbum(albumID) {
		t.Fatal("expected the layer bound to prevent discovering the nested album")
	}
}

func TestFilesystemProviderMissingAlbum(t *testing.T) {
	root := t.TempDir()
	p := New(root, &fakeResolver{}, nil)
	if err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.HasAlbum(uuid.New()) {
		t.Fatal("expected no albums indexed in an empty root")
	}
}
