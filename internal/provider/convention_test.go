package provider

import "testing"

func TestParseAlbumFolderName(t *testing.T) {
	info, err := ParseAlbumFolderName("[241225][KSLA-0178] Sweet Time")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ReleaseDate != "241225" || info.Catalog != "KSLA-0178" || info.Title != "Sweet Time" {
		t.Fatalf("got %+v", info)
	}
}

func TestParseAlbumFolderNameWithEdition(t *testing.T) {
	info, err := ParseAlbumFolderName("[241225][KSLA-0178] Sweet Time【初回限定盤】")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Title != "Sweet Time" {
		t.Fatalf("expected edition suffix stripped, got title %q", info.Title)
	}
}

func TestParseAlbumFolderNameRejectsNonConvention(t *testing.T) {
	if _, err := ParseAlbumFolderName("just a folder"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseDiscFolderName(t *testing.T) {
	catalog, title, idx, err := ParseDiscFolderName("[KSLA-0178] Sweet Time [Disc 2]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if catalog != "KSLA-0178" || title != "Sweet Time" || idx != 2 {
		t.Fatalf("got catalog=%q title=%q idx=%d", catalog, title, idx)
	}
}

func TestTrackFilePrefix(t *testing.T) {
	if got := TrackFilePrefix(1); got != "01." {
		t.Fatalf("got %q", got)
	}
	if got := TrackFilePrefix(11); got != "11." {
		t.Fatalf("got %q", got)
	}
}
