package catalog

import "testing"

func u64p(v uint64) *uint64 { return &v }

func TestParseRequestHeaderBareDash(t *testing.T) {
	r, err := ParseRequestHeader("bytes=-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Start != 0 || r.End == nil || *r.End != 1023 {
		t.Fatalf("expected FLAC header sub-range, got %+v", r)
	}
}

func TestParseRequestHeaderBounded(t *testing.T) {
	r, err := ParseRequestHeader("bytes=100-199")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Start != 100 || r.End == nil || *r.End != 199 {
		t.Fatalf("got %+v", r)
	}
	length, ok := r.Length()
	if !ok || length != 100 {
		t.Fatalf("expected length 100, got %d ok=%v", length, ok)
	}
}

func TestParseRequestHeaderEndBeforeStart(t *testing.T) {
	if _, err := ParseRequestHeader("bytes=100-50"); err == nil {
		t.Fatal("expected error for end < start")
	}
}

func TestContentRangeRoundTrip(t *testing.T) {
	r := Range{Start: 100, End: u64p(199), Total: u64p(4567890)}
	header := r.ToContentRangeHeader()
	if header != "bytes 100-199/4567890" {
		t.Fatalf("got %q", header)
	}
}

func TestEndWithClampsUnboundedEnd(t *testing.T) {
	r := Range{Start: 10}
	out := r.EndWith(100)
	if out.End == nil || *out.End != 99 {
		t.Fatalf("expected end clamped to 99, got %+v", out)
	}
	if out.Total == nil || *out.Total != 100 {
		t.Fatalf("expected total 100, got %+v", out)
	}
}

func TestEndWithLengthNeverExceedsRemaining(t *testing.T) {
	r := Range{Start: 10}
	out := r.EndWith(100)
	length, ok := out.Length()
	if !ok {
		t.Fatal("expected bounded length after EndWith")
	}
	if length > 100-r.Start {
		t.Fatalf("length %d exceeds remaining %d", length, 100-r.Start)
	}
}

func TestLengthLimitDoesNotRunPastEOF(t *testing.T) {
	end := uint64(1000)
	r := Range{Start: 50, End: &end}
	if got := r.LengthLimit(60); got != 10 {
		t.Fatalf("expected 10 bytes to EOF, got %d", got)
	}
}

func TestLengthLimitStartPastEOF(t *testing.T) {
	r := Range{Start: 1000}
	if got := r.LengthLimit(60); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestContainsFlacHeader(t *testing.T) {
	if !Full().ContainsFlacHeader() {
		t.Fatal("full range should contain the header")
	}
	if !FlacHeader().ContainsFlacHeader() {
		t.Fatal("flac header sub-range should contain the header")
	}
	r, _ := ParseRequestHeader("bytes=100-199")
	if r.ContainsFlacHeader() {
		t.Fatal("range starting at 100 must not contain the header")
	}
	small := Range{Start: 0, End: u64p(10)}
	if small.ContainsFlacHeader() {
		t.Fatal("range 0-10 is too short to contain the stream-info block")
	}
}

func TestParseContentRangeHeader(t *testing.T) {
	r := ParseContentRangeHeader("bytes 0-1023/4567890")
	if r.Start != 0 || r.End == nil || *r.End != 1023 || r.Total == nil || *r.Total != 4567890 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseContentRangeHeaderInvalid(t *testing.T) {
	r := ParseContentRangeHeader("garbage")
	if !r.IsFull() {
		t.Fatalf("expected full range fallback, got %+v", r)
	}
}
