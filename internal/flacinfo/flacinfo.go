// Package flacinfo parses the leading STREAMINFO metadata block out of
// a FLAC stream, just enough to report duration. Everything else about
// the FLAC format (comments, pictures, cuesheets, re-encoding) is
// explicitly out of scope for this service.
package flacinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// StreamInfo holds the subset of the STREAMINFO block this service
// needs to compute duration.
type StreamInfo struct {
	SampleRate   uint32
	Channels     uint8
	BitsPerSample uint8
	TotalSamples uint64
}

// Duration returns the track length in seconds, or 0 if either field
// needed to compute it is unknown (TotalSamples == 0 is the FLAC
// convention for "unknown length", e.g. a live stream capture).
func (s StreamInfo) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(s.TotalSamples) / float64(s.SampleRate)
}

// magic is the 4-byte "fLaC" stream marker.
var magic = [4]byte{'f', 'L', 'a', 'C'}

// Parse reads the "fLaC" marker and the first metadata block (which
// the format guarantees is STREAMINFO) from r. r must supply at least
// 42 bytes, the magic number included; a caller streaming a byte range
// should request a range wide enough to cover this (see
// catalog.FlacHeader, which reserves 1024 bytes for exactly this
// purpose).
func Parse(r io.Reader) (StreamInfo, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return StreamInfo{}, fmt.Errorf("flacinfo: read magic: %w", err)
	}
	if head != magic {
		return StreamInfo{}, fmt.Errorf("flacinfo: not a FLAC stream (got %q)", head)
	}

	var blockHeader [4]byte
	if _, err := io.ReadFull(r, blockHeader[:]); err != nil {
		return StreamInfo{}, fmt.Errorf("flacinfo: read block header: %w", err)
	}
	blockType := blockHeader[0] & 0x7F
	if blockType != 0 {
		return StreamInfo{}, fmt.Errorf("flacinfo: first metadata block is type %d, not STREAMINFO", blockType)
	}
	blockLen := uint32(blockHeader[1])<<16 | uint32(blockHeader[2])<<8 | uint32(blockHeader[3])
	if blockLen < 34 {
		return StreamInfo{}, fmt.Errorf("flacinfo: STREAMINFO block too short (%d bytes)", blockLen)
	}

	body := make([]byte, 34)
	if _, err := io.ReadFull(r, body); err != nil {
		return StreamInfo{}, fmt.Errorf("flacinfo: read STREAMINFO body: %w", err)
	}
	return parseBody(body), nil
}

// headerPeekBytes is how many leading bytes Peek buffers to hand to
// Parse: the 4-byte magic, 4-byte block header, and 34-byte STREAMINFO
// body.
const headerPeekBytes = 42

// Peek reads the leading headerPeekBytes off r, parses them as a
// STREAMINFO block, and returns a reader that replays those buffered
// bytes followed by the remainder of r — so a caller that only wants
// the duration doesn't have to sacrifice any of the stream it was
// asked to deliver. A parse failure still returns a valid replay
// reader alongside the error, so the caller can choose to ignore a
// failed parse and stream the bytes anyway.
func Peek(r io.ReadCloser) (StreamInfo, io.ReadCloser, error) {
	buf := make([]byte, headerPeekBytes)
	n, err := io.ReadFull(r, buf)
	replay := io.MultiReader(bytes.NewReader(buf[:n]), r)
	combined := struct {
		io.Reader
		io.Closer
	}{Reader: replay, Closer: r}
	if err != nil && err != io.ErrUnexpectedEOF {
		return StreamInfo{}, combined, err
	}
	info, perr := Parse(bytes.NewReader(buf[:n]))
	if perr != nil {
		return StreamInfo{}, combined, perr
	}
	return info, combined, nil
}

// parseBody decodes the 34-byte STREAMINFO payload. Layout (big-endian
// bit packing, per the FLAC format reference):
//
//	<16> min block size     <16> max block size
//	<24> min frame size     <24> max frame size
//	<20> sample rate  <3> channels-1  <5> bits/sample-1  <36> total samples
//	<128> md5 signature
//
// Sample rate, channel count, bit depth, and total sample count all
// live packed across the same 64-bit span starting at byte 10.
func parseBody(body []byte) StreamInfo {
	packed := binary.BigEndian.Uint64(body[10:18])
	sampleRate := uint32(packed >> 44)
	channels := uint8((packed>>41)&0x7) + 1
	bitsPerSample := uint8((packed>>36)&0x1F) + 1
	totalSamples := packed & 0xFFFFFFFFF // low 36 bits

	return StreamInfo{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		TotalSamples:  totalSamples,
	}
}
