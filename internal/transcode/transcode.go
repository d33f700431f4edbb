// Package transcode streams audio through ffmpeg for on-the-fly
// quality negotiation. Nothing is written to disk: ffmpeg reads the
// source from its stdin pipe and writes the re-encoded stream to its
// stdout pipe, which the caller forwards directly to the HTTP
// response.
package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// Quality is the negotiated output quality. Lossless bypasses
// transcoding entirely; every other value implies an AAC re-encode at
// the given bitrate.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
	QualityLossless Quality = "lossless"
)

// bitrates maps a negotiated quality to an ffmpeg AAC bitrate target.
var bitrates = map[Quality]string{
	QualityLow:    "96k",
	QualityMedium: "192k",
	QualityHigh:   "320k",
}

// ParseQuality validates a quality query parameter, defaulting to
// medium on an empty value and rejecting anything unrecognized.
func ParseQuality(raw string) (Quality, error) {
	switch Quality(raw) {
	case "":
		return QualityMedium, nil
	case QualityLow, QualityMedium, QualityHigh, QualityLossless:
		return Quality(raw), nil
	default:
		return "", fmt.Errorf("transcode: unrecognized quality %q", raw)
	}
}

// ToAAC pipes src through ffmpeg, re-encoding to AAC at the bitrate
// implied by quality, and returns a ReadCloser streaming the output.
// Closing it terminates the ffmpeg process if it is still running.
func ToAAC(ctx context.Context, src io.ReadCloser, quality Quality) (io.ReadCloser, error) {
	bitrate, ok := bitrates[quality]
	if !ok {
		return nil, fmt.Errorf("transcode: %q does not imply a re-encode", quality)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-map", "0:a:0",
		"-c:a", "aac",
		"-b:a", bitrate,
		"-vn",
		"-f", "adts",
		"pipe:1",
	)
	cmd.Stdin = src

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("transcode: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		src.Close()
		return nil, fmt.Errorf("transcode: start ffmpeg: %w", err)
	}

	return &process{cmd: cmd, stdout: stdout, src: src}, nil
}

// process adapts a running ffmpeg command to io.ReadCloser, closing
// the input source and waiting on the process when the consumer is
// done (or gives up).
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	src    io.ReadCloser
}

func (p *process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *process) Close() error {
	_ = p.src.Close()
	closeErr := p.stdout.Close()
	if err := p.cmd.Wait(); err != nil {
		slog.Debug("transcode: ffmpeg exited", "err", err)
	}
	return closeErr
}
