// Package media wraps the ffmpeg and ffprobe binaries for the pipeline's
// video plumbing: probing clip properties, extracting anchor frames,
// sampling analysis frames, and concatenating finished segments.
//
// Render backends report completion the moment their output file lands on
// disk, so every operation that reads a fresh clip retries briefly before
// giving up.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Retry settings for operations on freshly written files. Variables so
// tests can shrink the delay.
var (
	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond
)

// Toolkit runs ffmpeg/ffprobe subprocesses. The zero value is not usable;
// call NewToolkit so missing binaries surface at startup rather than
// mid-scene.
type Toolkit struct {
	ffmpegPath  string
	ffprobePath string
}

// NewToolkit locates ffmpeg and ffprobe in PATH.
func NewToolkit() (*Toolkit, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	log.Debug().Str("ffmpeg", ffmpegPath).Str("ffprobe", ffprobePath).Msg("Media toolkit initialized")
	return &Toolkit{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// VideoInfo holds the clip properties the pipeline cares about.
type VideoInfo struct {
	Duration time.Duration
	FPS      float64
	Width    int
	Height   int
	Codec    string
}

// ffprobeOutput mirrors ffprobe's -print_format json structure.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// Probe inspects a video file with ffprobe.
func (t *Toolkit) Probe(ctx context.Context, videoPath string) (*VideoInfo, error) {
	var output []byte
	err := withRetry(ctx, "probe "+videoPath, func() error {
		cmd := exec.CommandContext(ctx, t.ffprobePath,
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			videoPath,
		)
		var err error
		output, err = cmd.Output()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", videoPath, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = time.Duration(dur * float64(time.Second))
		}
	}
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		if stream.RFrameRate != "" {
			info.FPS = parseFrameRate(stream.RFrameRate)
		}
		break
	}

	log.Debug().
		Str("path", videoPath).
		Dur("duration", info.Duration).
		Float64("fps", info.FPS).
		Int("width", info.Width).
		Int("height", info.Height).
		Str("codec", info.Codec).
		Msg("Video probed")
	return info, nil
}

// parseFrameRate parses ffprobe's rational frame rate (e.g. "24000/1001").
func parseFrameRate(value string) float64 {
	parts := strings.Split(value, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	rate, _ := strconv.ParseFloat(value, 64)
	return rate
}

// withRetry runs fn up to retryAttempts times, sleeping retryDelay between
// attempts. Covers the window where a backend has reported a file complete
// before its final flush is visible to us.
func withRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		log.Debug().Err(err).Str("op", what).Int("attempt", attempt).Msg("Media operation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return err
}
