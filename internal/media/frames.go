package media

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// frameJPEGQuality is ffmpeg's qscale:v for extracted frames. 2 is high
// quality, which matters for anchor frames because the render backend
// conditions the next segment on them.
const frameJPEGQuality = 2

// ExtractLastFrame writes the final frame of a video to outputPath as JPEG.
// The extracted image anchors the next segment's generation.
func (t *Toolkit) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error {
	err := withRetry(ctx, "extract last frame of "+videoPath, func() error {
		// -sseof -0.5 seeks half a second before the end; -update 1
		// keeps overwriting the single output so the last decoded
		// frame wins.
		cmd := exec.CommandContext(ctx, t.ffmpegPath,
			"-sseof", "-0.5",
			"-i", videoPath,
			"-update", "1",
			"-frames:v", "1",
			"-qscale:v", strconv.Itoa(frameJPEGQuality),
			"-y", outputPath,
		)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w\nOutput: %s", err, string(output))
		}
		if _, err := os.Stat(outputPath); err != nil {
			return fmt.Errorf("extracted frame missing: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("last frame extraction failed for %s: %w", videoPath, err)
	}
	log.Debug().Str("video", videoPath).Str("frame", outputPath).Msg("Last frame extracted")
	return nil
}

// SampleFrames extracts every strideth frame from a video, up to maxFrames,
// and returns them as grayscale images downscaled to width×height. The
// signature matches what the quality analyzer consumes.
func (t *Toolkit) SampleFrames(ctx context.Context, videoPath string, stride, maxFrames, width, height int) ([]*image.Gray, error) {
	frameDir, err := os.MkdirTemp("", "sceneweaver-sample-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(frameDir); err != nil {
			log.Warn().Err(err).Str("dir", frameDir).Msg("Failed to remove frame directory")
		}
	}()

	framePattern := filepath.Join(frameDir, "frame_%06d.jpg")
	err = withRetry(ctx, "sample frames of "+videoPath, func() error {
		cmd := exec.CommandContext(ctx, t.ffmpegPath,
			"-i", videoPath,
			"-vf", fmt.Sprintf("select=not(mod(n\\,%d))", stride),
			"-vsync", "vfr",
			"-frames:v", strconv.Itoa(maxFrames),
			"-qscale:v", strconv.Itoa(frameJPEGQuality),
			"-y", framePattern,
		)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w\nOutput: %s", err, string(output))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("frame sampling failed for %s: %w", videoPath, err)
	}

	paths, err := collectFramePaths(frameDir)
	if err != nil {
		return nil, err
	}

	frames := make([]*image.Gray, 0, len(paths))
	for _, path := range paths {
		frame, err := loadGrayFrame(path, width, height)
		if err != nil {
			return nil, fmt.Errorf("loading sampled frame %s: %w", filepath.Base(path), err)
		}
		frames = append(frames, frame)
	}

	log.Debug().Str("video", videoPath).Int("frames", len(frames)).Msg("Frames sampled for analysis")
	return frames, nil
}

// loadGrayFrame decodes a JPEG frame and downscales it to the analysis
// resolution as grayscale.
func loadGrayFrame(path string, width, height int) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)
	return gray, nil
}

// collectFramePaths returns sorted paths to all frame files in a directory.
func collectFramePaths(frameDir string) ([]string, error) {
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			paths = append(paths, filepath.Join(frameDir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
