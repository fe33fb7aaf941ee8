package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Concatenate joins segment videos in order into outputPath using ffmpeg's
// concat demuxer with stream copy. No re-encoding happens, which requires
// identical codecs and resolution across inputs; the pipeline guarantees
// this by rendering every segment with the same parameters. A single input
// is copied as-is.
func (t *Toolkit) Concatenate(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("concatenate: no input videos")
	}
	if len(videoPaths) == 1 {
		if err := copyFile(videoPaths[0], outputPath); err != nil {
			return fmt.Errorf("copying single segment: %w", err)
		}
		log.Debug().Str("input", videoPaths[0]).Str("output", outputPath).Msg("Single segment copied as scene video")
		return nil
	}

	listFile, err := writeConcatList(videoPaths)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-y", outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("concatenation failed: %w\nOutput: %s", err, string(output))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("concatenated video not found: %w", err)
	}
	log.Info().
		Int("segments", len(videoPaths)).
		Str("output", outputPath).
		Int64("size_bytes", info.Size()).
		Msg("Segments concatenated")
	return nil
}

// writeConcatList writes the concat demuxer's file list. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func writeConcatList(videoPaths []string) (string, error) {
	f, err := os.CreateTemp("", "sceneweaver-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, path := range videoPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("resolving %s: %w", path, err)
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("writing concat list: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing concat list: %w", err)
	}
	return f.Name(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
