// Package generator drives the end-to-end segment chain for one scene:
// prompt construction, render submission, polling, anchor-frame extraction,
// quality scoring, feedback recording, and final concatenation.
//
// Segments run strictly in order because each conditions on the previous
// segment's extracted last frame. A failed segment does not abort the
// scene; the chain continues from the last successful anchor.
package generator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/sceneweaver/internal/media"
	"github.com/fpang/sceneweaver/internal/memory"
	"github.com/fpang/sceneweaver/internal/quality"
	"github.com/fpang/sceneweaver/internal/render"
	"github.com/fpang/sceneweaver/internal/store"
)

// VideoToolkit covers the ffmpeg/ffprobe operations the generator needs.
// *media.Toolkit implements it.
type VideoToolkit interface {
	Probe(ctx context.Context, videoPath string) (*media.VideoInfo, error)
	ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error
	Concatenate(ctx context.Context, videoPaths []string, outputPath string) error
}

// QualityScorer scores a rendered clip.
type QualityScorer interface {
	AnalyzeVideo(ctx context.Context, path string) (*quality.Report, error)
}

// SegmentResult reports one segment's outcome.
type SegmentResult struct {
	SegmentNumber int
	SegmentID     int64
	Success       bool
	VideoPath     string
	LastFramePath string
	Duration      time.Duration
	Report        *quality.Report
	// Failure holds a human-readable reason when Success is false.
	Failure string
}

// SceneResult is the structured outcome of one generate-scene run. It is
// always returned populated; a failed scene is data, not a panic.
type SceneResult struct {
	SceneID        string
	Success        bool
	FinalVideoPath string
	Segments       []SegmentResult
	// TotalDuration sums the probed durations of completed segments.
	TotalDuration time.Duration
	// AverageQuality averages the overall score across segments that
	// produced one. Zero when nothing was scored.
	AverageQuality float64
}

// SceneGenerator orchestrates segment generation for scenes.
type SceneGenerator struct {
	store    store.SceneStore
	memory   *memory.SceneMemory
	backend  render.Backend
	analyzer QualityScorer
	toolkit  VideoToolkit
	cfg      Config
}

// New creates a SceneGenerator. Zero-valued config fields fall back to
// defaults.
func New(st store.SceneStore, mem *memory.SceneMemory, backend render.Backend, analyzer QualityScorer, toolkit VideoToolkit, cfg Config) *SceneGenerator {
	cfg.applyDefaults()
	if cfg.Workdir == "" {
		cfg.Workdir = os.TempDir()
	}
	return &SceneGenerator{
		store:    st,
		memory:   mem,
		backend:  backend,
		analyzer: analyzer,
		toolkit:  toolkit,
		cfg:      cfg,
	}
}

// GenerateScene runs the full segment chain for one scene and returns a
// structured result. An unknown scene yields a failed result, not an
// error; errors are reserved for store unavailability and context
// cancellation.
func (g *SceneGenerator) GenerateScene(ctx context.Context, sceneID string) (*SceneResult, error) {
	result := &SceneResult{SceneID: sceneID}

	sc, err := g.memory.GetSceneContext(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		log.Warn().Str("sceneId", sceneID).Msg("Scene not found, nothing to generate")
		return result, nil
	}

	numSegments := int(math.Ceil(sc.Scene.TargetDuration / g.cfg.SegmentDuration))
	if numSegments < 1 {
		numSegments = 1
	}
	leadCharacter := ""
	if len(sc.Characters) > 0 {
		leadCharacter = sc.Characters[0].CharacterID
	}

	log.Info().
		Str("sceneId", sceneID).
		Int("segments", numSegments).
		Float64("targetDuration", sc.Scene.TargetDuration).
		Msg("Starting scene generation")

	if err := g.store.UpdateSceneStatus(ctx, sceneID, store.StatusProcessing); err != nil {
		return nil, fmt.Errorf("marking scene processing: %w", err)
	}

	// anchor conditions the next segment; it only advances on success so
	// a failed segment leaves the chain anchored at the last good frame.
	anchor := sc.Scene.EntryKeyframe
	for n := 1; n <= numSegments; n++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		segResult, err := g.generateSegment(ctx, sc.Scene, n, anchor, leadCharacter)
		if err != nil {
			return nil, err
		}
		result.Segments = append(result.Segments, *segResult)
		if segResult.Success {
			anchor = segResult.LastFramePath
		}
	}

	return g.finishScene(ctx, sceneID, result)
}

// generateSegment runs one segment through the render backend. Backend
// failures and timeouts mark the segment failed and return a failed
// result; only store errors and context cancellation propagate.
func (g *SceneGenerator) generateSegment(ctx context.Context, scene *store.Scene, segmentNumber int, anchor, leadCharacter string) (*SegmentResult, error) {
	result := &SegmentResult{SegmentNumber: segmentNumber}

	seg, err := g.store.GetOrCreateSegment(ctx, scene.ID, segmentNumber)
	if err != nil {
		return nil, fmt.Errorf("creating segment %d: %w", segmentNumber, err)
	}
	result.SegmentID = seg.ID

	prompt, negative, err := g.memory.GenerateMotionPrompt(ctx, scene.ID, segmentNumber, g.cfg.Action(segmentNumber))
	if err != nil {
		return g.failSegment(ctx, result, fmt.Sprintf("composing prompt: %v", err)), nil
	}
	if err := g.store.UpdateSegmentPrompt(ctx, seg.ID, prompt, negative, anchor); err != nil {
		return nil, fmt.Errorf("recording segment prompt: %w", err)
	}
	if err := g.store.UpdateSegmentStatus(ctx, seg.ID, store.StatusProcessing); err != nil {
		return nil, fmt.Errorf("marking segment processing: %w", err)
	}

	jobID, err := g.backend.Submit(ctx, &render.Request{
		Prompt:          prompt,
		NegativePrompt:  negative,
		AnchorImagePath: anchor,
		FrameCount:      g.cfg.FrameCount,
		Width:           g.cfg.Width,
		Height:          g.cfg.Height,
		FPS:             g.cfg.FPS,
		Seed:            g.cfg.Seed,
	})
	if err != nil {
		return g.failSegment(ctx, result, fmt.Sprintf("submitting render job: %v", err)), nil
	}

	status, err := render.WaitForJob(ctx, g.backend, jobID, g.cfg.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return g.failSegment(ctx, result, fmt.Sprintf("waiting for render job: %v", err)), nil
	}
	if status.State != render.StateCompleted {
		return g.failSegment(ctx, result, fmt.Sprintf("render backend reported failure: %s", status.Message)), nil
	}

	lastFrame := filepath.Join(g.cfg.Workdir, fmt.Sprintf("%s_seg%d_last.jpg", scene.ID, segmentNumber))
	if err := g.toolkit.ExtractLastFrame(ctx, status.OutputPath, lastFrame); err != nil {
		return g.failSegment(ctx, result, fmt.Sprintf("extracting last frame: %v", err)), nil
	}

	report, err := g.analyzer.AnalyzeVideo(ctx, status.OutputPath)
	if err != nil {
		// The analyzer degrades instead of erroring; treat anything
		// else the same way.
		log.Warn().Err(err).Str("sceneId", scene.ID).Int("segment", segmentNumber).Msg("Quality analysis errored, using neutral scores")
		report = &quality.Report{
			FrameConsistency: quality.NeutralScore,
			MotionSmoothness: quality.NeutralScore,
			Overall:          quality.NeutralScore,
			Degraded:         true,
		}
	}

	if err := g.store.UpdateSegmentOutput(ctx, seg.ID, status.OutputPath, lastFrame,
		report.FrameConsistency, report.MotionSmoothness, report.Overall); err != nil {
		return nil, fmt.Errorf("recording segment output: %w", err)
	}
	if err := g.memory.RecordQualityFeedback(ctx, seg.ID, leadCharacter, prompt,
		report.FrameConsistency, report.MotionSmoothness, report.Overall); err != nil {
		log.Warn().Err(err).Int64("segmentId", seg.ID).Msg("Failed to record quality feedback")
	}
	if err := g.store.UpdateSegmentStatus(ctx, seg.ID, store.StatusCompleted); err != nil {
		return nil, fmt.Errorf("marking segment completed: %w", err)
	}

	if info, err := g.toolkit.Probe(ctx, status.OutputPath); err != nil {
		log.Warn().Err(err).Str("path", status.OutputPath).Msg("Failed to probe segment duration")
	} else {
		result.Duration = info.Duration
	}

	result.Success = true
	result.VideoPath = status.OutputPath
	result.LastFramePath = lastFrame
	result.Report = report
	log.Info().
		Str("sceneId", scene.ID).
		Int("segment", segmentNumber).
		Float64("overall", report.Overall).
		Msg("Segment completed")
	return result, nil
}

// failSegment marks a segment failed in the store and on the result.
func (g *SceneGenerator) failSegment(ctx context.Context, result *SegmentResult, reason string) *SegmentResult {
	log.Warn().
		Int64("segmentId", result.SegmentID).
		Int("segment", result.SegmentNumber).
		Str("reason", reason).
		Msg("Segment failed")
	if err := g.store.UpdateSegmentStatus(ctx, result.SegmentID, store.StatusFailed); err != nil {
		log.Warn().Err(err).Int64("segmentId", result.SegmentID).Msg("Failed to mark segment failed")
	}
	result.Failure = reason
	return result
}

// finishScene concatenates completed segments, updates the scene record,
// and propagates state forward on success.
func (g *SceneGenerator) finishScene(ctx context.Context, sceneID string, result *SceneResult) (*SceneResult, error) {
	var completedPaths []string
	var exitKeyframe string
	var scored int
	var qualitySum float64
	for _, seg := range result.Segments {
		if !seg.Success {
			continue
		}
		completedPaths = append(completedPaths, seg.VideoPath)
		exitKeyframe = seg.LastFramePath
		result.TotalDuration += seg.Duration
		if seg.Report != nil {
			qualitySum += seg.Report.Overall
			scored++
		}
	}
	if scored > 0 {
		result.AverageQuality = qualitySum / float64(scored)
	}

	if len(completedPaths) == 0 {
		log.Warn().Str("sceneId", sceneID).Msg("No segments completed, scene failed")
		if err := g.store.UpdateSceneStatus(ctx, sceneID, store.StatusFailed); err != nil {
			log.Warn().Err(err).Str("sceneId", sceneID).Msg("Failed to mark scene failed")
		}
		return result, nil
	}

	finalPath := completedPaths[0]
	if len(completedPaths) > 1 {
		finalPath = filepath.Join(g.cfg.Workdir, sceneID+"_final.mp4")
		if err := g.toolkit.Concatenate(ctx, completedPaths, finalPath); err != nil {
			log.Error().Err(err).Str("sceneId", sceneID).Msg("Final concatenation failed")
			if err := g.store.UpdateSceneStatus(ctx, sceneID, store.StatusFailed); err != nil {
				log.Warn().Err(err).Str("sceneId", sceneID).Msg("Failed to mark scene failed")
			}
			return result, nil
		}
	}

	if err := g.store.UpdateSceneOutput(ctx, sceneID, finalPath, exitKeyframe, len(completedPaths)); err != nil {
		return nil, fmt.Errorf("recording scene output: %w", err)
	}
	if err := g.store.UpdateSceneStatus(ctx, sceneID, store.StatusCompleted); err != nil {
		return nil, fmt.Errorf("marking scene completed: %w", err)
	}

	if _, err := g.memory.PropagateToNextScene(ctx, sceneID); err != nil {
		log.Warn().Err(err).Str("sceneId", sceneID).Msg("State propagation failed")
	}

	result.Success = true
	result.FinalVideoPath = finalPath
	log.Info().
		Str("sceneId", sceneID).
		Str("finalVideo", finalPath).
		Int("completedSegments", len(completedPaths)).
		Dur("totalDuration", result.TotalDuration).
		Float64("averageQuality", result.AverageQuality).
		Msg("Scene generation complete")
	return result, nil
}
