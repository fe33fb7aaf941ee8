// Package quality scores rendered video segments on temporal coherence.
// Scores are advisory: a clip that cannot be analysed degrades to a neutral
// score rather than failing the pipeline.
package quality

import (
	"context"
	"image"
	"math"

	"github.com/rs/zerolog/log"
)

// NeutralScore is reported for every metric when a clip cannot be analysed.
const NeutralScore = 0.5

// Weighting of the two metrics in the overall score.
const (
	consistencyWeight = 0.6
	smoothnessWeight  = 0.4
)

// FrameSampler extracts evenly spaced grayscale frames from a video file,
// already downscaled to the requested analysis resolution.
type FrameSampler interface {
	SampleFrames(ctx context.Context, videoPath string, stride, maxFrames, width, height int) ([]*image.Gray, error)
}

// Config controls how many frames are sampled and at what resolution they
// are analysed.
type Config struct {
	// MaxFrames caps the number of frames sampled per clip.
	MaxFrames int
	// FrameStride selects every Nth frame from the source video.
	FrameStride int
	// AnalysisWidth and AnalysisHeight are the downscaled resolution used
	// for scoring. Analysis cost is quadratic in these.
	AnalysisWidth  int
	AnalysisHeight int
}

// DefaultConfig returns the sampling parameters used in production.
func DefaultConfig() Config {
	return Config{
		MaxFrames:      30,
		FrameStride:    5,
		AnalysisWidth:  320,
		AnalysisHeight: 180,
	}
}

// Report holds the quality scores for a single clip. All scores lie in
// [0, 1], higher is better.
type Report struct {
	// FrameConsistency measures how visually stable consecutive frames
	// are. Flicker, identity drift, and background churn lower it.
	FrameConsistency float64
	// MotionSmoothness measures how evenly motion is distributed over the
	// clip. Stutter and jump cuts lower it.
	MotionSmoothness float64
	// Overall is the weighted combination used for feedback decisions.
	Overall float64
	// FrameCount is the number of frames actually sampled.
	FrameCount int
	// Degraded is set when analysis fell back to neutral scores.
	Degraded bool
}

// Analyzer scores video clips using a frame sampler for decoding.
type Analyzer struct {
	sampler FrameSampler
	cfg     Config
}

// NewAnalyzer builds an Analyzer. Zero-valued config fields are replaced
// with defaults.
func NewAnalyzer(sampler FrameSampler, cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = def.MaxFrames
	}
	if cfg.FrameStride <= 0 {
		cfg.FrameStride = def.FrameStride
	}
	if cfg.AnalysisWidth <= 0 {
		cfg.AnalysisWidth = def.AnalysisWidth
	}
	if cfg.AnalysisHeight <= 0 {
		cfg.AnalysisHeight = def.AnalysisHeight
	}
	return &Analyzer{sampler: sampler, cfg: cfg}
}

// AnalyzeVideo samples frames from the clip at path and scores them. It
// never returns an error for analysis problems: unreadable or too-short
// clips produce a neutral, Degraded report.
func (a *Analyzer) AnalyzeVideo(ctx context.Context, path string) (*Report, error) {
	frames, err := a.sampler.SampleFrames(ctx, path, a.cfg.FrameStride, a.cfg.MaxFrames, a.cfg.AnalysisWidth, a.cfg.AnalysisHeight)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Frame sampling failed, reporting neutral quality")
		return neutralReport(0), nil
	}
	if len(frames) < 2 {
		log.Warn().Str("path", path).Int("frames", len(frames)).Msg("Too few frames for analysis, reporting neutral quality")
		return neutralReport(len(frames)), nil
	}

	consistency := a.frameConsistency(frames)
	smoothness := a.motionSmoothness(frames)
	report := &Report{
		FrameConsistency: consistency,
		MotionSmoothness: smoothness,
		Overall:          clamp01(consistencyWeight*consistency + smoothnessWeight*smoothness),
		FrameCount:       len(frames),
	}
	log.Debug().
		Str("path", path).
		Int("frames", report.FrameCount).
		Float64("consistency", report.FrameConsistency).
		Float64("smoothness", report.MotionSmoothness).
		Float64("overall", report.Overall).
		Msg("Clip analysed")
	return report, nil
}

// frameConsistency averages SSIM over consecutive frame pairs, penalising
// clips whose similarity fluctuates. If SSIM yields no usable values the
// mean pixel difference serves as a coarser stand-in.
func (a *Analyzer) frameConsistency(frames []*image.Gray) float64 {
	scores := make([]float64, 0, len(frames)-1)
	for i := 1; i < len(frames); i++ {
		s := ssim(frames[i-1], frames[i])
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		scores = append(scores, s)
	}
	if len(scores) == 0 {
		diffs := make([]float64, 0, len(frames)-1)
		for i := 1; i < len(frames); i++ {
			diffs = append(diffs, meanAbsDiff(frames[i-1], frames[i]))
		}
		return clamp01(1 - math.Min(mean(diffs)/50, 1))
	}
	return clamp01(mean(scores) * (1 - math.Min(stddev(scores), 0.5)))
}

// motionSmoothness derives per-pair flow magnitudes and scores their
// evenness. Clips where flow estimation degenerates fall back to the spread
// of raw frame differences.
func (a *Analyzer) motionSmoothness(frames []*image.Gray) float64 {
	magnitudes := make([]float64, 0, len(frames)-1)
	usable := true
	for i := 1; i < len(frames); i++ {
		m := meanFlowMagnitude(frames[i-1], frames[i])
		if math.IsNaN(m) || math.IsInf(m, 0) {
			usable = false
			break
		}
		magnitudes = append(magnitudes, m)
	}
	if !usable {
		diffs := make([]float64, 0, len(frames)-1)
		for i := 1; i < len(frames); i++ {
			diffs = append(diffs, meanAbsDiff(frames[i-1], frames[i]))
		}
		return motionSmoothnessFallback(diffs)
	}
	return motionSmoothness(magnitudes)
}

func neutralReport(frameCount int) *Report {
	return &Report{
		FrameConsistency: NeutralScore,
		MotionSmoothness: NeutralScore,
		Overall:          NeutralScore,
		FrameCount:       frameCount,
		Degraded:         true,
	}
}
