package quality

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

// uniformFrame builds a frame filled with a single luminance value.
func uniformFrame(w, h int, value uint8) *image.Gray {
	frame := image.NewGray(image.Rect(0, 0, w, h))
	for i := range frame.Pix {
		frame.Pix[i] = value
	}
	return frame
}

// gradientFrame builds a frame whose luminance ramps horizontally, shifted
// by offset columns. Shifting the ramp between frames simulates steady
// lateral motion.
func gradientFrame(w, h, offset int) *image.Gray {
	frame := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.SetGray(x, y, color.Gray{Y: uint8((x + offset) * 4 % 256)})
		}
	}
	return frame
}

type stubSampler struct {
	frames []*image.Gray
	err    error
}

func (s *stubSampler) SampleFrames(_ context.Context, _ string, _, _, _, _ int) ([]*image.Gray, error) {
	return s.frames, s.err
}

func TestSSIMIdenticalFrames(t *testing.T) {
	frame := gradientFrame(32, 32, 0)
	got := ssim(frame, frame)
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("ssim(f, f) = %v, want 1", got)
	}
}

func TestSSIMContrastingFrames(t *testing.T) {
	black := uniformFrame(32, 32, 0)
	white := uniformFrame(32, 32, 255)
	got := ssim(black, white)
	if got > 0.01 {
		t.Errorf("ssim(black, white) = %v, want near 0", got)
	}
}

func TestMeanFlowMagnitudeStaticFrames(t *testing.T) {
	frame := gradientFrame(32, 32, 0)
	if got := meanFlowMagnitude(frame, frame); got != 0 {
		t.Errorf("flow between identical frames = %v, want 0", got)
	}
}

func TestMotionSmoothness(t *testing.T) {
	tests := []struct {
		name       string
		magnitudes []float64
		want       float64
	}{
		{name: "steady motion", magnitudes: []float64{2, 2, 2, 2}, want: 1},
		{name: "no motion", magnitudes: []float64{0, 0, 0}, want: 1},
		{name: "single pair", magnitudes: []float64{5}, want: 1},
		{name: "extreme stutter", magnitudes: []float64{0, 10, 0, 10}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := motionSmoothness(tc.magnitudes)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("motionSmoothness(%v) = %v, want %v", tc.magnitudes, got, tc.want)
			}
		})
	}
}

func TestAnalyzeVideoIdenticalFrames(t *testing.T) {
	frames := make([]*image.Gray, 5)
	for i := range frames {
		frames[i] = gradientFrame(32, 32, 0)
	}
	a := NewAnalyzer(&stubSampler{frames: frames}, Config{})

	report, err := a.AnalyzeVideo(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	if report.Degraded {
		t.Fatal("report unexpectedly degraded")
	}
	if math.Abs(report.FrameConsistency-1) > 1e-6 {
		t.Errorf("consistency = %v, want 1 for identical frames", report.FrameConsistency)
	}
	if math.Abs(report.MotionSmoothness-1) > 1e-6 {
		t.Errorf("smoothness = %v, want 1 for static clip", report.MotionSmoothness)
	}
	if math.Abs(report.Overall-1) > 1e-6 {
		t.Errorf("overall = %v, want 1", report.Overall)
	}
	if report.FrameCount != 5 {
		t.Errorf("frame count = %d, want 5", report.FrameCount)
	}
}

func TestAnalyzeVideoSteadyMotionOutscoresStutter(t *testing.T) {
	steady := make([]*image.Gray, 6)
	for i := range steady {
		steady[i] = gradientFrame(32, 32, i*2)
	}
	stutter := []*image.Gray{
		gradientFrame(32, 32, 0),
		gradientFrame(32, 32, 0),
		gradientFrame(32, 32, 20),
		gradientFrame(32, 32, 20),
		gradientFrame(32, 32, 40),
		gradientFrame(32, 32, 40),
	}

	ctx := context.Background()
	steadyReport, err := NewAnalyzer(&stubSampler{frames: steady}, Config{}).AnalyzeVideo(ctx, "steady.mp4")
	if err != nil {
		t.Fatalf("AnalyzeVideo(steady): %v", err)
	}
	stutterReport, err := NewAnalyzer(&stubSampler{frames: stutter}, Config{}).AnalyzeVideo(ctx, "stutter.mp4")
	if err != nil {
		t.Fatalf("AnalyzeVideo(stutter): %v", err)
	}
	if steadyReport.MotionSmoothness <= stutterReport.MotionSmoothness {
		t.Errorf("steady smoothness %v should exceed stutter smoothness %v",
			steadyReport.MotionSmoothness, stutterReport.MotionSmoothness)
	}
}

func TestAnalyzeVideoDegradations(t *testing.T) {
	tests := []struct {
		name    string
		sampler *stubSampler
		frames  int
	}{
		{name: "sampler error", sampler: &stubSampler{err: errors.New("ffmpeg exited 1")}, frames: 0},
		{name: "no frames", sampler: &stubSampler{}, frames: 0},
		{name: "single frame", sampler: &stubSampler{frames: []*image.Gray{uniformFrame(32, 32, 128)}}, frames: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report, err := NewAnalyzer(tc.sampler, Config{}).AnalyzeVideo(context.Background(), "clip.mp4")
			if err != nil {
				t.Fatalf("AnalyzeVideo: %v", err)
			}
			if !report.Degraded {
				t.Error("expected degraded report")
			}
			if report.FrameConsistency != NeutralScore || report.MotionSmoothness != NeutralScore || report.Overall != NeutralScore {
				t.Errorf("scores = %v/%v/%v, want all neutral",
					report.FrameConsistency, report.MotionSmoothness, report.Overall)
			}
			if report.FrameCount != tc.frames {
				t.Errorf("frame count = %d, want %d", report.FrameCount, tc.frames)
			}
		})
	}
}

func TestNewAnalyzerDefaults(t *testing.T) {
	a := NewAnalyzer(&stubSampler{}, Config{})
	def := DefaultConfig()
	if a.cfg != def {
		t.Errorf("zero config = %+v, want defaults %+v", a.cfg, def)
	}
}
