package generator

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/fpang/sceneweaver/internal/media"
	"github.com/fpang/sceneweaver/internal/memory"
	"github.com/fpang/sceneweaver/internal/quality"
	"github.com/fpang/sceneweaver/internal/render"
	"github.com/fpang/sceneweaver/internal/store"
)

// fakeBackend completes every job immediately with a distinct output path.
// Set failAll to simulate a backend that never delivers.
type fakeBackend struct {
	failAll  bool
	requests []*render.Request
	jobs     int
}

func (b *fakeBackend) Submit(_ context.Context, req *render.Request) (string, error) {
	cp := *req
	b.requests = append(b.requests, &cp)
	b.jobs++
	return fmt.Sprintf("job-%d", b.jobs), nil
}

func (b *fakeBackend) Poll(_ context.Context, jobID string) (*render.Status, error) {
	if b.failAll {
		return &render.Status{State: render.StateRunning}, nil
	}
	return &render.Status{State: render.StateCompleted, OutputPath: "/renders/" + jobID + ".mp4"}, nil
}

// fakeToolkit records calls instead of shelling out to ffmpeg.
type fakeToolkit struct {
	extracted    [][2]string // video, frame
	concatenated []string
	probeDur     time.Duration
}

func (t *fakeToolkit) Probe(context.Context, string) (*media.VideoInfo, error) {
	return &media.VideoInfo{Duration: t.probeDur, FPS: 24, Width: 1280, Height: 720, Codec: "h264"}, nil
}

func (t *fakeToolkit) ExtractLastFrame(_ context.Context, videoPath, outputPath string) error {
	t.extracted = append(t.extracted, [2]string{videoPath, outputPath})
	return nil
}

func (t *fakeToolkit) Concatenate(_ context.Context, videoPaths []string, outputPath string) error {
	t.concatenated = append([]string(nil), videoPaths...)
	return nil
}

type fixedScorer struct {
	overall float64
}

func (s *fixedScorer) AnalyzeVideo(context.Context, string) (*quality.Report, error) {
	return &quality.Report{
		FrameConsistency: s.overall,
		MotionSmoothness: s.overall,
		Overall:          s.overall,
		FrameCount:       30,
	}, nil
}

func newTestGenerator(t *testing.T, backend render.Backend, tk VideoToolkit, scorer QualityScorer, target float64) (*SceneGenerator, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	if err := st.CreateScene(context.Background(), &store.Scene{
		ID:             "scene-1",
		SequenceID:     "seq-1",
		Position:       1,
		TargetDuration: target,
		Location:       "foggy alley",
	}); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	cfg := Config{
		SegmentDuration: 5,
		PollTimeout:     time.Second,
		Workdir:         t.TempDir(),
	}
	return New(st, memory.New(st), backend, scorer, tk, cfg), st
}

func TestGenerateSceneAllSegmentsSucceed(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	tk := &fakeToolkit{probeDur: 5 * time.Second}
	gen, st := newTestGenerator(t, backend, tk, &fixedScorer{overall: 0.8}, 12)

	result, err := gen.GenerateScene(ctx, "scene-1")
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	// ceil(12 / 5) segments.
	if len(result.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(result.Segments))
	}
	for i, seg := range result.Segments {
		if !seg.Success {
			t.Errorf("segment %d failed: %s", i+1, seg.Failure)
		}
	}
	if result.FinalVideoPath == "" {
		t.Error("missing final video path")
	}
	if result.TotalDuration != 15*time.Second {
		t.Errorf("total duration = %v, want 15s", result.TotalDuration)
	}
	if math.Abs(result.AverageQuality-0.8) > 1e-9 {
		t.Errorf("average quality = %v, want 0.8", result.AverageQuality)
	}
	if len(tk.concatenated) != 3 {
		t.Errorf("concatenated %d inputs, want 3", len(tk.concatenated))
	}

	scene, err := st.GetScene(ctx, "scene-1")
	if err != nil {
		t.Fatalf("GetScene: %v", err)
	}
	if scene.Status != store.StatusCompleted {
		t.Errorf("scene status = %q, want completed", scene.Status)
	}
	if scene.CompletedSegments != 3 {
		t.Errorf("completed segments = %d, want 3", scene.CompletedSegments)
	}
	if scene.ExitKeyframe != result.Segments[2].LastFramePath {
		t.Errorf("exit keyframe = %q, want last segment's frame %q", scene.ExitKeyframe, result.Segments[2].LastFramePath)
	}
}

func TestGenerateSceneAnchorChain(t *testing.T) {
	backend := &fakeBackend{}
	tk := &fakeToolkit{probeDur: 5 * time.Second}
	gen, _ := newTestGenerator(t, backend, tk, &fixedScorer{overall: 0.8}, 15)

	result, err := gen.GenerateScene(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if len(backend.requests) != 3 {
		t.Fatalf("submitted %d jobs, want 3", len(backend.requests))
	}
	// First segment has no entry keyframe: pure text-to-video.
	if backend.requests[0].AnchorImagePath != "" {
		t.Errorf("first anchor = %q, want empty", backend.requests[0].AnchorImagePath)
	}
	// Each later segment anchors on the previous segment's last frame.
	for i := 1; i < len(backend.requests); i++ {
		want := result.Segments[i-1].LastFramePath
		if backend.requests[i].AnchorImagePath != want {
			t.Errorf("segment %d anchor = %q, want %q", i+1, backend.requests[i].AnchorImagePath, want)
		}
	}
}

func TestGenerateSceneAllTimeoutsFailWithoutPanic(t *testing.T) {
	backend := &fakeBackend{failAll: true}
	tk := &fakeToolkit{}
	st := store.NewMemStore()
	ctx := context.Background()
	if err := st.CreateScene(ctx, &store.Scene{
		ID: "scene-1", SequenceID: "seq-1", Position: 1, TargetDuration: 4,
	}); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	cfg := Config{
		SegmentDuration: 5,
		PollTimeout:     20 * time.Millisecond,
		Workdir:         t.TempDir(),
	}
	gen := New(st, memory.New(st), backend, &fixedScorer{}, tk, cfg)

	result, err := gen.GenerateScene(ctx, "scene-1")
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if result.Success {
		t.Error("scene with no successful segments must not succeed")
	}
	if result.FinalVideoPath != "" {
		t.Errorf("final video path = %q, want empty", result.FinalVideoPath)
	}
	if len(result.Segments) != 1 || result.Segments[0].Success {
		t.Errorf("segments = %+v, want one failed segment", result.Segments)
	}

	scene, _ := st.GetScene(ctx, "scene-1")
	if scene.Status != store.StatusFailed {
		t.Errorf("scene status = %q, want failed", scene.Status)
	}
}

func TestGenerateSceneUnknownScene(t *testing.T) {
	st := store.NewMemStore()
	gen := New(st, memory.New(st), &fakeBackend{}, &fixedScorer{}, &fakeToolkit{}, Config{Workdir: t.TempDir()})

	result, err := gen.GenerateScene(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if result.Success || len(result.Segments) != 0 {
		t.Errorf("result = %+v, want empty failed result", result)
	}
}

func TestGenerateSceneSingleSegmentSkipsConcat(t *testing.T) {
	backend := &fakeBackend{}
	tk := &fakeToolkit{probeDur: 5 * time.Second}
	gen, _ := newTestGenerator(t, backend, tk, &fixedScorer{overall: 0.75}, 5)

	result, err := gen.GenerateScene(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}
	if !result.Success || len(result.Segments) != 1 {
		t.Fatalf("result = %+v, want one successful segment", result)
	}
	if len(tk.concatenated) != 0 {
		t.Error("single segment must not be re-encoded or concatenated")
	}
	if result.FinalVideoPath != result.Segments[0].VideoPath {
		t.Errorf("final path = %q, want the segment's own video %q", result.FinalVideoPath, result.Segments[0].VideoPath)
	}
}

func TestGenerateSceneRecordsFeedback(t *testing.T) {
	backend := &fakeBackend{}
	tk := &fakeToolkit{probeDur: 5 * time.Second}
	st := store.NewMemStore()
	ctx := context.Background()
	if err := st.CreateScene(ctx, &store.Scene{
		ID: "scene-1", SequenceID: "seq-1", Position: 1, TargetDuration: 5, Location: "foggy alley",
	}); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	mem := memory.New(st)
	if err := mem.InitializeSceneMemory(ctx, "scene-1",
		[]*store.CharacterState{{CharacterID: "kira", Name: "Kira"}}, nil, nil); err != nil {
		t.Fatalf("InitializeSceneMemory: %v", err)
	}
	gen := New(st, mem, backend, &fixedScorer{overall: 0.9}, tk, Config{
		SegmentDuration: 5, PollTimeout: time.Second, Workdir: t.TempDir(),
	})

	if _, err := gen.GenerateScene(ctx, "scene-1"); err != nil {
		t.Fatalf("GenerateScene: %v", err)
	}

	// A 0.9 overall stores the prompt's elements as successful for the
	// lead character.
	counts, err := st.TopSuccessfulElements(ctx, "kira", 5)
	if err != nil {
		t.Fatalf("TopSuccessfulElements: %v", err)
	}
	if len(counts) == 0 {
		t.Error("no successful elements recorded for lead character")
	}
}

func TestConfigAction(t *testing.T) {
	cfg := Config{
		DefaultAction: "the scene continues",
		Actions:       map[int]string{2: "she opens the door"},
	}
	if got := cfg.Action(2); got != "she opens the door" {
		t.Errorf("Action(2) = %q", got)
	}
	if got := cfg.Action(1); got != "the scene continues" {
		t.Errorf("Action(1) = %q", got)
	}
}
