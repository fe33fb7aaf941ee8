package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/sceneweaver/internal/jobs"
)

// VeoBackend renders segments through the Gemini API's Veo video models.
// Veo's long-running operations are keyed by an opaque operation object
// rather than a plain ID, so the backend keeps the live operations in
// memory and hands callers its own job IDs.
type VeoBackend struct {
	client  *genai.Client
	model   string
	workdir string

	mu  sync.Mutex
	ops map[string]*genai.GenerateVideosOperation
}

var _ Backend = (*VeoBackend)(nil)

// resolutionTier maps a requested frame height onto the tiers Veo accepts.
func resolutionTier(height int) string {
	if height >= 1080 {
		return "1080p"
	}
	return "720p"
}

// NewVeoBackend creates a Veo-backed renderer. Finished clips are written
// under workdir.
func NewVeoBackend(ctx context.Context, apiKey, model, workdir string) (*VeoBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &VeoBackend{
		client:  client,
		model:   model,
		workdir: workdir,
		ops:     make(map[string]*genai.GenerateVideosOperation),
	}, nil
}

// Submit starts a Veo generation job and returns an internal job ID.
// Veo takes a resolution tier and clip duration rather than exact pixel
// dimensions or frame counts, so Width/Height map to the nearest tier and
// FrameCount/FPS to whole seconds.
func (v *VeoBackend) Submit(ctx context.Context, req *Request) (string, error) {
	var image *genai.Image
	if req.AnchorImagePath != "" {
		data, err := os.ReadFile(req.AnchorImagePath)
		if err != nil {
			return "", fmt.Errorf("reading anchor image: %w", err)
		}
		image = &genai.Image{
			ImageBytes: data,
			MIMEType:   "image/jpeg",
		}
	}

	config := &genai.GenerateVideosConfig{
		NegativePrompt: req.NegativePrompt,
		Resolution:     resolutionTier(req.Height),
	}
	if req.Seed != 0 {
		config.Seed = genai.Ptr(int32(req.Seed))
	}
	if req.FPS > 0 {
		config.FPS = genai.Ptr(int32(req.FPS))
		if req.FrameCount > 0 {
			seconds := (req.FrameCount + req.FPS - 1) / req.FPS
			config.DurationSeconds = genai.Ptr(int32(seconds))
		}
	}

	op, err := v.client.Models.GenerateVideos(ctx, v.model, req.Prompt, image, config)
	if err != nil {
		return "", fmt.Errorf("submitting Veo job: %w", err)
	}

	jobID := jobs.GenerateID("render-")

	v.mu.Lock()
	v.ops[jobID] = op
	v.mu.Unlock()

	log.Debug().Str("jobId", jobID).Str("model", v.model).Bool("anchored", image != nil).Msg("Veo job submitted")
	return jobID, nil
}

// Poll refreshes a Veo operation. On completion the clip is downloaded to
// workdir and the on-disk path reported in the status.
func (v *VeoBackend) Poll(ctx context.Context, jobID string) (*Status, error) {
	v.mu.Lock()
	op, ok := v.ops[jobID]
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown render job %s", jobID)
	}

	if !op.Done {
		refreshed, err := v.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("polling Veo job %s: %w", jobID, err)
		}
		v.mu.Lock()
		v.ops[jobID] = refreshed
		v.mu.Unlock()
		op = refreshed
	}
	if !op.Done {
		return &Status{State: StateRunning}, nil
	}

	v.mu.Lock()
	delete(v.ops, jobID)
	v.mu.Unlock()

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return &Status{State: StateFailed, Message: "Veo returned no video"}, nil
	}

	video := op.Response.GeneratedVideos[0].Video
	data := video.VideoBytes
	if len(data) == 0 {
		downloaded, err := v.client.Files.Download(ctx, video, nil)
		if err != nil {
			return &Status{State: StateFailed, Message: fmt.Sprintf("downloading Veo output: %v", err)}, nil
		}
		data = downloaded
		if len(data) == 0 {
			data = video.VideoBytes
		}
	}

	outPath := filepath.Join(v.workdir, jobID+".mp4")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing Veo output: %w", err)
	}

	log.Info().Str("jobId", jobID).Str("output", outPath).Msg("Veo clip downloaded")
	return &Status{State: StateCompleted, OutputPath: outPath}, nil
}
