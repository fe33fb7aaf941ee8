// Package render abstracts the generative video backend. A Backend accepts
// a prompt plus an optional anchor image and returns an opaque job ID that
// is polled until the rendered clip is available on disk.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Poll settings. Variables rather than constants so tests can shrink them.
var (
	initialPollInterval = 5 * time.Second
	maxPollInterval     = 30 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// Job states reported by Poll.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Request describes one segment render job.
type Request struct {
	Prompt         string
	NegativePrompt string
	// AnchorImagePath conditions the clip's first frame. Empty means pure
	// text-to-video.
	AnchorImagePath string
	FrameCount      int
	Width           int
	Height          int
	FPS             int
	// Seed pins the backend's noise seed; 0 lets the backend choose.
	Seed int64
}

// Status is one poll observation of a render job.
type Status struct {
	State string
	// OutputPath is the rendered video file, set once State is completed.
	OutputPath string
	// Message carries the backend's failure detail when State is failed.
	Message string
}

// Backend submits render jobs and reports their progress.
type Backend interface {
	Submit(ctx context.Context, req *Request) (string, error)
	Poll(ctx context.Context, jobID string) (*Status, error)
}

// WaitForJob polls a job until it reaches a terminal state or the timeout
// elapses. Poll errors are treated as transient and retried; backoff grows
// from initialPollInterval up to maxPollInterval. A backend-reported
// failure comes back as a failed Status with a nil error; only timeout and
// context cancellation return an error.
func WaitForJob(ctx context.Context, b Backend, jobID string, timeout time.Duration) (*Status, error) {
	if timeout == 0 {
		timeout = defaultPollTimeout
	}

	deadline := time.Now().Add(timeout)
	interval := initialPollInterval

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("render job %s: timed out after %s", jobID, timeout)
		}

		status, err := b.Poll(ctx, jobID)
		if err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("Render job poll error, retrying")
		} else {
			switch status.State {
			case StateCompleted:
				log.Debug().Str("jobId", jobID).Str("output", status.OutputPath).Msg("Render job completed")
				return status, nil
			case StateFailed:
				log.Debug().Str("jobId", jobID).Str("message", status.Message).Msg("Render job failed")
				return status, nil
			case StateQueued, StateRunning:
				log.Debug().Str("jobId", jobID).Str("state", status.State).Dur("nextPoll", interval).Msg("Render job in progress")
			default:
				log.Warn().Str("jobId", jobID).Str("state", status.State).Msg("Unknown render job state")
			}
		}

		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		interval = interval * 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}
