// Package store provides persistent state storage for the segmented scene
// generation pipeline. Scenes, their per-scene character/story/visual state,
// segments, and quality feedback all live in PostgreSQL, keyed so that every
// write is an idempotent upsert: (scene_id, segment_number) for segments and
// (scene_id, character_id) for character state.
//
// The aggregate queries TopSuccessfulElements and FailedElementsAtLeast back
// the prompt-learning loop. Frequencies are always computed at read time from
// the feedback rows, never maintained as stored counters, so concurrent scene
// runs need no read-modify-write coordination.
package store

import (
	"context"
	"time"
)

// Scene lifecycle statuses. Transitions are one-way:
// pending → processing → completed | failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statusRank orders lifecycle statuses so updates can never move a record
// backward. Both terminal states share the top rank.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Scene is one scene within a sequence. Location, time of day, weather and
// mood are pre-computed by the upstream planning layer; this pipeline only
// reads them when composing prompts.
type Scene struct {
	ID                string
	SequenceID        string
	Position          int
	TargetDuration    float64
	Location          string
	TimeOfDay         string
	Weather           string
	Mood              string
	EntryKeyframe     string
	ExitKeyframe      string
	Status            string
	CompletedSegments int
	FinalVideoPath    string
	CreatedAt         time.Time
}

// CharacterState is the per-scene appearance and pose state for one character.
// Propagation copies it verbatim into the next scene unless Exited is set.
type CharacterState struct {
	SceneID        string
	CharacterID    string
	Name           string
	Outfit         string
	Hair           string
	Accessories    string
	Expression     string
	Pose           string
	EmotionalState string
	PositionFacing string
	Exited         bool
}

// StoryState is the per-scene narrative state (0 or 1 per scene).
type StoryState struct {
	SceneID         string
	PlotSummary     string
	PriorContext    string
	UpcomingContext string
	TensionLevel    float64
	Pacing          string
	KeyDialogue     []string
	MusicMood       string
}

// VisualState is the per-scene look configuration (0 or 1 per scene).
type VisualState struct {
	SceneID           string
	LightingType      string
	LightingDirection string
	LightingColor     string
	ShadowIntensity   float64
	ColorPalette      string
	CameraAngle       string
	CameraMovement    string
	StyleKeywords     []string
	NegativeKeywords  []string
}

// Segment is one bounded-duration unit of rendered video within a scene.
// Unique on (SceneID, SegmentNumber); created lazily the first time its
// number is requested.
type Segment struct {
	ID               int64
	SceneID          string
	SegmentNumber    int
	Prompt           string
	NegativePrompt   string
	FirstFramePath   string
	LastFramePath    string
	Status           string
	VideoPath        string
	FrameConsistency float64
	MotionSmoothness float64
	OverallScore     float64
	Scored           bool
	CreatedAt        time.Time
}

// QualityFeedback is the learning record written once per completed segment.
// SuccessfulElements is populated only when OverallScore >= 0.7,
// FailedElements only when OverallScore < 0.4; the two are mutually exclusive.
type QualityFeedback struct {
	ID                 int64
	SegmentID          int64
	CharacterID        string
	PromptText         string
	OverallScore       float64
	ConsistencyScore   float64
	SmoothnessScore    float64
	SuccessfulElements []string
	FailedElements     []string
	CreatedAt          time.Time
}

// ElementCount is one row of a frequency aggregate over prompt elements.
type ElementCount struct {
	Element string
	Count   int
}

// SceneStore defines the persistence interface for the generation pipeline.
// Each method is safe for concurrent use. All Get methods return (nil, nil)
// when the requested record does not exist. All Upsert methods perform
// full-row replacement keyed on the stated unique key.
type SceneStore interface {
	// --- Scenes ---

	// CreateScene inserts a new scene row. Fails if the ID already exists.
	CreateScene(ctx context.Context, scene *Scene) error

	// GetScene retrieves a scene by ID. Returns nil, nil if not found.
	GetScene(ctx context.Context, sceneID string) (*Scene, error)

	// GetSceneByPosition retrieves the scene at an ordinal position within a
	// sequence. Returns nil, nil if there is no scene at that position.
	GetSceneByPosition(ctx context.Context, sequenceID string, position int) (*Scene, error)

	// UpdateSceneStatus advances a scene's status. Backward transitions are
	// silently ignored.
	UpdateSceneStatus(ctx context.Context, sceneID, status string) error

	// UpdateSceneOutput records the final video path, exit keyframe and
	// completed-segment count after a generation run.
	UpdateSceneOutput(ctx context.Context, sceneID, finalVideoPath, exitKeyframe string, completedSegments int) error

	// UpdateSceneEntryKeyframe sets the entry keyframe only when none is set.
	UpdateSceneEntryKeyframe(ctx context.Context, sceneID, keyframe string) error

	// --- Per-scene memory state ---

	// UpsertCharacterState creates or replaces character state keyed on
	// (scene_id, character_id).
	UpsertCharacterState(ctx context.Context, state *CharacterState) error

	// ListCharacterStates returns all character state for a scene, ordered by
	// character ID for deterministic prompt composition.
	ListCharacterStates(ctx context.Context, sceneID string) ([]*CharacterState, error)

	// UpsertStoryState creates or replaces the scene's story state.
	UpsertStoryState(ctx context.Context, state *StoryState) error

	// GetStoryState retrieves story state. Returns nil, nil if not found.
	GetStoryState(ctx context.Context, sceneID string) (*StoryState, error)

	// UpsertVisualState creates or replaces the scene's visual state.
	UpsertVisualState(ctx context.Context, state *VisualState) error

	// GetVisualState retrieves visual state. Returns nil, nil if not found.
	GetVisualState(ctx context.Context, sceneID string) (*VisualState, error)

	// --- Segments ---

	// GetOrCreateSegment returns the segment with the given number, creating
	// it in status pending on first request.
	GetOrCreateSegment(ctx context.Context, sceneID string, segmentNumber int) (*Segment, error)

	// UpdateSegmentPrompt records the resolved prompt pair and anchor frame.
	UpdateSegmentPrompt(ctx context.Context, segmentID int64, prompt, negativePrompt, firstFramePath string) error

	// UpdateSegmentStatus advances a segment's status. Transitions are
	// append-only; attempts to move backward are silently ignored.
	UpdateSegmentStatus(ctx context.Context, segmentID int64, status string) error

	// UpdateSegmentOutput records the output video, extracted last frame and
	// quality scores of a completed segment.
	UpdateSegmentOutput(ctx context.Context, segmentID int64, videoPath, lastFramePath string, consistency, smoothness, overall float64) error

	// ListSegments returns all segments for a scene in segment-number order.
	ListSegments(ctx context.Context, sceneID string) ([]*Segment, error)

	// --- Quality feedback / learning aggregates ---

	// InsertQualityFeedback writes the feedback record for a segment,
	// replacing any prior record for the same segment.
	InsertQualityFeedback(ctx context.Context, fb *QualityFeedback) error

	// TopSuccessfulElements returns the most frequent successful prompt
	// elements recorded for a character, ordered by frequency descending.
	TopSuccessfulElements(ctx context.Context, characterID string, limit int) ([]ElementCount, error)

	// FailedElementsAtLeast returns every prompt element that appears in at
	// least minRecords distinct failed-feedback records, across all feedback.
	FailedElementsAtLeast(ctx context.Context, minRecords int) ([]string, error)
}
