// Package memory holds per-scene character, story, and visual state and
// turns it into render prompts. It closes the quality feedback loop:
// recorded segment scores feed back into future prompts as reinforcement
// phrases and removal of phrases that keep appearing in failed output.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/sceneweaver/internal/store"
)

// Score thresholds for feedback classification. Scores in the gap between
// them contribute nothing to learning, which keeps noisy mid-range results
// out of the reinforcement data.
const (
	successThreshold = 0.7
	failureThreshold = 0.4
)

// reinforcementLimit caps learned phrases appended per character.
const reinforcementLimit = 5

// removalMinRecords is the number of distinct failed-feedback records a
// phrase must appear in before it is stripped from prompts. Gating on
// frequency avoids blacklisting a phrase over a single bad sample.
const removalMinRecords = 3

// negativeBase is always present in the negative prompt.
const negativeBase = "low quality, blurry, distorted, deformed"

// Tension boundaries for the prompt's pacing adjective.
const (
	highTension = 0.7
	lowTension  = 0.3
)

// SceneContext bundles everything known about one scene.
type SceneContext struct {
	Scene      *store.Scene
	Characters []*store.CharacterState
	Story      *store.StoryState
	Visual     *store.VisualState
}

// SceneMemory reads and writes scene state through a SceneStore.
type SceneMemory struct {
	store store.SceneStore
}

// New creates a SceneMemory backed by the given store.
func New(st store.SceneStore) *SceneMemory {
	return &SceneMemory{store: st}
}

// GetSceneContext loads the scene with its character, story, and visual
// state. Returns (nil, nil) when the scene is unknown.
func (m *SceneMemory) GetSceneContext(ctx context.Context, sceneID string) (*SceneContext, error) {
	scene, err := m.store.GetScene(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("loading scene %s: %w", sceneID, err)
	}
	if scene == nil {
		return nil, nil
	}
	characters, err := m.store.ListCharacterStates(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("loading character states for scene %s: %w", sceneID, err)
	}
	story, err := m.store.GetStoryState(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("loading story state for scene %s: %w", sceneID, err)
	}
	visual, err := m.store.GetVisualState(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("loading visual state for scene %s: %w", sceneID, err)
	}
	return &SceneContext{Scene: scene, Characters: characters, Story: story, Visual: visual}, nil
}

// InitializeSceneMemory upserts the initial state for a newly planned scene.
// Idempotent: calling it again with the same arguments is a no-op in effect.
func (m *SceneMemory) InitializeSceneMemory(ctx context.Context, sceneID string, characters []*store.CharacterState, story *store.StoryState, visual *store.VisualState) error {
	for _, ch := range characters {
		ch.SceneID = sceneID
		if err := m.store.UpsertCharacterState(ctx, ch); err != nil {
			return fmt.Errorf("initializing character %s for scene %s: %w", ch.CharacterID, sceneID, err)
		}
	}
	if story != nil {
		story.SceneID = sceneID
		if err := m.store.UpsertStoryState(ctx, story); err != nil {
			return fmt.Errorf("initializing story state for scene %s: %w", sceneID, err)
		}
	}
	if visual != nil {
		visual.SceneID = sceneID
		if err := m.store.UpsertVisualState(ctx, visual); err != nil {
			return fmt.Errorf("initializing visual state for scene %s: %w", sceneID, err)
		}
	}
	log.Debug().Str("sceneId", sceneID).Int("characters", len(characters)).Msg("Scene memory initialized")
	return nil
}

// GenerateMotionPrompt composes the positive and negative prompt for one
// segment. Clause order is fixed so that historical feedback keyed on
// prompt elements stays comparable across runs. Reinforcement phrases are
// appended before the removal pass runs, so a globally blacklisted phrase
// is stripped even when it is reinforced for some character.
func (m *SceneMemory) GenerateMotionPrompt(ctx context.Context, sceneID string, segmentNumber int, action string) (string, string, error) {
	sc, err := m.GetSceneContext(ctx, sceneID)
	if err != nil {
		return "", "", err
	}
	if sc == nil {
		return "", "", fmt.Errorf("generating prompt: scene %s not found", sceneID)
	}

	var clauses []string
	add := func(clause string) {
		if clause = strings.TrimSpace(clause); clause != "" {
			clauses = append(clauses, clause)
		}
	}

	add(sc.Scene.Location)
	if sc.Scene.TimeOfDay != "" {
		add(sc.Scene.TimeOfDay + " lighting")
	}
	if !strings.EqualFold(sc.Scene.Weather, "clear") {
		add(sc.Scene.Weather)
	}
	if sc.Scene.Mood != "" {
		add(sc.Scene.Mood + " atmosphere")
	}
	for _, ch := range sc.Characters {
		add(characterClause(ch))
	}
	if sc.Visual != nil {
		if sc.Visual.LightingType != "" {
			add(sc.Visual.LightingType + " lighting")
		}
		if sc.Visual.CameraAngle != "" {
			add(sc.Visual.CameraAngle + " shot")
		}
		if sc.Visual.CameraMovement != "" {
			add(sc.Visual.CameraMovement + " camera")
		}
		for _, kw := range sc.Visual.StyleKeywords {
			add(kw)
		}
	}
	add(action)
	if sc.Story != nil {
		if sc.Story.TensionLevel > highTension {
			add("intense")
		} else if sc.Story.TensionLevel < lowTension {
			add("calm")
		}
	}

	if err := m.appendReinforcement(ctx, sc.Characters, &clauses); err != nil {
		return "", "", err
	}

	prompt := strings.Join(clauses, ", ")
	prompt, err = m.stripFailedElements(ctx, prompt)
	if err != nil {
		return "", "", err
	}

	negative := negativeBase
	if sc.Visual != nil && len(sc.Visual.NegativeKeywords) > 0 {
		negative += ", " + strings.Join(sc.Visual.NegativeKeywords, ", ")
	}

	log.Debug().
		Str("sceneId", sceneID).
		Int("segment", segmentNumber).
		Int("clauses", len(splitElements(prompt))).
		Msg("Motion prompt composed")
	return prompt, negative, nil
}

// characterClause renders one character's appearance into prompt text.
func characterClause(ch *store.CharacterState) string {
	var parts []string
	name := ch.Name
	if name == "" {
		name = ch.CharacterID
	}
	if ch.Outfit != "" {
		parts = append(parts, name+" wearing "+ch.Outfit)
	} else {
		parts = append(parts, name)
	}
	if ch.Expression != "" {
		parts = append(parts, ch.Expression+" expression")
	}
	if ch.Pose != "" {
		parts = append(parts, ch.Pose)
	}
	if ch.PositionFacing != "" {
		parts = append(parts, ch.PositionFacing)
	}
	return strings.Join(parts, ", ")
}

// appendReinforcement adds up to reinforcementLimit historically successful
// phrases per character, skipping phrases already present in the prompt.
func (m *SceneMemory) appendReinforcement(ctx context.Context, characters []*store.CharacterState, clauses *[]string) error {
	present := make(map[string]bool, len(*clauses))
	for _, c := range *clauses {
		present[strings.ToLower(c)] = true
	}
	for _, ch := range characters {
		elems, err := m.store.TopSuccessfulElements(ctx, ch.CharacterID, reinforcementLimit)
		if err != nil {
			return fmt.Errorf("loading reinforcement for character %s: %w", ch.CharacterID, err)
		}
		for _, e := range elems {
			key := strings.ToLower(e.Element)
			if present[key] {
				continue
			}
			present[key] = true
			*clauses = append(*clauses, e.Element)
		}
	}
	return nil
}

// stripFailedElements removes every phrase that appears in at least
// removalMinRecords distinct failed-feedback records, matching
// case-insensitively, then collapses the comma separators left behind.
func (m *SceneMemory) stripFailedElements(ctx context.Context, prompt string) (string, error) {
	banned, err := m.store.FailedElementsAtLeast(ctx, removalMinRecords)
	if err != nil {
		return "", fmt.Errorf("loading failed elements: %w", err)
	}
	for _, phrase := range banned {
		prompt = removeFold(prompt, phrase)
	}
	var kept []string
	for _, part := range strings.Split(prompt, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ", "), nil
}

// removeFold deletes every case-insensitive occurrence of phrase from s.
func removeFold(s, phrase string) string {
	if phrase == "" {
		return s
	}
	lower := strings.ToLower(s)
	needle := strings.ToLower(phrase)
	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		s = s[i+len(needle):]
		lower = lower[i+len(needle):]
	}
}

// RecordQualityFeedback persists one feedback record for a scored segment.
// The prompt is split into comma-delimited elements; strong results store
// them as successful, weak results as failed, and anything in between
// stores neither list.
func (m *SceneMemory) RecordQualityFeedback(ctx context.Context, segmentID int64, characterID, prompt string, consistency, smoothness, overall float64) error {
	fb := &store.QualityFeedback{
		SegmentID:        segmentID,
		CharacterID:      characterID,
		PromptText:       prompt,
		ConsistencyScore: consistency,
		SmoothnessScore:  smoothness,
		OverallScore:     overall,
	}
	elements := splitElements(prompt)
	switch {
	case overall >= successThreshold:
		fb.SuccessfulElements = elements
	case overall < failureThreshold:
		fb.FailedElements = elements
	}
	if err := m.store.InsertQualityFeedback(ctx, fb); err != nil {
		return fmt.Errorf("recording feedback for segment %d: %w", segmentID, err)
	}
	log.Debug().
		Int64("segmentId", segmentID).
		Str("characterId", characterID).
		Float64("overall", overall).
		Int("successful", len(fb.SuccessfulElements)).
		Int("failed", len(fb.FailedElements)).
		Msg("Quality feedback recorded")
	return nil
}

func splitElements(prompt string) []string {
	var elems []string
	for _, part := range strings.Split(prompt, ",") {
		if part = strings.TrimSpace(part); part != "" {
			elems = append(elems, part)
		}
	}
	return elems
}

// PropagateToNextScene carries state forward to the scene at the next
// position in the same sequence: non-exited characters are copied, the next
// scene's prior context becomes this scene's plot summary, and this scene's
// exit keyframe becomes the next scene's entry keyframe if it has none.
// Returns ("", nil) when there is no next scene.
func (m *SceneMemory) PropagateToNextScene(ctx context.Context, sceneID string) (string, error) {
	scene, err := m.store.GetScene(ctx, sceneID)
	if err != nil {
		return "", fmt.Errorf("loading scene %s: %w", sceneID, err)
	}
	if scene == nil {
		return "", fmt.Errorf("propagating: scene %s not found", sceneID)
	}
	next, err := m.store.GetSceneByPosition(ctx, scene.SequenceID, scene.Position+1)
	if err != nil {
		return "", fmt.Errorf("locating scene after %s: %w", sceneID, err)
	}
	if next == nil {
		log.Debug().Str("sceneId", sceneID).Msg("No next scene to propagate to")
		return "", nil
	}

	characters, err := m.store.ListCharacterStates(ctx, sceneID)
	if err != nil {
		return "", fmt.Errorf("loading character states for scene %s: %w", sceneID, err)
	}
	for _, ch := range characters {
		if ch.Exited {
			continue
		}
		carried := *ch
		carried.SceneID = next.ID
		if err := m.store.UpsertCharacterState(ctx, &carried); err != nil {
			return "", fmt.Errorf("carrying character %s to scene %s: %w", ch.CharacterID, next.ID, err)
		}
	}

	story, err := m.store.GetStoryState(ctx, sceneID)
	if err != nil {
		return "", fmt.Errorf("loading story state for scene %s: %w", sceneID, err)
	}
	if story != nil {
		nextStory, err := m.store.GetStoryState(ctx, next.ID)
		if err != nil {
			return "", fmt.Errorf("loading story state for scene %s: %w", next.ID, err)
		}
		if nextStory == nil {
			nextStory = &store.StoryState{SceneID: next.ID}
		}
		nextStory.PriorContext = story.PlotSummary
		if err := m.store.UpsertStoryState(ctx, nextStory); err != nil {
			return "", fmt.Errorf("updating story state for scene %s: %w", next.ID, err)
		}
	}

	if scene.ExitKeyframe != "" {
		if err := m.store.UpdateSceneEntryKeyframe(ctx, next.ID, scene.ExitKeyframe); err != nil {
			return "", fmt.Errorf("setting entry keyframe for scene %s: %w", next.ID, err)
		}
	}

	log.Info().Str("sceneId", sceneID).Str("nextSceneId", next.ID).Msg("Scene state propagated")
	return next.ID, nil
}
