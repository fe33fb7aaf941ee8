package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory SceneStore used by tests and by the analyze-only
// CLI path where no database is configured. It mirrors the PostgreSQL
// implementation's semantics, including append-only status transitions and
// read-time frequency aggregation.
type MemStore struct {
	mu         sync.Mutex
	scenes     map[string]*Scene
	characters map[string]map[string]*CharacterState // sceneID → characterID
	stories    map[string]*StoryState
	visuals    map[string]*VisualState
	segments   map[string]map[int]*Segment // sceneID → segmentNumber
	feedback   []*QualityFeedback
	nextSegID  int64
	nextFBID   int64
}

var _ SceneStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		scenes:     make(map[string]*Scene),
		characters: make(map[string]map[string]*CharacterState),
		stories:    make(map[string]*StoryState),
		visuals:    make(map[string]*VisualState),
		segments:   make(map[string]map[int]*Segment),
	}
}

func (m *MemStore) CreateScene(_ context.Context, scene *Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[scene.ID]; ok {
		return fmt.Errorf("create scene %s: already exists", scene.ID)
	}
	cp := *scene
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.scenes[scene.ID] = &cp
	return nil
}

func (m *MemStore) GetScene(_ context.Context, sceneID string) (*Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenes[sceneID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (m *MemStore) GetSceneByPosition(_ context.Context, sequenceID string, position int) (*Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.scenes {
		if sc.SequenceID == sequenceID && sc.Position == position {
			cp := *sc
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) UpdateSceneStatus(_ context.Context, sceneID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenes[sceneID]
	if !ok {
		return nil
	}
	if statusRank(status) > statusRank(sc.Status) {
		sc.Status = status
	}
	return nil
}

func (m *MemStore) UpdateSceneOutput(_ context.Context, sceneID, finalVideoPath, exitKeyframe string, completedSegments int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenes[sceneID]
	if !ok {
		return nil
	}
	sc.FinalVideoPath = finalVideoPath
	sc.ExitKeyframe = exitKeyframe
	sc.CompletedSegments = completedSegments
	return nil
}

func (m *MemStore) UpdateSceneEntryKeyframe(_ context.Context, sceneID, keyframe string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenes[sceneID]
	if !ok {
		return nil
	}
	if sc.EntryKeyframe == "" {
		sc.EntryKeyframe = keyframe
	}
	return nil
}

func (m *MemStore) UpsertCharacterState(_ context.Context, st *CharacterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chars, ok := m.characters[st.SceneID]
	if !ok {
		chars = make(map[string]*CharacterState)
		m.characters[st.SceneID] = chars
	}
	cp := *st
	chars[st.CharacterID] = &cp
	return nil
}

func (m *MemStore) ListCharacterStates(_ context.Context, sceneID string) ([]*CharacterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []*CharacterState
	for _, st := range m.characters[sceneID] {
		cp := *st
		states = append(states, &cp)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].CharacterID < states[j].CharacterID
	})
	return states, nil
}

func (m *MemStore) UpsertStoryState(_ context.Context, st *StoryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	cp.KeyDialogue = append([]string(nil), st.KeyDialogue...)
	m.stories[st.SceneID] = &cp
	return nil
}

func (m *MemStore) GetStoryState(_ context.Context, sceneID string) (*StoryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stories[sceneID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.KeyDialogue = append([]string(nil), st.KeyDialogue...)
	return &cp, nil
}

func (m *MemStore) UpsertVisualState(_ context.Context, st *VisualState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	cp.StyleKeywords = append([]string(nil), st.StyleKeywords...)
	cp.NegativeKeywords = append([]string(nil), st.NegativeKeywords...)
	m.visuals[st.SceneID] = &cp
	return nil
}

func (m *MemStore) GetVisualState(_ context.Context, sceneID string) (*VisualState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.visuals[sceneID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.StyleKeywords = append([]string(nil), st.StyleKeywords...)
	cp.NegativeKeywords = append([]string(nil), st.NegativeKeywords...)
	return &cp, nil
}

func (m *MemStore) GetOrCreateSegment(_ context.Context, sceneID string, segmentNumber int) (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs, ok := m.segments[sceneID]
	if !ok {
		segs = make(map[int]*Segment)
		m.segments[sceneID] = segs
	}
	seg, ok := segs[segmentNumber]
	if !ok {
		m.nextSegID++
		seg = &Segment{
			ID:            m.nextSegID,
			SceneID:       sceneID,
			SegmentNumber: segmentNumber,
			Status:        StatusPending,
			CreatedAt:     time.Now(),
		}
		segs[segmentNumber] = seg
	}
	cp := *seg
	return &cp, nil
}

func (m *MemStore) findSegment(segmentID int64) *Segment {
	for _, segs := range m.segments {
		for _, seg := range segs {
			if seg.ID == segmentID {
				return seg
			}
		}
	}
	return nil
}

func (m *MemStore) UpdateSegmentPrompt(_ context.Context, segmentID int64, prompt, negativePrompt, firstFramePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg := m.findSegment(segmentID); seg != nil {
		seg.Prompt = prompt
		seg.NegativePrompt = negativePrompt
		seg.FirstFramePath = firstFramePath
	}
	return nil
}

func (m *MemStore) UpdateSegmentStatus(_ context.Context, segmentID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg := m.findSegment(segmentID); seg != nil {
		if statusRank(status) > statusRank(seg.Status) {
			seg.Status = status
		}
	}
	return nil
}

func (m *MemStore) UpdateSegmentOutput(_ context.Context, segmentID int64, videoPath, lastFramePath string, consistency, smoothness, overall float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg := m.findSegment(segmentID); seg != nil {
		seg.VideoPath = videoPath
		seg.LastFramePath = lastFramePath
		seg.FrameConsistency = consistency
		seg.MotionSmoothness = smoothness
		seg.OverallScore = overall
		seg.Scored = true
	}
	return nil
}

func (m *MemStore) ListSegments(_ context.Context, sceneID string) ([]*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var segs []*Segment
	for _, seg := range m.segments[sceneID] {
		cp := *seg
		segs = append(segs, &cp)
	}
	sort.Slice(segs, func(i, j int) bool {
		return segs[i].SegmentNumber < segs[j].SegmentNumber
	})
	return segs, nil
}

func (m *MemStore) InsertQualityFeedback(_ context.Context, fb *QualityFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// At most one active record per segment.
	kept := m.feedback[:0]
	for _, prev := range m.feedback {
		if prev.SegmentID != fb.SegmentID {
			kept = append(kept, prev)
		}
	}
	m.feedback = kept

	m.nextFBID++
	cp := *fb
	cp.ID = m.nextFBID
	cp.SuccessfulElements = append([]string(nil), fb.SuccessfulElements...)
	cp.FailedElements = append([]string(nil), fb.FailedElements...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.feedback = append(m.feedback, &cp)
	fb.ID = cp.ID
	return nil
}

func (m *MemStore) TopSuccessfulElements(_ context.Context, characterID string, limit int) ([]ElementCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	freq := make(map[string]int)
	for _, fb := range m.feedback {
		if fb.CharacterID != characterID {
			continue
		}
		for _, elem := range fb.SuccessfulElements {
			freq[elem]++
		}
	}

	counts := make([]ElementCount, 0, len(freq))
	for elem, n := range freq {
		counts = append(counts, ElementCount{Element: elem, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Element < counts[j].Element
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts, nil
}

func (m *MemStore) FailedElementsAtLeast(_ context.Context, minRecords int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]int)
	for _, fb := range m.feedback {
		seen := make(map[string]bool)
		for _, elem := range fb.FailedElements {
			key := strings.TrimSpace(elem)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			records[key]++
		}
	}

	var elems []string
	for elem, n := range records {
		if n >= minRecords {
			elems = append(elems, elem)
		}
	}
	sort.Strings(elems)
	return elems, nil
}
