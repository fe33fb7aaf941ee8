package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore is the PostgreSQL-backed SceneStore implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresStore implements SceneStore.
var _ SceneStore = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and verifies the connection.
// Call Close when the store is no longer needed.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Msg("Connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the database schema if it doesn't exist.
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS scenes (
            id                 VARCHAR(64) PRIMARY KEY,
            sequence_id        VARCHAR(64) NOT NULL,
            position           INTEGER NOT NULL,
            target_duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
            location           TEXT NOT NULL DEFAULT '',
            time_of_day        TEXT NOT NULL DEFAULT '',
            weather            TEXT NOT NULL DEFAULT '',
            mood               TEXT NOT NULL DEFAULT '',
            entry_keyframe     TEXT NOT NULL DEFAULT '',
            exit_keyframe      TEXT NOT NULL DEFAULT '',
            status             VARCHAR(16) NOT NULL DEFAULT 'pending',
            completed_segments INTEGER NOT NULL DEFAULT 0,
            final_video_path   TEXT NOT NULL DEFAULT '',
            created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE(sequence_id, position)
        );

        CREATE TABLE IF NOT EXISTS character_states (
            scene_id        VARCHAR(64) NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
            character_id    VARCHAR(64) NOT NULL,
            name            TEXT NOT NULL DEFAULT '',
            outfit          TEXT NOT NULL DEFAULT '',
            hair            TEXT NOT NULL DEFAULT '',
            accessories     TEXT NOT NULL DEFAULT '',
            expression      TEXT NOT NULL DEFAULT '',
            pose            TEXT NOT NULL DEFAULT '',
            emotional_state TEXT NOT NULL DEFAULT '',
            position_facing TEXT NOT NULL DEFAULT '',
            exited          BOOLEAN NOT NULL DEFAULT FALSE,
            PRIMARY KEY(scene_id, character_id)
        );

        CREATE TABLE IF NOT EXISTS story_states (
            scene_id         VARCHAR(64) PRIMARY KEY REFERENCES scenes(id) ON DELETE CASCADE,
            plot_summary     TEXT NOT NULL DEFAULT '',
            prior_context    TEXT NOT NULL DEFAULT '',
            upcoming_context TEXT NOT NULL DEFAULT '',
            tension_level    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
            pacing           TEXT NOT NULL DEFAULT '',
            key_dialogue     TEXT[] NOT NULL DEFAULT '{}',
            music_mood       TEXT NOT NULL DEFAULT ''
        );

        CREATE TABLE IF NOT EXISTS visual_states (
            scene_id           VARCHAR(64) PRIMARY KEY REFERENCES scenes(id) ON DELETE CASCADE,
            lighting_type      TEXT NOT NULL DEFAULT '',
            lighting_direction TEXT NOT NULL DEFAULT '',
            lighting_color     TEXT NOT NULL DEFAULT '',
            shadow_intensity   DOUBLE PRECISION NOT NULL DEFAULT 0.5,
            color_palette      TEXT NOT NULL DEFAULT '',
            camera_angle       TEXT NOT NULL DEFAULT '',
            camera_movement    TEXT NOT NULL DEFAULT '',
            style_keywords     TEXT[] NOT NULL DEFAULT '{}',
            negative_keywords  TEXT[] NOT NULL DEFAULT '{}'
        );

        CREATE TABLE IF NOT EXISTS segments (
            id                BIGSERIAL PRIMARY KEY,
            scene_id          VARCHAR(64) NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
            segment_number    INTEGER NOT NULL,
            prompt            TEXT NOT NULL DEFAULT '',
            negative_prompt   TEXT NOT NULL DEFAULT '',
            first_frame_path  TEXT NOT NULL DEFAULT '',
            last_frame_path   TEXT NOT NULL DEFAULT '',
            status            VARCHAR(16) NOT NULL DEFAULT 'pending',
            video_path        TEXT NOT NULL DEFAULT '',
            frame_consistency DOUBLE PRECISION NOT NULL DEFAULT 0,
            motion_smoothness DOUBLE PRECISION NOT NULL DEFAULT 0,
            overall_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
            scored            BOOLEAN NOT NULL DEFAULT FALSE,
            created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE(scene_id, segment_number)
        );

        CREATE TABLE IF NOT EXISTS quality_feedback (
            id                  BIGSERIAL PRIMARY KEY,
            segment_id          BIGINT NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
            character_id        VARCHAR(64) NOT NULL DEFAULT '',
            prompt_text         TEXT NOT NULL DEFAULT '',
            overall_score       DOUBLE PRECISION NOT NULL,
            consistency_score   DOUBLE PRECISION NOT NULL,
            smoothness_score    DOUBLE PRECISION NOT NULL,
            successful_elements TEXT[] NOT NULL DEFAULT '{}',
            failed_elements     TEXT[] NOT NULL DEFAULT '{}',
            created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_scenes_sequence ON scenes(sequence_id, position);
        CREATE INDEX IF NOT EXISTS idx_segments_scene ON segments(scene_id, segment_number);
        CREATE INDEX IF NOT EXISTS idx_feedback_segment ON quality_feedback(segment_id);
        CREATE INDEX IF NOT EXISTS idx_feedback_character ON quality_feedback(character_id);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}

// --- Scenes ---

const sceneColumns = `id, sequence_id, position, target_duration, location, time_of_day,
       weather, mood, entry_keyframe, exit_keyframe, status, completed_segments,
       final_video_path, created_at`

func scanScene(row pgx.Row) (*Scene, error) {
	var sc Scene
	err := row.Scan(&sc.ID, &sc.SequenceID, &sc.Position, &sc.TargetDuration, &sc.Location,
		&sc.TimeOfDay, &sc.Weather, &sc.Mood, &sc.EntryKeyframe, &sc.ExitKeyframe,
		&sc.Status, &sc.CompletedSegments, &sc.FinalVideoPath, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) CreateScene(ctx context.Context, scene *Scene) error {
	status := scene.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO scenes (id, sequence_id, position, target_duration, location,
            time_of_day, weather, mood, entry_keyframe, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		scene.ID, scene.SequenceID, scene.Position, scene.TargetDuration, scene.Location,
		scene.TimeOfDay, scene.Weather, scene.Mood, scene.EntryKeyframe, status)
	if err != nil {
		return fmt.Errorf("create scene %s: %w", scene.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetScene(ctx context.Context, sceneID string) (*Scene, error) {
	sc, err := scanScene(s.pool.QueryRow(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE id = $1`, sceneID))
	if err != nil {
		return nil, fmt.Errorf("get scene %s: %w", sceneID, err)
	}
	return sc, nil
}

func (s *PostgresStore) GetSceneByPosition(ctx context.Context, sequenceID string, position int) (*Scene, error) {
	sc, err := scanScene(s.pool.QueryRow(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE sequence_id = $1 AND position = $2`,
		sequenceID, position))
	if err != nil {
		return nil, fmt.Errorf("get scene at %s/%d: %w", sequenceID, position, err)
	}
	return sc, nil
}

func (s *PostgresStore) UpdateSceneStatus(ctx context.Context, sceneID, status string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE scenes SET status = $2
        WHERE id = $1
          AND CASE status WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 ELSE 2 END
            < CASE $2     WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 ELSE 2 END`,
		sceneID, status)
	if err != nil {
		return fmt.Errorf("update scene %s status: %w", sceneID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("sceneId", sceneID).Str("status", status).Msg("Scene status unchanged (backward transition or missing scene)")
	}
	return nil
}

func (s *PostgresStore) UpdateSceneOutput(ctx context.Context, sceneID, finalVideoPath, exitKeyframe string, completedSegments int) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE scenes SET final_video_path = $2, exit_keyframe = $3, completed_segments = $4
        WHERE id = $1`,
		sceneID, finalVideoPath, exitKeyframe, completedSegments)
	if err != nil {
		return fmt.Errorf("update scene %s output: %w", sceneID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateSceneEntryKeyframe(ctx context.Context, sceneID, keyframe string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scenes SET entry_keyframe = $2 WHERE id = $1 AND entry_keyframe = ''`,
		sceneID, keyframe)
	if err != nil {
		return fmt.Errorf("update scene %s entry keyframe: %w", sceneID, err)
	}
	return nil
}

// --- Per-scene memory state ---

func (s *PostgresStore) UpsertCharacterState(ctx context.Context, st *CharacterState) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO character_states (scene_id, character_id, name, outfit, hair,
            accessories, expression, pose, emotional_state, position_facing, exited)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (scene_id, character_id) DO UPDATE SET
            name = EXCLUDED.name, outfit = EXCLUDED.outfit, hair = EXCLUDED.hair,
            accessories = EXCLUDED.accessories, expression = EXCLUDED.expression,
            pose = EXCLUDED.pose, emotional_state = EXCLUDED.emotional_state,
            position_facing = EXCLUDED.position_facing, exited = EXCLUDED.exited`,
		st.SceneID, st.CharacterID, st.Name, st.Outfit, st.Hair, st.Accessories,
		st.Expression, st.Pose, st.EmotionalState, st.PositionFacing, st.Exited)
	if err != nil {
		return fmt.Errorf("upsert character state %s/%s: %w", st.SceneID, st.CharacterID, err)
	}
	return nil
}

func (s *PostgresStore) ListCharacterStates(ctx context.Context, sceneID string) ([]*CharacterState, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT scene_id, character_id, name, outfit, hair, accessories, expression,
               pose, emotional_state, position_facing, exited
        FROM character_states WHERE scene_id = $1 ORDER BY character_id`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("list character states %s: %w", sceneID, err)
	}
	defer rows.Close()

	var states []*CharacterState
	for rows.Next() {
		var st CharacterState
		if err := rows.Scan(&st.SceneID, &st.CharacterID, &st.Name, &st.Outfit, &st.Hair,
			&st.Accessories, &st.Expression, &st.Pose, &st.EmotionalState,
			&st.PositionFacing, &st.Exited); err != nil {
			return nil, fmt.Errorf("scan character state: %w", err)
		}
		states = append(states, &st)
	}
	return states, rows.Err()
}

func (s *PostgresStore) UpsertStoryState(ctx context.Context, st *StoryState) error {
	dialogue := st.KeyDialogue
	if dialogue == nil {
		dialogue = []string{}
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO story_states (scene_id, plot_summary, prior_context, upcoming_context,
            tension_level, pacing, key_dialogue, music_mood)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (scene_id) DO UPDATE SET
            plot_summary = EXCLUDED.plot_summary, prior_context = EXCLUDED.prior_context,
            upcoming_context = EXCLUDED.upcoming_context, tension_level = EXCLUDED.tension_level,
            pacing = EXCLUDED.pacing, key_dialogue = EXCLUDED.key_dialogue,
            music_mood = EXCLUDED.music_mood`,
		st.SceneID, st.PlotSummary, st.PriorContext, st.UpcomingContext,
		st.TensionLevel, st.Pacing, dialogue, st.MusicMood)
	if err != nil {
		return fmt.Errorf("upsert story state %s: %w", st.SceneID, err)
	}
	return nil
}

func (s *PostgresStore) GetStoryState(ctx context.Context, sceneID string) (*StoryState, error) {
	var st StoryState
	err := s.pool.QueryRow(ctx, `
        SELECT scene_id, plot_summary, prior_context, upcoming_context, tension_level,
               pacing, key_dialogue, music_mood
        FROM story_states WHERE scene_id = $1`, sceneID).
		Scan(&st.SceneID, &st.PlotSummary, &st.PriorContext, &st.UpcomingContext,
			&st.TensionLevel, &st.Pacing, &st.KeyDialogue, &st.MusicMood)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story state %s: %w", sceneID, err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertVisualState(ctx context.Context, st *VisualState) error {
	style := st.StyleKeywords
	if style == nil {
		style = []string{}
	}
	negative := st.NegativeKeywords
	if negative == nil {
		negative = []string{}
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO visual_states (scene_id, lighting_type, lighting_direction,
            lighting_color, shadow_intensity, color_palette, camera_angle,
            camera_movement, style_keywords, negative_keywords)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (scene_id) DO UPDATE SET
            lighting_type = EXCLUDED.lighting_type,
            lighting_direction = EXCLUDED.lighting_direction,
            lighting_color = EXCLUDED.lighting_color,
            shadow_intensity = EXCLUDED.shadow_intensity,
            color_palette = EXCLUDED.color_palette,
            camera_angle = EXCLUDED.camera_angle,
            camera_movement = EXCLUDED.camera_movement,
            style_keywords = EXCLUDED.style_keywords,
            negative_keywords = EXCLUDED.negative_keywords`,
		st.SceneID, st.LightingType, st.LightingDirection, st.LightingColor,
		st.ShadowIntensity, st.ColorPalette, st.CameraAngle, st.CameraMovement,
		style, negative)
	if err != nil {
		return fmt.Errorf("upsert visual state %s: %w", st.SceneID, err)
	}
	return nil
}

func (s *PostgresStore) GetVisualState(ctx context.Context, sceneID string) (*VisualState, error) {
	var st VisualState
	err := s.pool.QueryRow(ctx, `
        SELECT scene_id, lighting_type, lighting_direction, lighting_color,
               shadow_intensity, color_palette, camera_angle, camera_movement,
               style_keywords, negative_keywords
        FROM visual_states WHERE scene_id = $1`, sceneID).
		Scan(&st.SceneID, &st.LightingType, &st.LightingDirection, &st.LightingColor,
			&st.ShadowIntensity, &st.ColorPalette, &st.CameraAngle, &st.CameraMovement,
			&st.StyleKeywords, &st.NegativeKeywords)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visual state %s: %w", sceneID, err)
	}
	return &st, nil
}

// --- Segments ---

const segmentColumns = `id, scene_id, segment_number, prompt, negative_prompt,
       first_frame_path, last_frame_path, status, video_path, frame_consistency,
       motion_smoothness, overall_score, scored, created_at`

func scanSegment(row pgx.Row) (*Segment, error) {
	var seg Segment
	err := row.Scan(&seg.ID, &seg.SceneID, &seg.SegmentNumber, &seg.Prompt,
		&seg.NegativePrompt, &seg.FirstFramePath, &seg.LastFramePath, &seg.Status,
		&seg.VideoPath, &seg.FrameConsistency, &seg.MotionSmoothness,
		&seg.OverallScore, &seg.Scored, &seg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func (s *PostgresStore) GetOrCreateSegment(ctx context.Context, sceneID string, segmentNumber int) (*Segment, error) {
	// Insert-if-absent, then read back. ON CONFLICT DO NOTHING keeps the
	// first writer's row under concurrent calls.
	_, err := s.pool.Exec(ctx, `
        INSERT INTO segments (scene_id, segment_number)
        VALUES ($1, $2)
        ON CONFLICT (scene_id, segment_number) DO NOTHING`,
		sceneID, segmentNumber)
	if err != nil {
		return nil, fmt.Errorf("create segment %s/%d: %w", sceneID, segmentNumber, err)
	}

	seg, err := scanSegment(s.pool.QueryRow(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE scene_id = $1 AND segment_number = $2`,
		sceneID, segmentNumber))
	if err != nil {
		return nil, fmt.Errorf("get segment %s/%d: %w", sceneID, segmentNumber, err)
	}
	if seg == nil {
		return nil, fmt.Errorf("segment %s/%d missing after insert", sceneID, segmentNumber)
	}
	return seg, nil
}

func (s *PostgresStore) UpdateSegmentPrompt(ctx context.Context, segmentID int64, prompt, negativePrompt, firstFramePath string) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE segments SET prompt = $2, negative_prompt = $3, first_frame_path = $4
        WHERE id = $1`,
		segmentID, prompt, negativePrompt, firstFramePath)
	if err != nil {
		return fmt.Errorf("update segment %d prompt: %w", segmentID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateSegmentStatus(ctx context.Context, segmentID int64, status string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE segments SET status = $2
        WHERE id = $1
          AND CASE status WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 ELSE 2 END
            < CASE $2     WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 ELSE 2 END`,
		segmentID, status)
	if err != nil {
		return fmt.Errorf("update segment %d status: %w", segmentID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Int64("segmentId", segmentID).Str("status", status).Msg("Segment status unchanged (backward transition or missing segment)")
	}
	return nil
}

func (s *PostgresStore) UpdateSegmentOutput(ctx context.Context, segmentID int64, videoPath, lastFramePath string, consistency, smoothness, overall float64) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE segments SET video_path = $2, last_frame_path = $3,
            frame_consistency = $4, motion_smoothness = $5, overall_score = $6,
            scored = TRUE
        WHERE id = $1`,
		segmentID, videoPath, lastFramePath, consistency, smoothness, overall)
	if err != nil {
		return fmt.Errorf("update segment %d output: %w", segmentID, err)
	}
	return nil
}

func (s *PostgresStore) ListSegments(ctx context.Context, sceneID string) ([]*Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE scene_id = $1 ORDER BY segment_number`,
		sceneID)
	if err != nil {
		return nil, fmt.Errorf("list segments %s: %w", sceneID, err)
	}
	defer rows.Close()

	var segs []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// --- Quality feedback / learning aggregates ---

func (s *PostgresStore) InsertQualityFeedback(ctx context.Context, fb *QualityFeedback) error {
	successful := fb.SuccessfulElements
	if successful == nil {
		successful = []string{}
	}
	failed := fb.FailedElements
	if failed == nil {
		failed = []string{}
	}

	// Delete-then-insert in one transaction keeps at most one active record
	// per segment.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM quality_feedback WHERE segment_id = $1`, fb.SegmentID); err != nil {
		return fmt.Errorf("clear prior feedback for segment %d: %w", fb.SegmentID, err)
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO quality_feedback (segment_id, character_id, prompt_text,
            overall_score, consistency_score, smoothness_score,
            successful_elements, failed_elements)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`,
		fb.SegmentID, fb.CharacterID, fb.PromptText, fb.OverallScore,
		fb.ConsistencyScore, fb.SmoothnessScore, successful, failed).Scan(&fb.ID)
	if err != nil {
		return fmt.Errorf("insert feedback for segment %d: %w", fb.SegmentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit feedback tx: %w", err)
	}

	log.Debug().
		Int64("segmentId", fb.SegmentID).
		Str("characterId", fb.CharacterID).
		Float64("overall", fb.OverallScore).
		Int("successful", len(successful)).
		Int("failed", len(failed)).
		Msg("Quality feedback persisted")
	return nil
}

func (s *PostgresStore) TopSuccessfulElements(ctx context.Context, characterID string, limit int) ([]ElementCount, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT elem, COUNT(*) AS freq
        FROM quality_feedback, unnest(successful_elements) AS elem
        WHERE character_id = $1
        GROUP BY elem
        ORDER BY freq DESC, elem ASC
        LIMIT $2`,
		characterID, limit)
	if err != nil {
		return nil, fmt.Errorf("top successful elements for %s: %w", characterID, err)
	}
	defer rows.Close()

	var counts []ElementCount
	for rows.Next() {
		var ec ElementCount
		if err := rows.Scan(&ec.Element, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan element count: %w", err)
		}
		counts = append(counts, ec)
	}
	return counts, rows.Err()
}

func (s *PostgresStore) FailedElementsAtLeast(ctx context.Context, minRecords int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT elem
        FROM quality_feedback, unnest(failed_elements) AS elem
        GROUP BY elem
        HAVING COUNT(DISTINCT id) >= $1
        ORDER BY elem`,
		minRecords)
	if err != nil {
		return nil, fmt.Errorf("failed elements aggregate: %w", err)
	}
	defer rows.Close()

	var elems []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan failed element: %w", err)
		}
		elems = append(elems, e)
	}
	return elems, rows.Err()
}
