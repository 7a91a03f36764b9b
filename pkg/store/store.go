// Package store persists skills, skill versions, and skill runs in
// Postgres. Vector search uses the pgvector extension when present;
// without it, retrieval degrades to misses and learning still works.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool          *pgxpool.Pool
	vectorEnabled bool
	embeddingDim  int
	logger        *slog.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, embeddingDim int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool, embeddingDim: embeddingDim, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// VectorEnabled reports whether pgvector search is available.
func (s *Store) VectorEnabled() bool {
	return s.vectorEnabled
}

// Init creates the schema. Idempotent; safe to run on every start.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		s.logger.Warn("vector_extension_unavailable", "error", err)
	}

	enabled, err := s.detectVector(ctx)
	if err != nil {
		return err
	}
	s.vectorEnabled = enabled

	embeddingType := fmt.Sprintf("vector(%d)", s.embeddingDim)
	if !enabled {
		embeddingType = "double precision[]"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS assistant_skills (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			entrypoint_text TEXT NOT NULL,
			embedding %s,
			active_version_id TEXT,
			parameters JSONB NOT NULL DEFAULT '[]',
			preconditions JSONB NOT NULL DEFAULT '[]',
			success_criteria JSONB NOT NULL DEFAULT '[]',
			examples JSONB NOT NULL DEFAULT '[]',
			generalization_score DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, embeddingType),
		`CREATE TABLE IF NOT EXISTS assistant_skill_versions (
			id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL REFERENCES assistant_skills(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			steps JSONB NOT NULL DEFAULT '[]',
			base_prompt TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (skill_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS assistant_skill_runs (
			id TEXT PRIMARY KEY,
			skill_id TEXT,
			skill_version_id TEXT,
			user_id TEXT NOT NULL,
			thread_id TEXT,
			session_id TEXT,
			input TEXT,
			step_results JSONB NOT NULL DEFAULT '[]',
			feedback_rating TEXT,
			feedback_text TEXT,
			feedback_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS assistant_skills_user_idx ON assistant_skills (user_id)`,
		`CREATE INDEX IF NOT EXISTS assistant_skill_runs_user_idx ON assistant_skill_runs (user_id)`,
	}
	if enabled {
		statements = append(statements,
			`CREATE INDEX IF NOT EXISTS assistant_skills_embedding_idx
			   ON assistant_skills USING hnsw (embedding vector_l2_ops)`)
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}

	s.logger.Info("skills_ready", "vector", enabled)
	return nil
}

func (s *Store) detectVector(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("store: detect vector extension: %w", err)
	}
	return enabled, nil
}

// FindNearest returns the closest skill by embedding distance for the
// user, or nil when vector search is unavailable or no skill exists.
func (s *Store) FindNearest(ctx context.Context, userID string, embedding []float64) (*Skill, *float64, error) {
	if len(embedding) == 0 || !s.vectorEnabled {
		return nil, nil, nil
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), entrypoint_text, COALESCE(active_version_id, ''),
		       parameters, preconditions, success_criteria, examples, generalization_score,
		       embedding::text,
		       (embedding <-> $1::vector) AS distance
		  FROM assistant_skills
		 WHERE user_id = $2
		   AND embedding IS NOT NULL
		 ORDER BY embedding <-> $1::vector
		 LIMIT 1`,
		VectorLiteral(embedding), userID)

	var sk Skill
	var params, preconds, criteria, examples []byte
	var embeddingText string
	var distance float64
	err := row.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Entrypoint, &sk.ActiveVersionID,
		&params, &preconds, &criteria, &examples, &sk.GeneralizationScore,
		&embeddingText, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: find skill: %w", err)
	}

	decodeSkillJSON(&sk, params, preconds, criteria, examples)
	sk.Embedding = ParseVector(embeddingText)
	return &sk, &distance, nil
}

// LoadSkill fetches one skill by id scoped to the user. Missing skills
// return nil without error.
func (s *Store) LoadSkill(ctx context.Context, skillID, userID string) (*Skill, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), entrypoint_text, COALESCE(active_version_id, ''),
		       parameters, preconditions, success_criteria, examples, generalization_score
		  FROM assistant_skills
		 WHERE id = $1
		   AND user_id = $2`,
		skillID, userID)

	var sk Skill
	var params, preconds, criteria, examples []byte
	err := row.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Entrypoint, &sk.ActiveVersionID,
		&params, &preconds, &criteria, &examples, &sk.GeneralizationScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load skill: %w", err)
	}

	decodeSkillJSON(&sk, params, preconds, criteria, examples)
	return &sk, nil
}

// LoadVersion fetches one skill version by id.
func (s *Store) LoadVersion(ctx context.Context, versionID string) (*SkillVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, skill_id, version, steps
		  FROM assistant_skill_versions
		 WHERE id = $1`,
		versionID)

	var v SkillVersion
	var steps []byte
	err := row.Scan(&v.ID, &v.SkillID, &v.Version, &steps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load version: %w", err)
	}
	if err := json.Unmarshal(steps, &v.Steps); err != nil {
		v.Steps = nil
	}
	return &v, nil
}

// SkillMetadata carries the generalized metadata stored on the skill row.
type SkillMetadata struct {
	Parameters          []Parameter
	Preconditions       []string
	SuccessCriteria     []string
	Examples            []Example
	GeneralizationScore *float64
}

// InsertSkill stores a new skill with its first version and makes that
// version active, atomically. Returns the skill and version ids.
func (s *Store) InsertSkill(ctx context.Context, userID string, def Definition, embedding []float64, meta SkillMetadata) (string, string, error) {
	skillID := uuid.NewString()
	versionID := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", "", fmt.Errorf("store: insert skill: %w", err)
	}
	defer tx.Rollback(ctx)

	embeddingValue, cast := s.embeddingParam(embedding)
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO assistant_skills (
			id, user_id, name, description, entrypoint_text, embedding, active_version_id,
			parameters, preconditions, success_criteria, examples, generalization_score
		)
		VALUES ($1, $2, $3, $4, $5, $6%s, $7, $8, $9, $10, $11, $12)`, cast),
		skillID, userID, def.Name, def.Description, def.Entrypoint, embeddingValue, versionID,
		marshalList(meta.Parameters), marshalList(meta.Preconditions),
		marshalList(meta.SuccessCriteria), marshalList(meta.Examples),
		meta.GeneralizationScore)
	if err != nil {
		return "", "", fmt.Errorf("store: insert skill: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO assistant_skill_versions (id, skill_id, version, steps, base_prompt)
		VALUES ($1, $2, $3, $4, NULL)`,
		versionID, skillID, 1, marshalList(def.Steps))
	if err != nil {
		return "", "", fmt.Errorf("store: insert skill version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", fmt.Errorf("store: insert skill: %w", err)
	}
	return skillID, versionID, nil
}

// SaveMerge writes a merged definition as a new version and updates the
// skill row's metadata and active version in one transaction.
func (s *Store) SaveMerge(ctx context.Context, skillID string, def Definition, embedding []float64, meta SkillMetadata) (string, error) {
	versionID := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("store: save merge: %w", err)
	}
	defer tx.Rollback(ctx)

	version, err := nextVersionLocked(ctx, tx, skillID)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO assistant_skill_versions (id, skill_id, version, steps, base_prompt)
		VALUES ($1, $2, $3, $4, NULL)`,
		versionID, skillID, version, marshalList(def.Steps))
	if err != nil {
		return "", fmt.Errorf("store: save merge version: %w", err)
	}

	embeddingValue, cast := s.embeddingParam(embedding)
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE assistant_skills
		   SET name = $1,
		       description = $2,
		       entrypoint_text = $3,
		       embedding = $4%s,
		       active_version_id = $5,
		       parameters = $6,
		       preconditions = $7,
		       success_criteria = $8,
		       examples = $9,
		       generalization_score = $10,
		       updated_at = NOW()
		 WHERE id = $11`, cast),
		def.Name, def.Description, def.Entrypoint, embeddingValue, versionID,
		marshalList(meta.Parameters), marshalList(meta.Preconditions),
		marshalList(meta.SuccessCriteria), marshalList(meta.Examples),
		meta.GeneralizationScore, skillID)
	if err != nil {
		return "", fmt.Errorf("store: save merge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("store: save merge: %w", err)
	}
	return versionID, nil
}

// SaveFix writes repaired steps as a new version and activates it,
// leaving the skill's metadata untouched.
func (s *Store) SaveFix(ctx context.Context, skillID string, steps []Step) (string, error) {
	versionID := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("store: save fix: %w", err)
	}
	defer tx.Rollback(ctx)

	version, err := nextVersionLocked(ctx, tx, skillID)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO assistant_skill_versions (id, skill_id, version, steps, base_prompt)
		VALUES ($1, $2, $3, $4, NULL)`,
		versionID, skillID, version, marshalList(steps))
	if err != nil {
		return "", fmt.Errorf("store: save fix version: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE assistant_skills
		   SET active_version_id = $1,
		       updated_at = NOW()
		 WHERE id = $2`,
		versionID, skillID)
	if err != nil {
		return "", fmt.Errorf("store: save fix: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("store: save fix: %w", err)
	}
	return versionID, nil
}

// nextVersionLocked locks the skill row and returns max(version)+1, so
// concurrent merges and fixes get contiguous version numbers.
func nextVersionLocked(ctx context.Context, tx pgx.Tx, skillID string) (int, error) {
	if _, err := tx.Exec(ctx, `SELECT id FROM assistant_skills WHERE id = $1 FOR UPDATE`, skillID); err != nil {
		return 0, fmt.Errorf("store: lock skill: %w", err)
	}
	var maxVersion int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM assistant_skill_versions WHERE skill_id = $1`,
		skillID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("store: next version: %w", err)
	}
	return maxVersion + 1, nil
}

// InsertRun stores a run row.
func (s *Store) InsertRun(ctx context.Context, run RunInsert) error {
	stepResults := run.StepResults
	if stepResults == nil {
		stepResults = []StepResult{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assistant_skill_runs (id, skill_id, skill_version_id, user_id, thread_id, session_id, input, step_results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.RunID, nullable(run.SkillID), nullable(run.SkillVersionID), run.UserID,
		nullable(run.ThreadID), nullable(run.SessionID), run.Input, marshalList(stepResults))
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// PatchRunSkill links a run to the skill the learner produced for it.
func (s *Store) PatchRunSkill(ctx context.Context, runID, userID, skillID, versionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assistant_skill_runs
		   SET skill_id = $1,
		       skill_version_id = $2,
		       updated_at = NOW()
		 WHERE id = $3
		   AND user_id = $4`,
		skillID, versionID, runID, userID)
	if err != nil {
		return fmt.Errorf("store: patch run: %w", err)
	}
	return nil
}

// GetRun fetches a run scoped to the user. Missing runs return nil.
func (s *Store) GetRun(ctx context.Context, runID, userID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(skill_id, ''), COALESCE(skill_version_id, ''), COALESCE(input, ''), step_results
		  FROM assistant_skill_runs
		 WHERE id = $1
		   AND user_id = $2`,
		runID, userID)

	var run Run
	var stepResults []byte
	err := row.Scan(&run.ID, &run.SkillID, &run.SkillVersionID, &run.Input, &stepResults)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	run.StepResults = stepResults
	return &run, nil
}

// UpdateRunFeedback records user feedback on a run.
func (s *Store) UpdateRunFeedback(ctx context.Context, runID, userID, rating, feedback string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assistant_skill_runs
		   SET feedback_rating = $1,
		       feedback_text = $2,
		       feedback_at = NOW(),
		       updated_at = NOW()
		 WHERE id = $3
		   AND user_id = $4`,
		rating, nullable(feedback), runID, userID)
	if err != nil {
		return fmt.Errorf("store: update feedback: %w", err)
	}
	return nil
}

func (s *Store) embeddingParam(embedding []float64) (any, string) {
	if len(embedding) == 0 {
		return nil, ""
	}
	if s.vectorEnabled {
		return VectorLiteral(embedding), "::vector"
	}
	return embedding, ""
}

func decodeSkillJSON(sk *Skill, params, preconds, criteria, examples []byte) {
	if err := json.Unmarshal(params, &sk.Parameters); err != nil {
		sk.Parameters = nil
	}
	if err := json.Unmarshal(preconds, &sk.Preconditions); err != nil {
		sk.Preconditions = nil
	}
	if err := json.Unmarshal(criteria, &sk.SuccessCriteria); err != nil {
		sk.SuccessCriteria = nil
	}
	if err := json.Unmarshal(examples, &sk.Examples); err != nil {
		sk.Examples = nil
	}
}

func marshalList(value any) string {
	raw, err := json.Marshal(value)
	if err != nil || value == nil {
		return "[]"
	}
	if string(raw) == "null" {
		return "[]"
	}
	return string(raw)
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// VectorLiteral renders an embedding in pgvector's input format.
func VectorLiteral(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector reads a pgvector text value back into a slice. Malformed
// values come back nil.
func ParseVector(text string) []float64 {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil
	}
	body := trimmed[1 : len(trimmed)-1]
	if strings.TrimSpace(body) == "" {
		return nil
	}
	parts := strings.Split(body, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
