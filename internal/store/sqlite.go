package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			"trigger" TEXT NOT NULL,
			input_params TEXT,
			output_summary TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON workflow_runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			agent_slug TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			status TEXT NOT NULL,
			input_data TEXT,
			output_data TEXT,
			llm_model_used TEXT,
			token_count INTEGER,
			duration_ms INTEGER,
			error_message TEXT,
			started_at DATETIME,
			completed_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES workflow_runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_seq ON workflow_steps(run_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			researcher_id INTEGER NOT NULL,
			opportunity_id INTEGER NOT NULL,
			relevance_score REAL NOT NULL,
			feasibility_score REAL NOT NULL,
			impact_score REAL NOT NULL,
			overall_score REAL NOT NULL,
			confidence TEXT NOT NULL,
			justification TEXT,
			critique TEXT,
			summary TEXT,
			flagged INTEGER NOT NULL DEFAULT 0,
			revision_needed INTEGER NOT NULL DEFAULT 0,
			computed_at DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES workflow_runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_run_score ON matches(run_id, overall_score)`,
		`CREATE TABLE IF NOT EXISTS agent_profiles (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			persona TEXT,
			system_prompt TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			llm_base_url TEXT,
			llm_model TEXT,
			llm_api_key TEXT,
			temperature REAL NOT NULL DEFAULT 0.7,
			max_tokens INTEGER NOT NULL DEFAULT 4096,
			capability_servers TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS capability_servers (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			transport TEXT NOT NULL DEFAULT 'stdio',
			command TEXT,
			args TEXT,
			url TEXT,
			env TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS researchers (
			id INTEGER PRIMARY KEY,
			full_name TEXT NOT NULL,
			position TEXT,
			summary TEXT,
			keyword_text TEXT,
			status TEXT NOT NULL DEFAULT 'ACTIVE'
		)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id INTEGER PRIMARY KEY,
			opportunity_no TEXT,
			title TEXT NOT NULL,
			synopsis TEXT,
			agency_code TEXT,
			status TEXT NOT NULL DEFAULT 'posted',
			close_date TEXT,
			award_ceiling REAL,
			award_floor REAL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Runs ────────────────────────────────────────────────────────────────

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	var input sql.NullString
	if run.InputParams != nil {
		input = sql.NullString{String: string(run.InputParams), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (run_id, status, "trigger", input_params, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Status, run.Trigger, input, run.CreatedAt)
	return err
}

// GetRun retrieves a run by ID. Returns nil when the run does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, "trigger", input_params, output_summary, error_message, created_at, started_at, completed_at
		 FROM workflow_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, status, "trigger", input_params, output_summary, error_message, created_at, started_at, completed_at
		 FROM workflow_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var input, summary, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&run.RunID, &run.Status, &run.Trigger, &input, &summary, &errMsg,
		&run.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		run.InputParams = json.RawMessage(input.String)
	}
	if summary.Valid {
		var rs domain.RunSummary
		if err := json.Unmarshal([]byte(summary.String), &rs); err == nil {
			run.Summary = &rs
		}
	}
	if errMsg.Valid {
		run.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// MarkRunStarted transitions a pending run to running and stamps started_at.
func (s *SQLiteStore) MarkRunStarted(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, started_at = ? WHERE run_id = ? AND status = ?`,
		domain.RunStatusRunning, now, runID, domain.RunStatusPending)
	return err
}

// CompleteRun moves a run to a terminal state. Runs already terminal are
// left untouched so a terminal record is immutable.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, summary *domain.RunSummary, errorMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	now := time.Now().UTC()
	var summaryStr, errStr sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
		summaryStr = sql.NullString{String: string(b), Valid: true}
	}
	if errorMessage != "" {
		errStr = sql.NullString{String: errorMessage, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, completed_at = ?, output_summary = ?, error_message = ?
		 WHERE run_id = ? AND status IN (?, ?)`,
		status, now, summaryStr, errStr, runID, domain.RunStatusPending, domain.RunStatusRunning)
	return err
}

// CountRunningRuns returns how many runs currently hold status running.
func (s *SQLiteStore) CountRunningRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_runs WHERE status = ?`, domain.RunStatusRunning).Scan(&n)
	return n, err
}

// ─── Steps ───────────────────────────────────────────────────────────────

// AppendStep inserts a step record. Steps are append-only within a run.
func (s *SQLiteStore) AppendStep(ctx context.Context, step *domain.WorkflowStep) error {
	var tokenCount sql.NullInt64
	if step.TokenCount != nil {
		tokenCount = sql.NullInt64{Int64: int64(*step.TokenCount), Valid: true}
	}
	var durationMs sql.NullInt64
	if step.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *step.DurationMs, Valid: true}
	}
	var startedAt, completedAt sql.NullTime
	if step.StartedAt != nil {
		startedAt = sql.NullTime{Time: *step.StartedAt, Valid: true}
	}
	if step.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *step.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps
		 (step_id, run_id, node_name, agent_slug, sequence, status, input_data, output_data,
		  llm_model_used, token_count, duration_ms, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.StepID, step.RunID, step.NodeName, step.AgentSlug, step.Sequence, step.Status,
		nullable(step.InputData), nullable(step.OutputData), nullable(step.LLMModelUsed),
		tokenCount, durationMs, nullable(step.ErrorMessage), startedAt, completedAt)
	return err
}

// GetSteps returns all steps for a run in strict sequence order.
func (s *SQLiteStore) GetSteps(ctx context.Context, runID string) ([]domain.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, run_id, node_name, agent_slug, sequence, status, input_data, output_data,
		        llm_model_used, token_count, duration_ms, error_message, started_at, completed_at
		 FROM workflow_steps WHERE run_id = ? ORDER BY sequence ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.WorkflowStep
	for rows.Next() {
		var st domain.WorkflowStep
		var input, output, model, errMsg sql.NullString
		var tokenCount, durationMs sql.NullInt64
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&st.StepID, &st.RunID, &st.NodeName, &st.AgentSlug, &st.Sequence,
			&st.Status, &input, &output, &model, &tokenCount, &durationMs, &errMsg,
			&startedAt, &completedAt); err != nil {
			return nil, err
		}
		st.InputData = input.String
		st.OutputData = output.String
		st.LLMModelUsed = model.String
		st.ErrorMessage = errMsg.String
		if tokenCount.Valid {
			tc := int(tokenCount.Int64)
			st.TokenCount = &tc
		}
		if durationMs.Valid {
			d := durationMs.Int64
			st.DurationMs = &d
		}
		if startedAt.Valid {
			st.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			st.CompletedAt = &completedAt.Time
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ─── Matches ─────────────────────────────────────────────────────────────

// InsertMatches writes a run's matches in one transaction and returns the
// inserted count.
func (s *SQLiteStore) InsertMatches(ctx context.Context, matches []*domain.Match) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO matches
		 (match_id, run_id, researcher_id, opportunity_id, relevance_score, feasibility_score,
		  impact_score, overall_score, confidence, justification, critique, summary,
		  flagged, revision_needed, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range matches {
		if _, err := stmt.ExecContext(ctx,
			m.MatchID, m.RunID, m.ResearcherID, m.OpportunityID,
			m.RelevanceScore, m.FeasibilityScore, m.ImpactScore, m.OverallScore,
			m.Confidence, m.Justification, m.Critique, m.Summary,
			boolToInt(m.Flagged), boolToInt(m.RevisionNeeded), m.ComputedAt); err != nil {
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetMatches returns a run's matches ordered by overall score descending.
func (s *SQLiteStore) GetMatches(ctx context.Context, runID string, limit int) ([]domain.Match, error) {
	query := `SELECT match_id, run_id, researcher_id, opportunity_id, relevance_score,
	                 feasibility_score, impact_score, overall_score, confidence,
	                 justification, critique, summary, flagged, revision_needed, computed_at
	          FROM matches WHERE run_id = ? ORDER BY overall_score DESC`
	args := []interface{}{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var m domain.Match
		var justification, critique, summary sql.NullString
		var flagged, revisionNeeded int
		if err := rows.Scan(&m.MatchID, &m.RunID, &m.ResearcherID, &m.OpportunityID,
			&m.RelevanceScore, &m.FeasibilityScore, &m.ImpactScore, &m.OverallScore,
			&m.Confidence, &justification, &critique, &summary,
			&flagged, &revisionNeeded, &m.ComputedAt); err != nil {
			return nil, err
		}
		m.Justification = justification.String
		m.Critique = critique.String
		m.Summary = summary.String
		m.Flagged = flagged != 0
		m.RevisionNeeded = revisionNeeded != 0
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ─── Agent profiles ──────────────────────────────────────────────────────

// GetProfile retrieves an agent profile by slug. Returns nil when missing.
func (s *SQLiteStore) GetProfile(ctx context.Context, slug string) (*domain.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slug, name, description, persona, system_prompt, enabled, llm_base_url,
		        llm_model, llm_api_key, temperature, max_tokens, capability_servers,
		        created_at, updated_at
		 FROM agent_profiles WHERE slug = ?`, slug)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProfiles returns all agent profiles ordered by slug.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]domain.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, name, description, persona, system_prompt, enabled, llm_base_url,
		        llm_model, llm_api_key, temperature, max_tokens, capability_servers,
		        created_at, updated_at
		 FROM agent_profiles ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.AgentProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

func scanProfile(row rowScanner) (*domain.AgentProfile, error) {
	var p domain.AgentProfile
	var description, persona, systemPrompt, baseURL, model, apiKey, capServers sql.NullString
	var enabled int
	err := row.Scan(&p.Slug, &p.Name, &description, &persona, &systemPrompt, &enabled,
		&baseURL, &model, &apiKey, &p.Temperature, &p.MaxTokens, &capServers,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Persona = persona.String
	p.SystemPrompt = systemPrompt.String
	p.Enabled = enabled != 0
	p.LLMBaseURL = baseURL.String
	p.LLMModel = model.String
	p.LLMAPIKey = apiKey.String
	if capServers.Valid && capServers.String != "" {
		_ = json.Unmarshal([]byte(capServers.String), &p.CapabilityServers)
	}
	return &p, nil
}

// PutProfile inserts or replaces an agent profile.
func (s *SQLiteStore) PutProfile(ctx context.Context, p *domain.AgentProfile) error {
	capServers, _ := json.Marshal(p.CapabilityServers)
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_profiles
		 (slug, name, description, persona, system_prompt, enabled, llm_base_url, llm_model,
		  llm_api_key, temperature, max_tokens, capability_servers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   persona = excluded.persona,
		   system_prompt = excluded.system_prompt,
		   enabled = excluded.enabled,
		   llm_base_url = excluded.llm_base_url,
		   llm_model = excluded.llm_model,
		   llm_api_key = excluded.llm_api_key,
		   temperature = excluded.temperature,
		   max_tokens = excluded.max_tokens,
		   capability_servers = excluded.capability_servers,
		   updated_at = excluded.updated_at`,
		p.Slug, p.Name, nullable(p.Description), nullable(p.Persona), nullable(p.SystemPrompt),
		boolToInt(p.Enabled), nullable(p.LLMBaseURL), nullable(p.LLMModel), nullable(p.LLMAPIKey),
		p.Temperature, p.MaxTokens, string(capServers), p.CreatedAt, p.UpdatedAt)
	return err
}

// ─── Capability servers ──────────────────────────────────────────────────

// GetCapabilityServer retrieves a capability server by slug. Returns nil
// when missing.
func (s *SQLiteStore) GetCapabilityServer(ctx context.Context, slug string) (*domain.CapabilityServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slug, name, transport, command, args, url, env, enabled, created_at
		 FROM capability_servers WHERE slug = ?`, slug)
	cs, err := scanCapabilityServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cs, err
}

// ListCapabilityServers returns all capability servers ordered by slug.
func (s *SQLiteStore) ListCapabilityServers(ctx context.Context) ([]domain.CapabilityServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, name, transport, command, args, url, env, enabled, created_at
		 FROM capability_servers ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.CapabilityServer
	for rows.Next() {
		cs, err := scanCapabilityServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *cs)
	}
	return servers, rows.Err()
}

func scanCapabilityServer(row rowScanner) (*domain.CapabilityServer, error) {
	var cs domain.CapabilityServer
	var command, args, url, env sql.NullString
	var enabled int
	err := row.Scan(&cs.Slug, &cs.Name, &cs.Transport, &command, &args, &url, &env,
		&enabled, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	cs.Command = command.String
	cs.URL = url.String
	cs.Enabled = enabled != 0
	if args.Valid && args.String != "" {
		_ = json.Unmarshal([]byte(args.String), &cs.Args)
	}
	if env.Valid && env.String != "" {
		_ = json.Unmarshal([]byte(env.String), &cs.Env)
	}
	return &cs, nil
}

// PutCapabilityServer inserts or replaces a capability server.
func (s *SQLiteStore) PutCapabilityServer(ctx context.Context, cs *domain.CapabilityServer) error {
	args, _ := json.Marshal(cs.Args)
	env, _ := json.Marshal(cs.Env)
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capability_servers (slug, name, transport, command, args, url, env, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
		   name = excluded.name,
		   transport = excluded.transport,
		   command = excluded.command,
		   args = excluded.args,
		   url = excluded.url,
		   env = excluded.env,
		   enabled = excluded.enabled`,
		cs.Slug, cs.Name, cs.Transport, nullable(cs.Command), string(args),
		nullable(cs.URL), string(env), boolToInt(cs.Enabled), cs.CreatedAt)
	return err
}

// ─── Researchers and opportunities ───────────────────────────────────────

// ListResearchers returns active researchers, optionally restricted to ids.
func (s *SQLiteStore) ListResearchers(ctx context.Context, ids []int64) ([]domain.Researcher, error) {
	query := `SELECT id, full_name, position, summary, keyword_text, status
	          FROM researchers WHERE status = 'ACTIVE'`
	args := []interface{}{}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var researchers []domain.Researcher
	for rows.Next() {
		var r domain.Researcher
		var position, summary, keywordText sql.NullString
		if err := rows.Scan(&r.ID, &r.FullName, &position, &summary, &keywordText, &r.Status); err != nil {
			return nil, err
		}
		r.Position = position.String
		r.Summary = summary.String
		r.KeywordText = keywordText.String
		researchers = append(researchers, r)
	}
	return researchers, rows.Err()
}

// ListOpportunities returns posted or forecasted opportunities, optionally
// restricted to ids.
func (s *SQLiteStore) ListOpportunities(ctx context.Context, ids []int64) ([]domain.Opportunity, error) {
	query := `SELECT id, opportunity_no, title, synopsis, agency_code, status, close_date,
	                 award_ceiling, award_floor
	          FROM opportunities WHERE status IN ('posted', 'forecasted')`
	args := []interface{}{}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opportunities []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var oppNo, synopsis, agency, closeDate sql.NullString
		var ceiling, floor sql.NullFloat64
		if err := rows.Scan(&o.ID, &oppNo, &o.Title, &synopsis, &agency, &o.Status,
			&closeDate, &ceiling, &floor); err != nil {
			return nil, err
		}
		o.OpportunityNo = oppNo.String
		o.Synopsis = synopsis.String
		o.AgencyCode = agency.String
		o.CloseDate = closeDate.String
		if ceiling.Valid {
			o.AwardCeiling = &ceiling.Float64
		}
		if floor.Valid {
			o.AwardFloor = &floor.Float64
		}
		opportunities = append(opportunities, o)
	}
	return opportunities, rows.Err()
}

// UpsertResearcher inserts or replaces a researcher record.
func (s *SQLiteStore) UpsertResearcher(ctx context.Context, r *domain.Researcher) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO researchers (id, full_name, position, summary, keyword_text, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.FullName, nullable(r.Position), nullable(r.Summary), nullable(r.KeywordText), r.Status)
	return err
}

// UpsertOpportunity inserts or replaces an opportunity record.
func (s *SQLiteStore) UpsertOpportunity(ctx context.Context, o *domain.Opportunity) error {
	var ceiling, floor sql.NullFloat64
	if o.AwardCeiling != nil {
		ceiling = sql.NullFloat64{Float64: *o.AwardCeiling, Valid: true}
	}
	if o.AwardFloor != nil {
		floor = sql.NullFloat64{Float64: *o.AwardFloor, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO opportunities
		 (id, opportunity_no, title, synopsis, agency_code, status, close_date, award_ceiling, award_floor)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, nullable(o.OpportunityNo), o.Title, nullable(o.Synopsis), nullable(o.AgencyCode),
		o.Status, nullable(o.CloseDate), ceiling, floor)
	return err
}

// ─── helpers ─────────────────────────────────────────────────────────────

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
