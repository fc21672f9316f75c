package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localops/localops/internal/domain"
	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/audit"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/project"
	"github.com/localops/localops/internal/domain/run"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, root_path)
		 VALUES ($1, $2)
		 RETURNING id, name, root_path, created_at`,
		req.Name, req.RootPath)

	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, root_path, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, root_path, created_at FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// --- Plans ---

func (s *Store) CreatePlan(ctx context.Context, rec *plan.Record) error {
	planJSON, err := json.Marshal(rec.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan_json: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO plans (project_id, intent_text, plan_json)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		rec.ProjectID, rec.IntentText, planJSON)

	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, intent_text, plan_json, created_at FROM plans WHERE id = $1`, id)

	var rec plan.Record
	var planJSON []byte
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.IntentText, &planJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get plan %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	if err := json.Unmarshal(planJSON, &rec.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan_json: %w", err)
	}
	return &rec, nil
}

// --- Runs ---

func scanRun(row scannable) (run.Run, error) {
	var r run.Run
	var metaJSON []byte
	err := row.Scan(&r.ID, &r.ProjectID, &r.PlanID, &r.Status,
		&r.StartedAt, &r.FinishedAt, &metaJSON, &r.RiskLevel, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(metaJSON, &r.SandboxMeta); err != nil {
		return r, fmt.Errorf("unmarshal sandbox_meta: %w", err)
	}
	return r, nil
}

const runColumns = `id, project_id, COALESCE(plan_id::text, ''), status, started_at, finished_at, sandbox_meta, risk_level, created_at`

func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	metaJSON, err := json.Marshal(r.SandboxMeta)
	if err != nil {
		return fmt.Errorf("marshal sandbox_meta: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO runs (project_id, plan_id, status, sandbox_meta, risk_level)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		r.ProjectID, nullIfEmpty(r.PlanID), r.Status, metaJSON, r.RiskLevel)

	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE id = $1`, runColumns), id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// UpdateRun persists the mutable run fields: status, started_at, finished_at.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, started_at = $3, finished_at = $4 WHERE id = $1`,
		r.ID, r.Status, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Run steps ---

func scanStep(row scannable) (run.Step, error) {
	var st run.Step
	var stdout, stderr *string
	err := row.Scan(&st.ID, &st.RunID, &st.StepNo, &st.Type, &st.Command,
		&st.Status, &st.ExitCode, &st.StartedAt, &st.FinishedAt, &stdout, &stderr)
	if err != nil {
		return st, err
	}
	if stdout != nil {
		st.StdoutPath = *stdout
	}
	if stderr != nil {
		st.StderrPath = *stderr
	}
	return st, nil
}

func (s *Store) CreateRunSteps(ctx context.Context, steps []run.Step) error {
	batch := &pgx.Batch{}
	for i := range steps {
		st := &steps[i]
		batch.Queue(
			`INSERT INTO run_steps (run_id, step_no, type, command, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			st.RunID, st.StepNo, st.Type, st.Command, st.Status)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range steps {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create run steps: %w", err)
		}
	}
	return nil
}

func (s *Store) ListRunSteps(ctx context.Context, runID string) ([]run.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, step_no, type, command, status, exit_code, started_at, finished_at, stdout_path, stderr_path
		 FROM run_steps WHERE run_id = $1 ORDER BY step_no`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []run.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) UpdateRunStep(ctx context.Context, st *run.Step) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $2, exit_code = $3, started_at = $4, finished_at = $5,
		        stdout_path = $6, stderr_path = $7
		 WHERE id = $1`,
		st.ID, st.Status, st.ExitCode, st.StartedAt, st.FinishedAt,
		nullIfEmpty(st.StdoutPath), nullIfEmpty(st.StderrPath))
	if err != nil {
		return fmt.Errorf("update run step %s: %w", st.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run step %s: %w", st.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Audits ---

func (s *Store) AppendAudit(ctx context.Context, runID, actor, action string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audits (run_id, actor, action, payload_json) VALUES ($1, $2, $3, $4)`,
		runID, actor, action, payload)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", action, err)
	}
	return nil
}

func (s *Store) ListAudits(ctx context.Context, runID string) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, actor, action, payload_json, created_at
		 FROM audits WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list audits %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Actor, &e.Action, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Artifacts ---

func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO artifacts (run_id, kind, path, sha256, size)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.RunID, a.Kind, a.Path, a.SHA256, a.Size)

	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, kind, path, sha256, size, created_at
		 FROM artifacts WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts %s: %w", runID, err)
	}
	defer rows.Close()

	var artifacts []artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.Path, &a.SHA256, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
