// Package database defines the durable store port (interface).
package database

import (
	"context"
	"encoding/json"

	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/audit"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/project"
	"github.com/localops/localops/internal/domain/run"
)

// Store is the port interface over the relational store. Implementations
// return domain.ErrNotFound (wrapped) for missing rows.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)

	// Plans. Plans are immutable once written; there is no update.
	CreatePlan(ctx context.Context, rec *plan.Record) error
	GetPlan(ctx context.Context, id string) (*plan.Record, error)

	// Runs. UpdateRun persists status, started_at, and finished_at; all
	// other run fields are immutable after creation.
	CreateRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, id string) (*run.Run, error)
	UpdateRun(ctx context.Context, r *run.Run) error

	// Run steps, always ordered by step_no.
	CreateRunSteps(ctx context.Context, steps []run.Step) error
	ListRunSteps(ctx context.Context, runID string) ([]run.Step, error)
	UpdateRunStep(ctx context.Context, s *run.Step) error

	// Audits, append-only, ordered by id.
	AppendAudit(ctx context.Context, runID, actor, action string, payload json.RawMessage) error
	ListAudits(ctx context.Context, runID string) ([]audit.Entry, error)

	// Artifacts, append-only, ordered by id.
	CreateArtifact(ctx context.Context, a *artifact.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]artifact.Artifact, error)
}
