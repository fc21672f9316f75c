// Package service implements the LocalOps business logic: plan
// synthesis, run control, and the worker-side orchestrator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/localops/localops/internal/adapter/otel"
	"github.com/localops/localops/internal/domain"
	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/audit"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/cache"
	"github.com/localops/localops/internal/port/database"
	"github.com/localops/localops/internal/port/messagequeue"
)

const planCacheTTL = time.Hour

// ControlService implements the approval/control operations: plan
// creation, run creation, approve, cancel, and the run view.
type ControlService struct {
	store   database.Store
	queue   messagequeue.Queue
	planner Planner
	cache   cache.Cache
	metrics *otel.Metrics
}

// NewControlService creates a ControlService. cache and metrics may be nil.
func NewControlService(store database.Store, queue messagequeue.Queue, planner Planner, c cache.Cache, metrics *otel.Metrics) *ControlService {
	return &ControlService{store: store, queue: queue, planner: planner, cache: c, metrics: metrics}
}

// CreatePlan synthesizes a plan for the intent and persists it.
func (s *ControlService) CreatePlan(ctx context.Context, projectID string, req plan.CreateRequest) (*plan.Record, error) {
	if strings.TrimSpace(req.IntentText) == "" {
		return nil, fmt.Errorf("%w: intent_text is required", domain.ErrValidation)
	}

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	p := s.planner(req.IntentText)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("planner produced invalid plan: %w", err)
	}

	rec := &plan.Record{
		ProjectID:  projectID,
		IntentText: req.IntentText,
		Plan:       p,
	}
	if err := s.store.CreatePlan(ctx, rec); err != nil {
		return nil, err
	}

	s.cachePlan(ctx, rec)
	return rec, nil
}

// CreateRun materializes a run in AWAITING_REVIEW from a persisted plan:
// one run step per plan command, flattened in plan order into a dense
// 1-based step_no sequence carrying the enclosing plan step's type.
func (s *ControlService) CreateRun(ctx context.Context, projectID string, req run.CreateRequest) (*run.Run, []run.Step, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, nil, err
	}

	rec, err := s.getPlan(ctx, req.PlanID)
	if err != nil {
		return nil, nil, err
	}
	if rec.ProjectID != projectID {
		return nil, nil, fmt.Errorf("get plan %s: %w", req.PlanID, domain.ErrNotFound)
	}

	// Consistency check: the constant path PENDING -> PLANNED ->
	// AWAITING_REVIEW must be legal before the run is persisted in its
	// reviewed state.
	if err := run.CheckTransition(run.StatusPending, run.StatusPlanned); err != nil {
		return nil, nil, err
	}
	if err := run.CheckTransition(run.StatusPlanned, run.StatusAwaitingReview); err != nil {
		return nil, nil, err
	}

	riskLevel := string(rec.Plan.RiskLevel)
	if riskLevel == "" {
		riskLevel = string(plan.RiskMedium)
	}

	r := &run.Run{
		ProjectID:   projectID,
		PlanID:      rec.ID,
		Status:      run.StatusAwaitingReview,
		SandboxMeta: run.DefaultSandboxMeta(),
		RiskLevel:   riskLevel,
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		return nil, nil, err
	}

	var steps []run.Step
	stepNo := 0
	for _, ps := range rec.Plan.Steps {
		for _, command := range ps.Commands {
			stepNo++
			steps = append(steps, run.Step{
				RunID:   r.ID,
				StepNo:  stepNo,
				Type:    ps.Type,
				Command: command,
				Status:  run.StepQueued,
			})
		}
	}
	if err := s.store.CreateRunSteps(ctx, steps); err != nil {
		return nil, nil, err
	}

	if err := s.store.AppendAudit(ctx, r.ID, audit.ActorUser, audit.ActionRunCreated,
		audit.Marshal(audit.RunCreatedPayload{PlanID: rec.ID})); err != nil {
		return nil, nil, err
	}

	return r, steps, nil
}

// Approve moves an AWAITING_REVIEW run to RUNNING and enqueues it for
// the worker. The status write happens before the enqueue so the worker
// always observes RUNNING.
func (s *ControlService) Approve(ctx context.Context, runID string) (*run.Run, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := run.CheckTransition(r.Status, run.StatusRunning); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.Status = run.StatusRunning
	r.StartedAt = &now
	if err := s.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.AppendAudit(ctx, r.ID, audit.ActorUser, audit.ActionRunApproved, nil); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1)
	}

	data, err := json.Marshal(messagequeue.ExecuteRunPayload{RunID: r.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal execute payload: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectRunExecute, data); err != nil {
		return nil, fmt.Errorf("enqueue run %s: %w", r.ID, err)
	}

	slog.Info("run approved", "run_id", r.ID)
	return r, nil
}

// Cancel moves a run to CANCELLED. For RUNNING runs this is advisory:
// the sandbox is not killed, but the status flip is durable.
func (s *ControlService) Cancel(ctx context.Context, runID string) (*run.Run, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := run.CheckTransition(r.Status, run.StatusCancelled); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.Status = run.StatusCancelled
	r.FinishedAt = &now
	if err := s.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.AppendAudit(ctx, r.ID, audit.ActorUser, audit.ActionRunCancelled, nil); err != nil {
		return nil, err
	}

	slog.Info("run cancelled", "run_id", r.ID)
	return r, nil
}

// RunView is the full reconstruction of a run: steps in step_no order,
// audits and artifacts in append order, plus the textual contents of the
// report, diff, and audit artifacts when present on disk.
type RunView struct {
	Run           run.Run             `json:"run"`
	Steps         []run.Step          `json:"steps"`
	Audits        []audit.Entry       `json:"audits"`
	Artifacts     []artifact.Artifact `json:"artifacts"`
	ReportContent string              `json:"report_content,omitempty"`
	DiffContent   string              `json:"diff_content,omitempty"`
	AuditContent  string              `json:"audit_content,omitempty"`
}

// GetRun assembles the run view.
func (s *ControlService) GetRun(ctx context.Context, runID string) (*RunView, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	steps, err := s.store.ListRunSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	audits, err := s.store.ListAudits(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}

	view := &RunView{Run: *r, Steps: steps, Audits: audits, Artifacts: artifacts}
	for _, a := range artifacts {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			continue
		}
		switch a.Kind {
		case artifact.KindReport:
			view.ReportContent = string(data)
		case artifact.KindDiff:
			view.DiffContent = string(data)
		case artifact.KindAudit:
			view.AuditContent = string(data)
		}
	}
	return view, nil
}

// getPlan reads a plan through the cache. Plans are immutable once
// referenced, so a cached copy never goes stale.
func (s *ControlService) getPlan(ctx context.Context, id string) (*plan.Record, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, planCacheKey(id)); err == nil && ok {
			var rec plan.Record
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePlan(ctx, rec)
	return rec, nil
}

func (s *ControlService) cachePlan(ctx context.Context, rec *plan.Record) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, planCacheKey(rec.ID), data, planCacheTTL); err != nil {
		slog.Debug("plan cache set failed", "plan_id", rec.ID, "error", err)
	}
}

func planCacheKey(id string) string { return "plan:" + id }
