package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/localops/localops/internal/adapter/otel"
	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/audit"
	"github.com/localops/localops/internal/domain/event"
	"github.com/localops/localops/internal/domain/policy"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/database"
	"github.com/localops/localops/internal/port/eventbus"
)

// policyDeniedExitCode is recorded on steps blocked by the policy engine.
const policyDeniedExitCode = 126

// Orchestrator executes approved runs: it hydrates the plan, walks the
// steps through the state machine under policy gates, streams output to
// the event bus, and finalizes with report/audit/diff artifacts.
type Orchestrator struct {
	store     database.Store
	sink      eventbus.Sink
	runner    Runner
	artifacts *ArtifactWriter
	image     string
	metrics   *otel.Metrics
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(store database.Store, sink eventbus.Sink, runner Runner, artifacts *ArtifactWriter, image string, metrics *otel.Metrics) *Orchestrator {
	return &Orchestrator{
		store:     store,
		sink:      sink,
		runner:    runner,
		artifacts: artifacts,
		image:     image,
		metrics:   metrics,
	}
}

// ExecuteRun processes one queued run id to completion. It never
// propagates an error back to the queue: every failure path finalizes
// the run, records an audit, and releases resources.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID string) {
	log := slog.With("run_id", runID)

	r, err := o.store.GetRun(ctx, runID)
	if err != nil {
		log.Error("run lookup failed", "error", err)
		return
	}

	// Redelivery of a finished run is a no-op.
	if r.Status.IsTerminal() {
		log.Info("run already terminal, skipping", "status", r.Status)
		return
	}

	if r.PlanID == "" {
		o.failRun(ctx, r, "missing plan or project")
		return
	}
	if _, err := o.store.GetPlan(ctx, r.PlanID); err != nil {
		o.failRun(ctx, r, "missing plan or project")
		return
	}
	project, err := o.store.GetProject(ctx, r.ProjectID)
	if err != nil {
		o.failRun(ctx, r, "missing plan or project")
		return
	}

	// The control API normally advances the run to RUNNING before
	// enqueueing. If it has not, take the transition here; an
	// impossible transition fails the run.
	if r.Status != run.StatusRunning {
		if err := run.CheckTransition(r.Status, run.StatusRunning); err != nil {
			o.failRun(ctx, r, err.Error())
			return
		}
		now := time.Now().UTC()
		r.Status = run.StatusRunning
		r.StartedAt = &now
		if err := o.store.UpdateRun(ctx, r); err != nil {
			log.Error("run status update failed", "error", err)
			return
		}
	}

	dirs, err := o.artifacts.EnsureDirs(r.ID)
	if err != nil {
		o.failRun(ctx, r, fmt.Sprintf("artifact dirs: %v", err))
		return
	}

	workspace, err := os.MkdirTemp("", "run-"+r.ID+"-")
	if err != nil {
		o.failRun(ctx, r, fmt.Sprintf("scratch workspace: %v", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.Warn("scratch workspace cleanup failed", "error", err)
		}
	}()

	// The sandbox mutates only the scratch copy, never the project root.
	if _, err := os.Stat(project.RootPath); err == nil {
		if err := os.CopyFS(workspace, os.DirFS(project.RootPath)); err != nil {
			log.Warn("workspace copy failed", "error", err)
		}
	}

	steps, err := o.store.ListRunSteps(ctx, r.ID)
	if err != nil {
		o.failRun(ctx, r, fmt.Sprintf("list steps: %v", err))
		return
	}

	o.emit(ctx, r.ID, event.NewRunStatus(r.ID, string(run.StatusRunning)))

	runFailed := false
	for i := range steps {
		st := &steps[i]
		if !run.CanTransitionStep(st.Status, run.StepRunning) {
			continue
		}

		ok, reason := policy.Validate(st.Command)
		if !ok {
			o.blockStep(ctx, r, st, reason)
			runFailed = true
			break
		}

		exitCode := o.executeStep(ctx, r, st, dirs, workspace)
		if exitCode != 0 {
			o.countStepFailure(ctx, st.Command)
			runFailed = true
			break
		}
	}

	o.finalize(ctx, r, dirs, workspace, runFailed)
}

// blockStep records a policy denial: the step fails with exit 126
// without ever entering RUNNING.
func (o *Orchestrator) blockStep(ctx context.Context, r *run.Run, st *run.Step, reason string) {
	now := time.Now().UTC()
	exit := policyDeniedExitCode
	st.Status = run.StepFailed
	st.ExitCode = &exit
	st.FinishedAt = &now
	if err := o.store.UpdateRunStep(ctx, st); err != nil {
		slog.Error("blocked step update failed", "run_id", r.ID, "step_no", st.StepNo, "error", err)
	}

	o.countStepFailure(ctx, st.Command)
	o.appendAudit(ctx, r.ID, audit.ActionCommandBlocked, audit.Marshal(audit.CommandBlockedPayload{
		StepNo:  st.StepNo,
		Command: st.Command,
		Reason:  reason,
	}))
	o.emit(ctx, r.ID, event.NewStepFinished(r.ID, st.StepNo, string(st.Status), exit))

	slog.Info("command blocked", "run_id", r.ID, "step_no", st.StepNo, "reason", reason)
}

// executeStep runs one step in the sandbox, streaming output and
// recording the step outcome plus its step.executed audit.
func (o *Orchestrator) executeStep(ctx context.Context, r *run.Run, st *run.Step, dirs RunDirs, workspace string) int {
	log := slog.With("run_id", r.ID, "step_no", st.StepNo)

	now := time.Now().UTC()
	st.Status = run.StepRunning
	st.StartedAt = &now
	if err := o.store.UpdateRunStep(ctx, st); err != nil {
		log.Error("step start update failed", "error", err)
	}

	o.emit(ctx, r.ID, event.NewStepStarted(r.ID, st.StepNo, st.Command))

	var lines []string
	exitCode, err := o.runner.Run(ctx, Invocation{
		Command:   st.Command,
		Workspace: workspace,
		Image:     o.image,
	}, func(line string) {
		lines = append(lines, line)
		o.emit(ctx, r.ID, event.NewStepLog(r.ID, st.StepNo, line))
	})
	if err != nil {
		log.Error("sandbox invocation failed", "error", err)
	}

	stdoutPath, stderrPath, err := o.artifacts.WriteStepLogs(dirs, st.StepNo, lines)
	if err != nil {
		log.Error("step log write failed", "error", err)
	}

	finished := time.Now().UTC()
	st.ExitCode = &exitCode
	st.FinishedAt = &finished
	st.StdoutPath = stdoutPath
	st.StderrPath = stderrPath
	if exitCode == 0 {
		st.Status = run.StepSucceeded
	} else {
		st.Status = run.StepFailed
	}
	if err := o.store.UpdateRunStep(ctx, st); err != nil {
		log.Error("step finish update failed", "error", err)
	}

	meta := r.SandboxMeta
	o.appendAudit(ctx, r.ID, audit.ActionStepExecuted, audit.Marshal(audit.StepExecutedPayload{
		StepNo:       st.StepNo,
		Command:      st.Command,
		Cwd:          "/workspace",
		EnvAllowlist: []string{"PATH", "HOME"},
		ExitCode:     exitCode,
		Risk:         string(policy.EvaluateRisk(st.Command, false)),
		Sandbox: audit.SandboxCaps{
			Network:   meta.NetworkDefault,
			CPUs:      fmt.Sprintf("%d.0", meta.CPUs),
			Memory:    meta.Memory,
			PidsLimit: strconv.Itoa(meta.PidsLimit),
		},
	}))

	o.emit(ctx, r.ID, event.NewStepFinished(r.ID, st.StepNo, string(st.Status), exitCode))
	return exitCode
}

// finalize writes the run's terminal status and its artifacts. Always
// reached once preparation succeeded, on success and failure alike.
func (o *Orchestrator) finalize(ctx context.Context, r *run.Run, dirs RunDirs, workspace string, runFailed bool) {
	log := slog.With("run_id", r.ID)

	final := run.StatusSucceeded
	if runFailed {
		final = run.StatusFailed
	}

	// A concurrent cancel may have flipped the durable status; a
	// terminal status is never overwritten.
	now := time.Now().UTC()
	if fresh, err := o.store.GetRun(ctx, r.ID); err == nil {
		*r = *fresh
	}
	if run.CanTransition(r.Status, final) {
		r.Status = final
		r.FinishedAt = &now
		if err := o.store.UpdateRun(ctx, r); err != nil {
			log.Error("final run update failed", "error", err)
		}
	} else {
		log.Warn("final status not written", "current", r.Status, "final", final)
	}

	steps, err := o.store.ListRunSteps(ctx, r.ID)
	if err != nil {
		log.Error("final step list failed", "error", err)
	}

	reportPath := dirs.ReportPath()
	auditPath := dirs.AuditPath()
	diffPath := dirs.DiffPath()

	if err := o.artifacts.WriteReport(reportPath, r, steps); err != nil {
		o.auditArtifactError(ctx, r.ID, artifact.KindReport, reportPath, err)
	}
	if err := o.artifacts.WriteAuditJSON(auditPath, r, steps); err != nil {
		o.auditArtifactError(ctx, r.ID, artifact.KindAudit, auditPath, err)
	}
	if err := o.artifacts.WriteDiff(ctx, diffPath, workspace); err != nil {
		o.auditArtifactError(ctx, r.ID, artifact.KindDiff, diffPath, err)
	}

	for _, rec := range []struct {
		kind artifact.Kind
		path string
	}{
		{artifact.KindReport, reportPath},
		{artifact.KindAudit, auditPath},
		{artifact.KindDiff, diffPath},
	} {
		a, err := o.artifacts.Record(ctx, r.ID, rec.kind, rec.path)
		if err != nil {
			o.auditArtifactError(ctx, r.ID, rec.kind, rec.path, err)
			continue
		}
		if a != nil {
			o.emit(ctx, r.ID, event.NewArtifactCreated(r.ID, string(a.Kind), a.Path))
		}
	}

	o.appendAudit(ctx, r.ID, audit.ActionRunCompleted, audit.Marshal(audit.RunCompletedPayload{
		Status: string(r.Status),
	}))
	o.emit(ctx, r.ID, event.NewRunCompleted(r.ID, string(r.Status)))

	o.recordRunMetrics(ctx, r)
	log.Info("run finalized", "status", r.Status)
}

// failRun finalizes a run as FAILED before any step executed.
func (o *Orchestrator) failRun(ctx context.Context, r *run.Run, reason string) {
	now := time.Now().UTC()
	r.Status = run.StatusFailed
	r.FinishedAt = &now
	if err := o.store.UpdateRun(ctx, r); err != nil {
		slog.Error("failed-run update failed", "run_id", r.ID, "error", err)
	}
	o.appendAudit(ctx, r.ID, audit.ActionRunFailed, audit.Marshal(audit.RunFailedPayload{Reason: reason}))
	o.emit(ctx, r.ID, event.NewRunCompleted(r.ID, string(run.StatusFailed)))
	o.recordRunMetrics(ctx, r)

	slog.Warn("run failed before execution", "run_id", r.ID, "reason", reason)
}

func (o *Orchestrator) appendAudit(ctx context.Context, runID, action string, payload []byte) {
	if err := o.store.AppendAudit(ctx, runID, audit.ActorWorker, action, payload); err != nil {
		slog.Error("audit append failed", "run_id", runID, "action", action, "error", err)
	}
}

func (o *Orchestrator) auditArtifactError(ctx context.Context, runID string, kind artifact.Kind, path string, err error) {
	slog.Error("artifact write failed", "run_id", runID, "kind", kind, "error", err)
	o.appendAudit(ctx, runID, audit.ActionArtifactError, audit.Marshal(audit.ArtifactErrorPayload{
		Kind:  string(kind),
		Path:  path,
		Error: err.Error(),
	}))
}

// emit publishes one event to the bus. Delivery is best effort; a bus
// failure never affects run execution.
func (o *Orchestrator) emit(ctx context.Context, runID string, payload any) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Publish(ctx, runID, payload); err != nil {
		slog.Debug("event publish failed", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) countStepFailure(ctx context.Context, command string) {
	if o.metrics == nil {
		return
	}
	o.metrics.StepFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("command", policy.HeadToken(command))))
}

func (o *Orchestrator) recordRunMetrics(ctx context.Context, r *run.Run) {
	if o.metrics == nil {
		return
	}
	if r.Status == run.StatusFailed {
		o.metrics.RunsFailed.Add(ctx, 1)
	} else {
		o.metrics.RunsCompleted.Add(ctx, 1)
	}
	if r.StartedAt != nil && r.FinishedAt != nil {
		o.metrics.RunDuration.Record(ctx, r.FinishedAt.Sub(*r.StartedAt).Seconds())
	}
}
