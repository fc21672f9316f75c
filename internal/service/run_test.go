package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/localops/localops/internal/domain"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/project"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/messagequeue"
	"github.com/localops/localops/internal/service"
)

func newControl(store *mockStore, queue *fakeQueue, planner service.Planner) *service.ControlService {
	if planner == nil {
		planner = service.RulePlanner
	}
	return service.NewControlService(store, queue, planner, nil, nil)
}

func seedProject(t *testing.T, store *mockStore) *project.Project {
	t.Helper()
	p, err := store.CreateProject(context.Background(), project.CreateRequest{
		Name:     "demo",
		RootPath: "/tmp/demo",
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func TestCreatePlanRequiresIntent(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	_, err := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePlanUnknownProject(t *testing.T) {
	svc := newControl(newMockStore(), &fakeQueue{}, nil)

	_, err := svc.CreatePlan(context.Background(), "missing", plan.CreateRequest{IntentText: "run tests"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatePlanPersists(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	rec, err := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "run tests"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected persisted plan id")
	}
	if rec.Plan.Version != plan.SchemaVersion {
		t.Errorf("unexpected plan version %q", rec.Plan.Version)
	}

	stored, err := store.GetPlan(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if stored.IntentText != "run tests" {
		t.Errorf("unexpected intent text %q", stored.IntentText)
	}
}

func TestCreateRunFlattensSteps(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	// Build intent: two plan steps, three commands total.
	rec, err := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "build it"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	r, steps, err := svc.CreateRun(context.Background(), p.ID, run.CreateRequest{PlanID: rec.ID})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if r.Status != run.StatusAwaitingReview {
		t.Errorf("expected AWAITING_REVIEW, got %s", r.Status)
	}
	if r.SandboxMeta != run.DefaultSandboxMeta() {
		t.Errorf("unexpected sandbox meta %+v", r.SandboxMeta)
	}
	if r.RiskLevel != string(plan.RiskLow) {
		t.Errorf("unexpected risk level %q", r.RiskLevel)
	}

	wantCommands := []string{"node -v", "pnpm -v", "pnpm build"}
	wantTypes := []string{"inspect", "inspect", "execute"}
	if len(steps) != len(wantCommands) {
		t.Fatalf("expected %d steps, got %d", len(wantCommands), len(steps))
	}
	for i, st := range steps {
		if st.StepNo != i+1 {
			t.Errorf("step %d: expected step_no %d, got %d", i, i+1, st.StepNo)
		}
		if st.Command != wantCommands[i] {
			t.Errorf("step %d: expected command %q, got %q", i, wantCommands[i], st.Command)
		}
		if st.Type != wantTypes[i] {
			t.Errorf("step %d: expected type %q, got %q", i, wantTypes[i], st.Type)
		}
		if st.Status != run.StepQueued {
			t.Errorf("step %d: expected QUEUED, got %s", i, st.Status)
		}
	}

	if _, ok := store.findAudit(r.ID, "run.created"); !ok {
		t.Error("expected run.created audit")
	}
}

func TestCreateRunPlanFromOtherProject(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p1 := seedProject(t, store)
	p2 := seedProject(t, store)

	rec, err := svc.CreatePlan(context.Background(), p1.ID, plan.CreateRequest{IntentText: "run tests"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	_, _, err = svc.CreateRun(context.Background(), p2.ID, run.CreateRequest{PlanID: rec.ID})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for cross-project plan, got %v", err)
	}
}

func TestApproveEnqueuesAfterStatusWrite(t *testing.T) {
	store := newMockStore()
	queue := &fakeQueue{}
	svc := newControl(store, queue, nil)
	p := seedProject(t, store)

	rec, _ := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "run tests"})
	r, _, err := svc.CreateRun(context.Background(), p.ID, run.CreateRequest{PlanID: rec.ID})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	approved, err := svc.Approve(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != run.StatusRunning {
		t.Errorf("expected RUNNING, got %s", approved.Status)
	}
	if approved.StartedAt == nil {
		t.Error("expected started_at to be set")
	}

	stored, _ := store.GetRun(context.Background(), r.ID)
	if stored.Status != run.StatusRunning {
		t.Errorf("durable status = %s, want RUNNING", stored.Status)
	}

	if len(queue.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(queue.published))
	}
	msg := queue.published[0]
	if msg.Subject != messagequeue.SubjectRunExecute {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	var payload messagequeue.ExecuteRunPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RunID != r.ID {
		t.Errorf("payload run_id = %q, want %q", payload.RunID, r.ID)
	}

	if _, ok := store.findAudit(r.ID, "run.approved"); !ok {
		t.Error("expected run.approved audit")
	}
}

func TestApprovePendingRunRejected(t *testing.T) {
	store := newMockStore()
	queue := &fakeQueue{}
	svc := newControl(store, queue, nil)
	p := seedProject(t, store)

	r := &run.Run{ProjectID: p.ID, Status: run.StatusPending, RiskLevel: "low"}
	if err := store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("create run: %v", err)
	}

	_, err := svc.Approve(context.Background(), r.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got, want := err.Error(), "invalid transition PENDING -> RUNNING"; got != want {
		t.Errorf("error message = %q, want %q", got, want)
	}
	if len(queue.published) != 0 {
		t.Errorf("expected no enqueue on rejected approve, got %d", len(queue.published))
	}
}

func TestCancelBeforeRunning(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	rec, _ := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "run tests"})
	r, _, _ := svc.CreateRun(context.Background(), p.ID, run.CreateRequest{PlanID: rec.ID})

	cancelled, err := svc.Cancel(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != run.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
	if _, ok := store.findAudit(r.ID, "run.cancelled"); !ok {
		t.Error("expected run.cancelled audit")
	}
}

func TestCancelTerminalRunRejected(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	r := &run.Run{ProjectID: p.ID, Status: run.StatusSucceeded, RiskLevel: "low"}
	if err := store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("create run: %v", err)
	}

	_, err := svc.Cancel(context.Background(), r.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if !strings.Contains(err.Error(), "SUCCEEDED -> CANCELLED") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestGetRunView(t *testing.T) {
	store := newMockStore()
	svc := newControl(store, &fakeQueue{}, nil)
	p := seedProject(t, store)

	rec, _ := svc.CreatePlan(context.Background(), p.ID, plan.CreateRequest{IntentText: "run tests"})
	r, _, _ := svc.CreateRun(context.Background(), p.ID, run.CreateRequest{PlanID: rec.ID})

	view, err := svc.GetRun(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if view.Run.ID != r.ID {
		t.Errorf("view run id = %q, want %q", view.Run.ID, r.ID)
	}
	if len(view.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(view.Steps))
	}
	if len(view.Audits) != 1 {
		t.Errorf("expected 1 audit, got %d", len(view.Audits))
	}
	if view.ReportContent != "" {
		t.Errorf("expected no report content before execution, got %q", view.ReportContent)
	}
}
