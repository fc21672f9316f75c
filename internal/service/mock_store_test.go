package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/localops/localops/internal/domain"
	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/audit"
	"github.com/localops/localops/internal/domain/plan"
	"github.com/localops/localops/internal/domain/project"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/messagequeue"
	"github.com/localops/localops/internal/service"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu        sync.Mutex
	projects  map[string]project.Project
	plans     map[string]plan.Record
	runs      map[string]run.Run
	steps     map[string][]run.Step
	audits    map[string][]audit.Entry
	artifacts map[string][]artifact.Artifact
	seq       int
	auditSeq  int64
	artSeq    int64
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:  make(map[string]project.Project),
		plans:     make(map[string]plan.Record),
		runs:      make(map[string]run.Run),
		steps:     make(map[string][]run.Step),
		audits:    make(map[string][]audit.Entry),
		artifacts: make(map[string][]artifact.Artifact),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := project.Project{
		ID:        m.nextID("proj"),
		Name:      req.Name,
		RootPath:  req.RootPath,
		CreatedAt: time.Now().UTC(),
	}
	m.projects[p.ID] = p
	return &p, nil
}

func (m *mockStore) ListProjects(_ context.Context) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []project.Project
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (m *mockStore) CreatePlan(_ context.Context, rec *plan.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID("plan")
	rec.CreatedAt = time.Now().UTC()
	m.plans[rec.ID] = *rec
	return nil
}

func (m *mockStore) GetPlan(_ context.Context, id string) (*plan.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("get plan %s: %w", id, domain.ErrNotFound)
	}
	return &rec, nil
}

func (m *mockStore) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID("run")
	r.CreatedAt = time.Now().UTC()
	m.runs[r.ID] = *r
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	return &r, nil
}

func (m *mockStore) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[r.ID]
	if !ok {
		return fmt.Errorf("update run %s: %w", r.ID, domain.ErrNotFound)
	}
	cur.Status = r.Status
	cur.StartedAt = r.StartedAt
	cur.FinishedAt = r.FinishedAt
	m.runs[r.ID] = cur
	return nil
}

func (m *mockStore) CreateRunSteps(_ context.Context, steps []run.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range steps {
		steps[i].ID = m.nextID("step")
		m.steps[steps[i].RunID] = append(m.steps[steps[i].RunID], steps[i])
	}
	return nil
}

func (m *mockStore) ListRunSteps(_ context.Context, runID string) ([]run.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]run.Step, len(m.steps[runID]))
	copy(out, m.steps[runID])
	return out, nil
}

func (m *mockStore) UpdateRunStep(_ context.Context, s *run.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := m.steps[s.RunID]
	for i := range steps {
		if steps[i].ID == s.ID {
			steps[i] = *s
			return nil
		}
	}
	return fmt.Errorf("update run step %s: %w", s.ID, domain.ErrNotFound)
}

func (m *mockStore) AppendAudit(_ context.Context, runID, actor, action string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditSeq++
	m.audits[runID] = append(m.audits[runID], audit.Entry{
		ID:        m.auditSeq,
		RunID:     runID,
		Actor:     actor,
		Action:    action,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *mockStore) ListAudits(_ context.Context, runID string) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, len(m.audits[runID]))
	copy(out, m.audits[runID])
	return out, nil
}

func (m *mockStore) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artSeq++
	a.ID = m.artSeq
	a.CreatedAt = time.Now().UTC()
	m.artifacts[a.RunID] = append(m.artifacts[a.RunID], *a)
	return nil
}

func (m *mockStore) ListArtifacts(_ context.Context, runID string) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]artifact.Artifact, len(m.artifacts[runID]))
	copy(out, m.artifacts[runID])
	return out, nil
}

// findAudit returns the first audit entry with the given action.
func (m *mockStore) findAudit(runID, action string) (audit.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.audits[runID] {
		if e.Action == action {
			return e, true
		}
	}
	return audit.Entry{}, false
}

// fakeSink collects published events in order.
type fakeSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (s *fakeSink) Publish(_ context.Context, _ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, obj)
	return nil
}

// eventNames returns the "event" discriminator of each published event.
func (s *fakeSink) eventNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, e := range s.events {
		names = append(names, fmt.Sprintf("%v", e["event"]))
	}
	return names
}

// fakeRunner returns scripted exit codes and output lines per command.
type fakeRunner struct {
	mu          sync.Mutex
	exits       map[string]int
	lines       map[string][]string
	invocations []service.Invocation
}

func (r *fakeRunner) Run(_ context.Context, inv service.Invocation, onLine func(string)) (int, error) {
	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	exit := r.exits[inv.Command]
	lines := r.lines[inv.Command]
	r.mu.Unlock()

	for _, line := range lines {
		onLine(line)
	}
	return exit, nil
}

// fakeQueue records published messages.
type fakeQueue struct {
	mu        sync.Mutex
	published []struct {
		Subject string
		Data    []byte
	}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		Subject string
		Data    []byte
	}{subject, data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }
