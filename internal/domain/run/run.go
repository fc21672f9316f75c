// Package run defines the Run and RunStep entities and their state machines.
package run

import "time"

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPlanned        Status = "PLANNED"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusRunning        Status = "RUNNING"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// StepStatus represents the lifecycle state of a single run step.
type StepStatus string

const (
	StepQueued    StepStatus = "QUEUED"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// SandboxMeta carries the runtime caps enforced during execution.
// Written into the run at creation, echoed into audit.json.
type SandboxMeta struct {
	NetworkDefault string `json:"network_default"`
	CPUs           int    `json:"cpus"`
	Memory         string `json:"memory"`
	PidsLimit      int    `json:"pids_limit"`
}

// DefaultSandboxMeta returns the caps applied to every new run.
func DefaultSandboxMeta() SandboxMeta {
	return SandboxMeta{
		NetworkDefault: "none",
		CPUs:           1,
		Memory:         "512m",
		PidsLimit:      128,
	}
}

// Run is one execution attempt of a plan against a project workspace.
// The orchestrator is the sole writer of Status after the
// AWAITING_REVIEW -> RUNNING transition; the control API before.
type Run struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	PlanID      string      `json:"plan_id,omitempty"` // empty when the plan was deleted (SET NULL)
	Status      Status      `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	SandboxMeta SandboxMeta `json:"sandbox_meta"`
	RiskLevel   string      `json:"risk_level"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Step is a single shell command within a run; the unit of policy
// checking, sandbox invocation, and state transition. StepNo is a dense
// 1-based enumeration unique per run.
type Step struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	StepNo     int        `json:"step_no"`
	Type       string     `json:"type"`
	Command    string     `json:"command"`
	Status     StepStatus `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
}

// CreateRequest holds the fields needed to create a run from a plan.
type CreateRequest struct {
	PlanID string `json:"plan_id"`
}
