// Package audit defines the append-only audit trail entities. Per-run
// ordering is given by the id column; audits are never updated or deleted
// while their run exists.
package audit

import (
	"encoding/json"
	"time"
)

// Actors recorded on audit entries.
const (
	ActorUser   = "user"
	ActorWorker = "worker"
)

// Audit actions. Payload shapes for the known actions live below; the
// payload column itself stays free-form JSON as an escape hatch.
const (
	ActionRunCreated     = "run.created"
	ActionRunApproved    = "run.approved"
	ActionRunCancelled   = "run.cancelled"
	ActionRunFailed      = "run.failed"
	ActionRunCompleted   = "run.completed"
	ActionStepExecuted   = "step.executed"
	ActionCommandBlocked = "command.blocked"
	ActionArtifactError  = "artifact.error"
)

// Entry is one persisted audit record.
type Entry struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload_json"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunCreatedPayload is recorded when the control API materializes a run.
type RunCreatedPayload struct {
	PlanID string `json:"plan_id"`
}

// RunFailedPayload is recorded when the orchestrator aborts before
// executing any step.
type RunFailedPayload struct {
	Reason string `json:"reason"`
}

// RunCompletedPayload is recorded when the orchestrator finalizes.
type RunCompletedPayload struct {
	Status string `json:"status"`
}

// CommandBlockedPayload is recorded when the policy engine denies a step.
type CommandBlockedPayload struct {
	StepNo  int    `json:"step_no"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// SandboxCaps mirrors the caps enforced on a sandbox invocation.
type SandboxCaps struct {
	Network   string `json:"network"`
	CPUs      string `json:"cpus"`
	Memory    string `json:"memory"`
	PidsLimit string `json:"pids_limit"`
}

// StepExecutedPayload is recorded after every sandbox invocation,
// successful or not.
type StepExecutedPayload struct {
	StepNo       int         `json:"step_no"`
	Command      string      `json:"command"`
	Cwd          string      `json:"cwd"`
	EnvAllowlist []string    `json:"env_allowlist"`
	ExitCode     int         `json:"exit_code"`
	Risk         string      `json:"risk"`
	Sandbox      SandboxCaps `json:"sandbox"`
}

// ArtifactErrorPayload is recorded when an artifact write fails; the
// failure never retroactively changes run or step status.
type ArtifactErrorPayload struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Marshal encodes a payload struct, falling back to {} on the
// (practically impossible) marshal error so audit writes never fail.
func Marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
