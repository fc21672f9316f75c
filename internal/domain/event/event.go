// Package event defines the run event envelopes streamed to subscribers.
// Events are flat JSON objects discriminated by the "event" field; per
// run they are totally ordered, and subscribers joining late see only
// events after the join (no replay).
package event

// Event type discriminators.
const (
	TypeRunStatus       = "run.status"
	TypeStepStarted     = "step.started"
	TypeStepLog         = "step.log"
	TypeStepFinished    = "step.finished"
	TypeArtifactCreated = "artifact.created"
	TypeRunCompleted    = "run.completed"
)

// RunStatus announces a run status change mid-flight.
type RunStatus struct {
	Event  string `json:"event"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// NewRunStatus builds a run.status event.
func NewRunStatus(runID, status string) RunStatus {
	return RunStatus{Event: TypeRunStatus, RunID: runID, Status: status}
}

// StepStarted announces that a step entered RUNNING.
type StepStarted struct {
	Event   string `json:"event"`
	RunID   string `json:"run_id"`
	StepNo  int    `json:"step_no"`
	Command string `json:"command"`
}

// NewStepStarted builds a step.started event.
func NewStepStarted(runID string, stepNo int, command string) StepStarted {
	return StepStarted{Event: TypeStepStarted, RunID: runID, StepNo: stepNo, Command: command}
}

// StepLog carries one captured output line.
type StepLog struct {
	Event  string `json:"event"`
	RunID  string `json:"run_id"`
	StepNo int    `json:"step_no"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// NewStepLog builds a step.log event. Stderr is merged into stdout, so
// stream is always "stdout" in the current design.
func NewStepLog(runID string, stepNo int, line string) StepLog {
	return StepLog{Event: TypeStepLog, RunID: runID, StepNo: stepNo, Stream: "stdout", Line: line}
}

// StepFinished announces a step reaching a terminal status.
type StepFinished struct {
	Event    string `json:"event"`
	RunID    string `json:"run_id"`
	StepNo   int    `json:"step_no"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

// NewStepFinished builds a step.finished event.
func NewStepFinished(runID string, stepNo int, status string, exitCode int) StepFinished {
	return StepFinished{Event: TypeStepFinished, RunID: runID, StepNo: stepNo, Status: status, ExitCode: exitCode}
}

// ArtifactCreated announces a recorded artifact.
type ArtifactCreated struct {
	Event string `json:"event"`
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Path  string `json:"path"`
}

// NewArtifactCreated builds an artifact.created event.
func NewArtifactCreated(runID, kind, path string) ArtifactCreated {
	return ArtifactCreated{Event: TypeArtifactCreated, RunID: runID, Kind: kind, Path: path}
}

// RunCompleted is the terminal event; it is emitted even on failure paths.
type RunCompleted struct {
	Event  string `json:"event"`
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// NewRunCompleted builds a run.completed event.
func NewRunCompleted(runID, status string) RunCompleted {
	return RunCompleted{Event: TypeRunCompleted, RunID: runID, Status: status}
}
