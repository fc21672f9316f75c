package messagequeue

// ExecuteRunPayload is the schema for runs.execute messages.
type ExecuteRunPayload struct {
	RunID string `json:"run_id"`
}
