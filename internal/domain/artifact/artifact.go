// Package artifact defines the durable, content-addressed files a run
// produces.
package artifact

import "time"

// Kind enumerates the artifact kinds a run records.
type Kind string

const (
	KindReport Kind = "report"
	KindAudit  Kind = "audit"
	KindDiff   Kind = "diff"
	KindLog    Kind = "log"
)

// Artifact is one recorded file. SHA256 is the digest of the bytes at
// Path at record time; Size the filesystem size. Append-only.
type Artifact struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
