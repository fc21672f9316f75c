package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/localops/localops/internal/domain/artifact"
	"github.com/localops/localops/internal/domain/run"
	"github.com/localops/localops/internal/port/database"
)

// RunDirs holds the per-run artifact directories.
type RunDirs struct {
	Logs      string
	Reports   string
	Artifacts string
}

// ReportPath returns the report.md location for this run.
func (d RunDirs) ReportPath() string { return filepath.Join(d.Reports, "report.md") }

// AuditPath returns the audit.json location for this run.
func (d RunDirs) AuditPath() string { return filepath.Join(d.Artifacts, "audit.json") }

// DiffPath returns the diff.patch location for this run.
func (d RunDirs) DiffPath() string { return filepath.Join(d.Artifacts, "diff.patch") }

// ArtifactWriter produces the per-run filesystem artifacts and their
// database records.
type ArtifactWriter struct {
	root  string
	store database.Store
}

// NewArtifactWriter creates an ArtifactWriter rooted at root.
func NewArtifactWriter(root string, store database.Store) *ArtifactWriter {
	return &ArtifactWriter{root: root, store: store}
}

// EnsureDirs creates the run's logs/reports/artifacts directories.
// Idempotent.
func (w *ArtifactWriter) EnsureDirs(runID string) (RunDirs, error) {
	dirs := RunDirs{
		Logs:      filepath.Join(w.root, "logs", runID),
		Reports:   filepath.Join(w.root, "reports", runID),
		Artifacts: filepath.Join(w.root, "artifacts", runID),
	}
	for _, dir := range []string{dirs.Logs, dirs.Reports, dirs.Artifacts} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return RunDirs{}, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return dirs, nil
}

// WriteStepLogs writes the captured output lines to <step_no>.out and an
// empty <step_no>.err (streams are merged during capture).
func (w *ArtifactWriter) WriteStepLogs(dirs RunDirs, stepNo int, lines []string) (stdoutPath, stderrPath string, err error) {
	stdoutPath = filepath.Join(dirs.Logs, fmt.Sprintf("%d.out", stepNo))
	stderrPath = filepath.Join(dirs.Logs, fmt.Sprintf("%d.err", stepNo))

	if err := os.WriteFile(stdoutPath, []byte(strings.Join(lines, "\n")), 0o640); err != nil {
		return "", "", fmt.Errorf("write step stdout: %w", err)
	}
	if err := os.WriteFile(stderrPath, nil, 0o640); err != nil {
		return "", "", fmt.Errorf("write step stderr: %w", err)
	}
	return stdoutPath, stderrPath, nil
}

// WriteReport renders and writes report.md.
func (w *ArtifactWriter) WriteReport(path string, r *run.Run, steps []run.Step) error {
	if err := os.WriteFile(path, []byte(RenderReport(r, steps)), 0o640); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderReport produces the Markdown run report: status header, per-step
// outcome lines, a failure section when any step failed, and a next-steps
// hint.
func RenderReport(r *run.Run, steps []run.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s Report\n\n", r.ID)
	fmt.Fprintf(&b, "- status: %s\n", r.Status)
	fmt.Fprintf(&b, "- risk_level: %s\n", r.RiskLevel)
	fmt.Fprintf(&b, "- started_at: %s\n", formatTime(r.StartedAt))
	fmt.Fprintf(&b, "- finished_at: %s\n\n", formatTime(r.FinishedAt))

	b.WriteString("## Steps\n")
	var failed []run.Step
	for _, st := range steps {
		exit := ""
		if st.ExitCode != nil {
			exit = fmt.Sprintf("%d", *st.ExitCode)
		}
		fmt.Fprintf(&b, "- step %d: %s => %s (exit=%s)\n", st.StepNo, st.Command, st.Status, exit)
		if st.Status == run.StepFailed {
			failed = append(failed, st)
		}
	}

	if len(failed) > 0 {
		b.WriteString("\n## Failure\n")
		for _, st := range failed {
			fmt.Fprintf(&b, "- step %d failed\n", st.StepNo)
		}
	}

	b.WriteString("\n## Next\n")
	if len(failed) > 0 {
		b.WriteString("- review stderr logs and fix command or source code\n")
	} else {
		b.WriteString("- review generated artifacts and finalize\n")
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type auditTimelineEntry struct {
	StepNo     int    `json:"step_no"`
	Command    string `json:"command"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code"`
	StdoutPath string `json:"stdout_path"`
	StderrPath string `json:"stderr_path"`
}

type auditDocument struct {
	RunID    string               `json:"run_id"`
	Status   string               `json:"status"`
	Timeline []auditTimelineEntry `json:"timeline"`
	Sandbox  run.SandboxMeta      `json:"sandbox"`
}

// WriteAuditJSON writes audit.json with two-space indentation and HTML
// escaping disabled so non-ASCII text and raw shell strings survive
// verbatim.
func (w *ArtifactWriter) WriteAuditJSON(path string, r *run.Run, steps []run.Step) error {
	doc := auditDocument{
		RunID:    r.ID,
		Status:   string(r.Status),
		Timeline: make([]auditTimelineEntry, 0, len(steps)),
		Sandbox:  r.SandboxMeta,
	}
	for _, st := range steps {
		doc.Timeline = append(doc.Timeline, auditTimelineEntry{
			StepNo:     st.StepNo,
			Command:    st.Command,
			Status:     string(st.Status),
			ExitCode:   st.ExitCode,
			StdoutPath: st.StdoutPath,
			StderrPath: st.StderrPath,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode audit json: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return fmt.Errorf("write audit json: %w", err)
	}
	return nil
}

// WriteDiff captures `git diff` over the workspace into diff.patch. A
// workspace that is not a git checkout yields an empty patch.
func (w *ArtifactWriter) WriteDiff(ctx context.Context, path, workspace string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", workspace, "diff")
	out, err := cmd.Output()
	if err != nil {
		out = nil
	}
	if err := os.WriteFile(path, out, 0o640); err != nil {
		return fmt.Errorf("write diff: %w", err)
	}
	return nil
}

// Record creates an Artifact row for the file at path, if it exists.
// Returns nil without error when the file is missing.
func (w *ArtifactWriter) Record(ctx context.Context, runID string, kind artifact.Kind, path string) (*artifact.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat artifact %s: %w", path, err)
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return nil, fmt.Errorf("hash artifact %s: %w", path, err)
	}

	a := &artifact.Artifact{
		RunID:  runID,
		Kind:   kind,
		Path:   path,
		SHA256: sum,
		Size:   info.Size(),
	}
	if err := w.store.CreateArtifact(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// fileSHA256 streams the file through SHA-256 in 8 KiB chunks.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, 8192)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
