package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Invocation describes one sandboxed command execution.
type Invocation struct {
	Command         string
	Workspace       string
	Image           string
	NetworkRequired bool
}

// Runner executes a single command inside the sandbox, invoking onLine
// for each captured output line (stdout and stderr merged). It returns
// the command's exit code; a launch failure returns -1 and an error.
type Runner interface {
	Run(ctx context.Context, inv Invocation, onLine func(string)) (int, error)
}

// DockerRunner runs sandbox invocations through the docker CLI.
type DockerRunner struct{}

// NewDockerRunner creates a DockerRunner.
func NewDockerRunner() *DockerRunner {
	return &DockerRunner{}
}

// dockerArgs builds the container invocation: ephemeral container,
// network off unless required, fixed resource caps, all capabilities
// dropped, workspace mounted read-write at /workspace.
func dockerArgs(inv Invocation) []string {
	network := "none"
	if inv.NetworkRequired {
		network = "bridge"
	}
	return []string{
		"run", "--rm",
		"--network", network,
		"--cpus", "1.0",
		"--memory", "512m",
		"--pids-limit", "128",
		"--cap-drop=ALL",
		"--security-opt", "no-new-privileges",
		"-v", inv.Workspace + ":/workspace",
		"-w", "/workspace",
		inv.Image,
		"sh", "-lc", inv.Command,
	}
}

// Run spawns the container and streams its merged output line by line.
// The pipe is drained to EOF before Wait, so chatty commands cannot
// deadlock on a full pipe buffer.
func (r *DockerRunner) Run(ctx context.Context, inv Invocation, onLine func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, "docker", dockerArgs(inv)...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return -1, fmt.Errorf("start sandbox: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
	}()

	err := cmd.Wait()
	_ = pw.Close()
	<-done
	_ = pr.Close()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait sandbox: %w", err)
	}
	return 0, nil
}
