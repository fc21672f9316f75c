package service

import (
	"strings"
	"testing"
)

func TestDockerArgsDefaults(t *testing.T) {
	args := dockerArgs(Invocation{
		Command:   "git status",
		Workspace: "/tmp/ws",
		Image:     "sandbox:latest",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"run --rm",
		"--network none",
		"--cpus 1.0",
		"--memory 512m",
		"--pids-limit 128",
		"--cap-drop=ALL",
		"--security-opt no-new-privileges",
		"-v /tmp/ws:/workspace",
		"-w /workspace",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	// The command is handed to the in-container shell as one -lc string.
	n := len(args)
	if args[n-3] != "sh" || args[n-2] != "-lc" || args[n-1] != "git status" {
		t.Errorf("unexpected tail: %v", args[n-3:])
	}
	if args[n-4] != "sandbox:latest" {
		t.Errorf("expected image before shell, got %q", args[n-4])
	}
}

func TestDockerArgsNetworkRequired(t *testing.T) {
	args := dockerArgs(Invocation{
		Command:         "npm install",
		Workspace:       "/tmp/ws",
		Image:           "sandbox:latest",
		NetworkRequired: true,
	})
	if !strings.Contains(strings.Join(args, " "), "--network bridge") {
		t.Errorf("expected bridge network: %v", args)
	}
}
