package ws

import (
	"context"
	"testing"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(nil)

	// Broadcast with no subscribers should not panic.
	hub.Broadcast(context.Background(), "run-1", map[string]string{"event": "run.status"})
}

func TestHubBroadcastMarshalError(t *testing.T) {
	hub := NewHub(nil)

	// A channel cannot be marshaled to JSON; log and return, no panic.
	hub.Broadcast(context.Background(), "run-1", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(nil)

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, runID: "run-1", cancel: cancel}
	hub.remove(c)
}

func TestHubAddRemove(t *testing.T) {
	hub := NewHub(nil)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, runID: "run-1", cancel: cancel}

	hub.add(c)
	if got := hub.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	hub.remove(c)
	if got := hub.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
	if _, ok := hub.conns["run-1"]; ok {
		t.Fatal("expected empty run entry to be dropped")
	}
}

func TestHubCountsAcrossRuns(t *testing.T) {
	hub := NewHub(nil)

	for _, runID := range []string{"run-1", "run-1", "run-2"} {
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		hub.add(&conn{ws: nil, runID: runID, cancel: cancel})
	}

	if got := hub.ConnectionCount(); got != 3 {
		t.Fatalf("expected 3 connections, got %d", got)
	}
}
