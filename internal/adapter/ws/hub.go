// Package ws implements the WebSocket adapter for streaming run events
// to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/localops/localops/internal/adapter/otel"
)

// conn wraps a single WebSocket connection subscribed to one run.
type conn struct {
	id     string
	ws     *websocket.Conn
	runID  string
	cancel context.CancelFunc
}

// Hub manages active WebSocket connections keyed by run id. Each
// connection subscribes to exactly one run and receives that run's
// event stream.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]map[*conn]struct{}
	metrics *otel.Metrics
}

// NewHub creates a new WebSocket hub. metrics may be nil.
func NewHub(metrics *otel.Metrics) *Hub {
	return &Hub{
		conns:   make(map[string]map[*conn]struct{}),
		metrics: metrics,
	}
}

// HandleWS upgrades the connection and subscribes it to the run named
// in the URL. The connection stays registered until the client
// disconnects; client frames are read and discarded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		http.Error(w, "missing run_id", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{id: uuid.NewString(), ws: ws, runID: runID, cancel: cancel}
	h.add(c)

	slog.Info("websocket connected", "conn_id", c.id, "run_id", runID, "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, _, err := ws.Read(ctx)
			if err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a payload to every connection subscribed to runID.
// Writes are best effort; a failed write drops the connection without
// affecting the others.
func (h *Hub) Broadcast(ctx context.Context, runID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns[runID] {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "run_id", runID, "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections across all runs.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.runID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.runID] = set
	}
	set[c] = struct{}{}

	if h.metrics != nil {
		h.metrics.WSConnections.Add(context.Background(), 1)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.runID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}

	c.cancel()
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.runID)
	}
	if h.metrics != nil {
		h.metrics.WSConnections.Add(context.Background(), -1)
	}
	slog.Info("websocket disconnected", "conn_id", c.id, "run_id", c.runID)
}
