// Package eventbus defines the port for publishing run events to live
// subscribers. The orchestrator publishes one payload per event; the
// delivery is best effort and never blocks run execution.
package eventbus

import "context"

// Sink receives run events for fan-out to subscribed clients.
type Sink interface {
	Publish(ctx context.Context, runID string, payload any) error
}
