// Package mocknotifier implements an in-memory Notifier plugin that records
// every delivered event for test assertions. Grounded on the teacher's
// internal/notifications/providers (Provider interface, Send(ctx, Message)).
package mocknotifier

import (
	"context"
	"sync"

	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Notifier records every event passed to Notify.
type Notifier struct {
	mu     sync.Mutex
	events []plugin.NotifyEvent

	// Err, if set, is returned by every Notify call; used to exercise
	// notifier-retry policy at the call-site level.
	Err error
}

func (n *Notifier) Notify(ctx context.Context, event plugin.NotifyEvent) error {
	if n.Err != nil {
		return n.Err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of every event delivered so far.
func (n *Notifier) Events() []plugin.NotifyEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]plugin.NotifyEvent, len(n.events))
	copy(out, n.events)
	return out
}

var _ plugin.Notifier = (*Notifier)(nil)
