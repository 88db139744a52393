// Package mockruntime implements an in-memory Runtime plugin, standing in
// for a terminal-multiplexer host during tests. Grounded on the teacher's
// cmd/mock-agent process model and internal/github/mock_client.go's
// in-memory, test-configurable style.
package mockruntime

import (
	"context"
	"sync"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
	"github.com/kandev/agent-orchestrator/internal/plugin"
)

type hostState struct {
	alive  bool
	output string
}

// Runtime is a configurable in-memory Runtime plugin.
type Runtime struct {
	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewRuntime returns an empty mock Runtime.
func NewRuntime() *Runtime {
	return &Runtime{hosts: make(map[string]*hostState)}
}

func (r *Runtime) Create(ctx context.Context, handle plugin.RuntimeHandle, env map[string]string, cwd string) (plugin.RuntimeHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[handle.ID] = &hostState{alive: true}
	return handle, nil
}

func (r *Runtime) Destroy(ctx context.Context, handle plugin.RuntimeHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, handle.ID)
	return nil
}

func (r *Runtime) SendMessage(ctx context.Context, handle plugin.RuntimeHandle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[handle.ID]
	if !ok {
		return apperrors.NotFoundf("no host %q", handle.ID)
	}
	h.output += text + "\n"
	return nil
}

func (r *Runtime) GetOutput(ctx context.Context, handle plugin.RuntimeHandle, lines int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[handle.ID]
	if !ok {
		return "", apperrors.NotFoundf("no host %q", handle.ID)
	}
	return h.output, nil
}

func (r *Runtime) IsAlive(ctx context.Context, handle plugin.RuntimeHandle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[handle.ID]
	if !ok {
		return false, nil
	}
	return h.alive, nil
}

// SetOutput overwrites the simulated terminal output for handle, for tests
// that need to drive specific activity-detection scenarios.
func (r *Runtime) SetOutput(id, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[id]; ok {
		h.output = output
	}
}

// Kill marks the host as dead without removing it, simulating a crashed
// terminal-multiplexer session (spec §4.2 step 1).
func (r *Runtime) Kill(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[id]; ok {
		h.alive = false
	}
}

var _ plugin.Runtime = (*Runtime)(nil)
