package plugin

import (
	"fmt"
	"sync"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
)

// Slot identifies which plugin contract a registration satisfies.
type Slot string

const (
	SlotRuntime   Slot = "runtime"
	SlotAgent     Slot = "agent"
	SlotSCM       Slot = "scm"
	SlotTracker   Slot = "tracker"
	SlotNotifier  Slot = "notifier"
	SlotWorkspace Slot = "workspace"
)

// Registry is a typed registry keyed by (slot, name), immutable after
// Freeze is called (spec §5: "the plugin registry is immutable after
// initialization — plugins are loaded once at startup").
type Registry struct {
	mu      sync.RWMutex
	entries map[Slot]map[string]any
	frozen  bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Slot]map[string]any)}
}

// Register binds name to impl within slot. Panics-free; returns an error if
// the registry is frozen or impl does not satisfy the slot's interface.
func (r *Registry) Register(slot Slot, name string, impl any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return apperrors.ConflictingStatef("registry is frozen, cannot register %s/%s", slot, name)
	}
	if err := checkImplements(slot, impl); err != nil {
		return err
	}
	if r.entries[slot] == nil {
		r.entries[slot] = make(map[string]any)
	}
	r.entries[slot][name] = impl
	return nil
}

// Freeze prevents further registrations. Built-in plugins register at
// startup; external plugins load from configured paths before the
// Lifecycle Controller starts, then Freeze is called.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func checkImplements(slot Slot, impl any) error {
	var ok bool
	switch slot {
	case SlotRuntime:
		_, ok = impl.(Runtime)
	case SlotAgent:
		_, ok = impl.(Agent)
	case SlotSCM:
		_, ok = impl.(SCM)
	case SlotTracker:
		_, ok = impl.(Tracker)
	case SlotNotifier:
		_, ok = impl.(Notifier)
	case SlotWorkspace:
		_, ok = impl.(Workspace)
	default:
		return fmt.Errorf("unknown plugin slot %q", slot)
	}
	if !ok {
		return fmt.Errorf("implementation for %s does not satisfy the %s contract", slot, slot)
	}
	return nil
}

// lookup returns the named plugin within slot.
func (r *Registry) lookup(slot Slot, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.entries[slot]
	if !ok {
		return nil, apperrors.NotFoundf("no plugins registered for slot %q", slot)
	}
	impl, ok := byName[name]
	if !ok {
		return nil, apperrors.NotFoundf("no %s plugin named %q", slot, name)
	}
	return impl, nil
}

// Runtime resolves a registered Runtime plugin by name.
func (r *Registry) Runtime(name string) (Runtime, error) {
	impl, err := r.lookup(SlotRuntime, name)
	if err != nil {
		return nil, err
	}
	return impl.(Runtime), nil
}

// Agent resolves a registered Agent plugin by name.
func (r *Registry) Agent(name string) (Agent, error) {
	impl, err := r.lookup(SlotAgent, name)
	if err != nil {
		return nil, err
	}
	return impl.(Agent), nil
}

// SCM resolves a registered SCM plugin by name.
func (r *Registry) SCM(name string) (SCM, error) {
	impl, err := r.lookup(SlotSCM, name)
	if err != nil {
		return nil, err
	}
	return impl.(SCM), nil
}

// Tracker resolves a registered Tracker plugin by name.
func (r *Registry) Tracker(name string) (Tracker, error) {
	impl, err := r.lookup(SlotTracker, name)
	if err != nil {
		return nil, err
	}
	return impl.(Tracker), nil
}

// Notifier resolves a registered Notifier plugin by name.
func (r *Registry) Notifier(name string) (Notifier, error) {
	impl, err := r.lookup(SlotNotifier, name)
	if err != nil {
		return nil, err
	}
	return impl.(Notifier), nil
}

// Workspace resolves a registered Workspace plugin by name.
func (r *Registry) Workspace(name string) (Workspace, error) {
	impl, err := r.lookup(SlotWorkspace, name)
	if err != nil {
		return nil, err
	}
	return impl.(Workspace), nil
}
