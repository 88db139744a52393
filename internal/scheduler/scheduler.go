// Package scheduler implements the Task Scheduler (spec §4.3): a pure
// function over a TaskGraph that computes the next ready queue given a
// concurrency cap and a priority policy. Grounded on the priority ordering
// idiom in apps/backend/internal/orchestrator/queue/queue.go (higher
// priority first, then earlier-queued first) and the config shape of
// apps/backend/internal/orchestrator/scheduler/scheduler.go's
// SchedulerConfig, rewritten as a side-effect-free function per spec §4.3/
// §7 instead of the teacher's stateful polling loop and container/heap
// structure — a pure call re-sorts its candidate slice with sort.Slice
// rather than maintaining a long-lived heap, since there is no queue to
// mutate across calls.
package scheduler

import (
	"sort"
	"time"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
)

// TaskState is a TaskNode's lifecycle state (spec §4.3).
type TaskState string

const (
	StateReady    TaskState = "ready"
	StatePending  TaskState = "pending"
	StateRunning  TaskState = "running"
	StateBlocked  TaskState = "blocked"
	StatePaused   TaskState = "paused"
	StateComplete TaskState = "complete"
	StateFailed   TaskState = "failed"
)

// TaskNode is one task in the graph.
type TaskNode struct {
	ID           string
	State        TaskState
	Priority     int
	DependsOn    []string
	RunCount     int
	ReadySince   time.Time // zero value means "no readySince recorded"
}

// TaskGraph is the immutable input to every scheduler function; functions
// return new graphs rather than mutating this one (spec §4.3).
type TaskGraph struct {
	Nodes map[string]TaskNode
}

// PriorityPolicy selects how effective priority is computed.
type PriorityPolicy string

const (
	PolicyStrict PriorityPolicy = "strict"
	PolicyAging  PriorityPolicy = "aging"
)

// Config tunes GetReadyQueue (spec §4.3).
type Config struct {
	ConcurrencyCap int
	PriorityPolicy PriorityPolicy
	AgingWindowMs  int64
	MaxAgingBoost  int
	Now            func() time.Time
}

// Validate checks the invariants spec §4.3 names: concurrencyCap ≥ 1,
// agingWindowMs > 0, maxAgingBoost ≥ 0.
func (c Config) Validate() error {
	if c.ConcurrencyCap < 1 {
		return apperrors.ConflictingStatef("concurrencyCap must be >= 1, got %d", c.ConcurrencyCap)
	}
	if c.PriorityPolicy == PolicyAging {
		if c.AgingWindowMs <= 0 {
			return apperrors.ConflictingStatef("agingWindowMs must be > 0 under aging policy, got %d", c.AgingWindowMs)
		}
		if c.MaxAgingBoost < 0 {
			return apperrors.ConflictingStatef("maxAgingBoost must be >= 0, got %d", c.MaxAgingBoost)
		}
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// ReadyQueueResult is getReadyQueue's return shape (spec §4.3).
type ReadyQueueResult struct {
	ReadyQueue     []TaskNode
	RunningCount   int
	AvailableSlots int
}

// candidate pairs a node with its computed effective priority, so sorting
// never recomputes it.
type candidate struct {
	node      TaskNode
	effective int
}

// GetReadyQueue implements spec §4.3's getReadyQueue. It never mutates
// graph; every TaskNode returned is a copy.
func GetReadyQueue(graph TaskGraph, cfg Config) (ReadyQueueResult, error) {
	if err := cfg.Validate(); err != nil {
		return ReadyQueueResult{}, err
	}

	runningCount := 0
	var candidates []candidate
	now := cfg.now()

	for _, node := range graph.Nodes {
		if node.State == StateRunning {
			runningCount++
			continue
		}
		if node.State != StateReady && node.State != StatePending {
			continue
		}
		ready := true
		for _, dep := range node.DependsOn {
			depNode, ok := graph.Nodes[dep]
			if !ok {
				return ReadyQueueResult{}, apperrors.DependencyUnresolvedf(node.ID, dep)
			}
			switch depNode.State {
			case StateComplete:
				// satisfied, check the next dependency.
			case StateFailed:
				// A failed predecessor can never become complete on its
				// own; the dependent stays unready until something
				// explicitly resolves the failure (retry, pauseTask/
				// resumeTask after a manual fix, etc.) — handled the same
				// as any other unsatisfied dependency here, but called out
				// so a reader doesn't mistake this for an oversight.
				ready = false
			default:
				ready = false
			}
			if !ready {
				break
			}
		}
		if !ready {
			continue
		}
		candidates = append(candidates, candidate{node: node, effective: effectivePriority(node, cfg, now)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.effective != b.effective {
			return a.effective > b.effective
		}
		if a.node.RunCount != b.node.RunCount {
			return a.node.RunCount < b.node.RunCount
		}
		aSince, bSince := a.node.ReadySince, b.node.ReadySince
		if !aSince.Equal(bSince) {
			return aSince.Before(bSince)
		}
		return a.node.ID < b.node.ID
	})

	availableSlots := cfg.ConcurrencyCap - runningCount
	if availableSlots < 0 {
		availableSlots = 0
	}

	n := availableSlots
	if n > len(candidates) {
		n = len(candidates)
	}
	queue := make([]TaskNode, n)
	for i := 0; i < n; i++ {
		queue[i] = candidates[i].node
	}

	return ReadyQueueResult{ReadyQueue: queue, RunningCount: runningCount, AvailableSlots: availableSlots}, nil
}

// effectivePriority implements spec §4.3 step 4: under aging, base priority
// plus a boost capped at maxAgingBoost and computed from elapsed time since
// readySince; a missing readySince contributes zero boost. Under strict,
// effective priority is simply the base priority.
func effectivePriority(node TaskNode, cfg Config, now time.Time) int {
	if cfg.PriorityPolicy != PolicyAging || node.ReadySince.IsZero() {
		return node.Priority
	}
	elapsedMs := now.Sub(node.ReadySince).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	boost := int(elapsedMs / cfg.AgingWindowMs)
	if boost > cfg.MaxAgingBoost {
		boost = cfg.MaxAgingBoost
	}
	return node.Priority + boost
}

// PauseTask implements spec §4.3's pauseTask: if id's node is blocked, ready,
// or pending, it is moved to paused in a new graph. Any other state is a
// no-op copy. Returns ConflictingState if id is unknown.
func PauseTask(graph TaskGraph, id string) (TaskGraph, error) {
	out := cloneGraph(graph)
	node, ok := out.Nodes[id]
	if !ok {
		return TaskGraph{}, apperrors.ConflictingStatef("unknown task %q", id)
	}
	switch node.State {
	case StateBlocked, StateReady, StatePending:
		node.State = StatePaused
		out.Nodes[id] = node
	}
	return out, nil
}

// ResumeTask implements spec §4.3's resumeTask: if id's node is paused, it is
// restored to ready if every dependency is complete, else blocked. Any other
// state is a no-op copy. Returns ConflictingState if id is unknown, and
// DependencyUnresolved if a dependency checked before the first incomplete
// one names no node in the graph.
func ResumeTask(graph TaskGraph, id string) (TaskGraph, error) {
	out := cloneGraph(graph)
	node, ok := out.Nodes[id]
	if !ok {
		return TaskGraph{}, apperrors.ConflictingStatef("unknown task %q", id)
	}
	if node.State != StatePaused {
		return out, nil
	}
	allComplete := true
	for _, dep := range node.DependsOn {
		depNode, ok := out.Nodes[dep]
		if !ok {
			return TaskGraph{}, apperrors.DependencyUnresolvedf(id, dep)
		}
		if depNode.State != StateComplete {
			allComplete = false
			break
		}
	}
	if allComplete {
		node.State = StateReady
	} else {
		node.State = StateBlocked
	}
	out.Nodes[id] = node
	return out, nil
}

// cloneGraph returns a deep-enough copy for pauseTask/resumeTask's
// return-new-graph contract: the Nodes map is copied, DependsOn slices are
// shared (never mutated in place by these functions).
func cloneGraph(graph TaskGraph) TaskGraph {
	nodes := make(map[string]TaskNode, len(graph.Nodes))
	for k, v := range graph.Nodes {
		nodes[k] = v
	}
	return TaskGraph{Nodes: nodes}
}
