package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idsOf(nodes []TaskNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// TestSchedulerDeterminismByLexId is spec §8 scenario 6: four ready tasks,
// identical priority/runCount/readySince, must come back id-ascending, and
// repeating the call must return the same order.
func TestSchedulerDeterminismByLexId(t *testing.T) {
	readySince := time.Unix(5, 0)
	mk := func(id string) TaskNode {
		return TaskNode{ID: id, State: StateReady, Priority: 10, RunCount: 1, ReadySince: readySince}
	}
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"d": mk("d"), "b": mk("b"), "a": mk("a"), "c": mk("c"),
	}}
	cfg := Config{ConcurrencyCap: 10, PriorityPolicy: PolicyStrict}

	result, err := GetReadyQueue(graph, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, idsOf(result.ReadyQueue))

	result2, err := GetReadyQueue(graph, cfg)
	require.NoError(t, err)
	assert.Equal(t, idsOf(result.ReadyQueue), idsOf(result2.ReadyQueue))
}

// TestSchedulerAgingBoost is spec §8 scenario 7.
func TestSchedulerAgingBoost(t *testing.T) {
	now := time.Unix(1000, 0)
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"freshHigh":   {ID: "freshHigh", State: StateReady, Priority: 10, ReadySince: now.Add(-10 * time.Second)},
		"staleMedium": {ID: "staleMedium", State: StateReady, Priority: 7, ReadySince: now.Add(-600 * time.Second)},
		"staleLow":    {ID: "staleLow", State: StateReady, Priority: 2, ReadySince: time.Time{}},
	}}
	cfg := Config{
		ConcurrencyCap: 10, PriorityPolicy: PolicyAging,
		AgingWindowMs: 60_000, MaxAgingBoost: 5,
		Now: func() time.Time { return now },
	}

	result, err := GetReadyQueue(graph, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"staleMedium", "freshHigh", "staleLow"}, idsOf(result.ReadyQueue))
}

func TestSchedulerAvailableSlotsHonorsRunningCount(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"r1": {ID: "r1", State: StateRunning},
		"r2": {ID: "r2", State: StateRunning},
		"a":  {ID: "a", State: StateReady, Priority: 1},
		"b":  {ID: "b", State: StateReady, Priority: 1},
		"c":  {ID: "c", State: StateReady, Priority: 1},
	}}
	cfg := Config{ConcurrencyCap: 3, PriorityPolicy: PolicyStrict}

	result, err := GetReadyQueue(graph, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RunningCount)
	assert.Equal(t, 1, result.AvailableSlots)
	assert.Len(t, result.ReadyQueue, 1)
}

func TestSchedulerDependencyUnresolved(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"a": {ID: "a", State: StateReady, DependsOn: []string{"missing"}},
	}}
	_, err := GetReadyQueue(graph, Config{ConcurrencyCap: 1, PriorityPolicy: PolicyStrict})
	require.Error(t, err)
}

func TestSchedulerPendingWithCompleteDependencyIsCandidate(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"dep":  {ID: "dep", State: StateComplete},
		"next": {ID: "next", State: StatePending, DependsOn: []string{"dep"}, Priority: 1},
	}}
	result, err := GetReadyQueue(graph, Config{ConcurrencyCap: 5, PriorityPolicy: PolicyStrict})
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, idsOf(result.ReadyQueue))
}

func TestSchedulerPendingWithIncompleteDependencyIsNotCandidate(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"dep":  {ID: "dep", State: StateRunning},
		"next": {ID: "next", State: StatePending, DependsOn: []string{"dep"}, Priority: 1},
	}}
	result, err := GetReadyQueue(graph, Config{ConcurrencyCap: 5, PriorityPolicy: PolicyStrict})
	require.NoError(t, err)
	assert.Empty(t, result.ReadyQueue)
}

func TestConfigValidation(t *testing.T) {
	_, err := GetReadyQueue(TaskGraph{Nodes: map[string]TaskNode{}}, Config{ConcurrencyCap: 0})
	require.Error(t, err)

	_, err = GetReadyQueue(TaskGraph{Nodes: map[string]TaskNode{}}, Config{ConcurrencyCap: 1, PriorityPolicy: PolicyAging, AgingWindowMs: 0})
	require.Error(t, err)

	_, err = GetReadyQueue(TaskGraph{Nodes: map[string]TaskNode{}}, Config{ConcurrencyCap: 1, PriorityPolicy: PolicyAging, AgingWindowMs: 1000, MaxAgingBoost: -1})
	require.Error(t, err)
}

func TestPauseThenResumeIsNoOpExceptTargetState(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"a": {ID: "a", State: StateReady, Priority: 1},
		"b": {ID: "b", State: StateRunning, Priority: 2},
	}}

	paused, err := PauseTask(graph, "a")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.Nodes["a"].State)
	assert.Equal(t, StateRunning, paused.Nodes["b"].State, "untouched nodes must be unchanged")

	resumed, err := ResumeTask(paused, "a")
	require.NoError(t, err)
	assert.Equal(t, StateReady, resumed.Nodes["a"].State)
	assert.Equal(t, StateRunning, resumed.Nodes["b"].State)

	// Original graph must not have been mutated by either call.
	assert.Equal(t, StateReady, graph.Nodes["a"].State)
}

func TestResumeRestoresBlockedWhenDependencyIncomplete(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"dep":    {ID: "dep", State: StateRunning},
		"target": {ID: "target", State: StatePaused, DependsOn: []string{"dep"}},
	}}
	resumed, err := ResumeTask(graph, "target")
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, resumed.Nodes["target"].State)
}

func TestPauseUnknownTaskFails(t *testing.T) {
	_, err := PauseTask(TaskGraph{Nodes: map[string]TaskNode{}}, "ghost")
	require.Error(t, err)
}

// TestReadyQueueExcludesDependentOfFailedTask confirms a failed predecessor
// keeps its dependent out of the ready queue, the same as any other
// incomplete predecessor state.
func TestReadyQueueExcludesDependentOfFailedTask(t *testing.T) {
	graph := TaskGraph{Nodes: map[string]TaskNode{
		"dep":    {ID: "dep", State: StateFailed, Priority: 5},
		"target": {ID: "target", State: StatePending, Priority: 5, DependsOn: []string{"dep"}},
	}}
	result, err := GetReadyQueue(graph, Config{ConcurrencyCap: 10, PriorityPolicy: PolicyStrict})
	require.NoError(t, err)
	assert.Empty(t, result.ReadyQueue)
}
