package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockagent"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockruntime"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockscm"
	"github.com/kandev/agent-orchestrator/internal/session"
)

func newEvalSession(id string) *session.Session {
	return &session.Session{
		ID:            id,
		ProjectID:     "proj1",
		RuntimeHandle: plugin.RuntimeHandle{ID: id},
		Branch:        "agent/" + id,
		Status:        session.StatusWorking,
		Activity:      session.ActivityActive,
	}
}

func TestEvaluateSessionMarksKilledWhenRuntimeDead(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-1")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.Kill(s.ID)

	result := evaluateSession(context.Background(), rt, ag, nil, s)
	assert.Equal(t, session.StatusKilled, result.status)
	assert.True(t, result.statusChanged)
}

func TestEvaluateSessionPreservesStatusOnDetectActivityError(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{DetectActivityErr: assertErr{}}
	s := newEvalSession("sess-2")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")

	result := evaluateSession(context.Background(), rt, ag, nil, s)
	assert.True(t, result.preserved)
	assert.False(t, result.statusChanged)
}

func TestEvaluateSessionKillsOnIdleWithDeadProcess(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{ProcessRunning: func() bool { return false }}
	s := newEvalSession("sess-3")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	result := evaluateSession(context.Background(), rt, ag, nil, s)
	assert.Equal(t, session.StatusKilled, result.status)
	assert.Equal(t, session.ActivityExited, result.activity)
}

func TestEvaluateSessionAppliesSCMOverlayCIFailedNeverMergeable(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-4")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	pr := plugin.PRInfo{Number: 5, Owner: "acme", Repo: "widgets", Branch: s.Branch}
	s.PR = &pr
	scm := mockscm.NewClient()
	scm.Seed(mockscm.PRData{
		Info:         pr,
		State:        plugin.PRStateOpen,
		CI:           plugin.CIFailing,
		Review:       plugin.ReviewNone,
		Mergeability: plugin.Mergeability{Mergeable: true, CIPassing: false, Approved: true, NoConflicts: true},
	})

	result := evaluateSession(context.Background(), rt, ag, scm, s)
	assert.Equal(t, session.StatusCIFailed, result.status)
}

func TestEvaluateSessionCIFailedNotClobberedByChangesRequested(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-ci-changes-requested")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	pr := plugin.PRInfo{Number: 7, Owner: "acme", Repo: "widgets", Branch: s.Branch}
	s.PR = &pr
	scm := mockscm.NewClient()
	scm.Seed(mockscm.PRData{
		Info:         pr,
		State:        plugin.PRStateOpen,
		CI:           plugin.CIFailing,
		Review:       plugin.ReviewChangesRequested,
		Mergeability: plugin.Mergeability{Mergeable: false, CIPassing: false, Approved: false, NoConflicts: true},
	})

	result := evaluateSession(context.Background(), rt, ag, scm, s)
	assert.Equal(t, session.StatusCIFailed, result.status, "a failing CI run must never be clobbered by an independently-reported review state")
}

func TestEvaluateSessionCIFailedNotClobberedByApproved(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-ci-approved")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	pr := plugin.PRInfo{Number: 8, Owner: "acme", Repo: "widgets", Branch: s.Branch}
	s.PR = &pr
	scm := mockscm.NewClient()
	scm.Seed(mockscm.PRData{
		Info:         pr,
		State:        plugin.PRStateOpen,
		CI:           plugin.CIFailing,
		Review:       plugin.ReviewApproved,
		Mergeability: plugin.Mergeability{Mergeable: false, CIPassing: false, Approved: true, NoConflicts: true},
	})

	result := evaluateSession(context.Background(), rt, ag, scm, s)
	assert.Equal(t, session.StatusCIFailed, result.status, "approval must not override a failing CI run")
}

func TestEvaluateSessionJoinsPendingCommentsAndEmitsSCMEvents(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-pending-comments")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	pr := plugin.PRInfo{Number: 9, Owner: "acme", Repo: "widgets", Branch: s.Branch}
	s.PR = &pr
	scm := mockscm.NewClient()
	scm.Seed(mockscm.PRData{
		Info:            pr,
		State:           plugin.PRStateOpen,
		CI:              plugin.CIFailing,
		Review:          plugin.ReviewChangesRequested,
		PendingComments: []plugin.Comment{{ID: "c1"}, {ID: "c2"}},
		Mergeability:    plugin.Mergeability{Mergeable: false, CIPassing: false, Approved: false, NoConflicts: true},
	})

	result := evaluateSession(context.Background(), rt, ag, scm, s)
	assert.Len(t, result.pendingComments, 2)

	var types []string
	for _, ev := range result.scmEvents {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, "ci.failing")
	assert.Contains(t, types, "review.changes_requested")
}

func TestEvaluateSessionMergedIsTerminalOverlay(t *testing.T) {
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	s := newEvalSession("sess-5")
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")
	rt.SetOutput(s.ID, "[[idle]]\n")

	pr := plugin.PRInfo{Number: 6, Owner: "acme", Repo: "widgets", Branch: s.Branch}
	s.PR = &pr
	scm := mockscm.NewClient()
	scm.Seed(mockscm.PRData{Info: pr, State: plugin.PRStateMerged})

	result := evaluateSession(context.Background(), rt, ag, scm, s)
	require.Equal(t, session.StatusMerged, result.status)
}

type assertErr struct{}

func (assertErr) Error() string { return "detect activity failed" }
