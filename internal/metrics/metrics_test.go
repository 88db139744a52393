package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agent-orchestrator/internal/session"
)

func TestRecordAndListMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	rec, err := Open(path)
	require.NoError(t, err)

	s1 := &session.Session{ID: "s1", ProjectID: "p1", IssueID: "42", Status: session.StatusMerged,
		CreatedAt: time.Unix(1000, 0), LastActivityAt: time.Unix(1100, 0)}
	s2 := &session.Session{ID: "s2", ProjectID: "p2", IssueID: "7", Status: session.StatusAbandoned,
		CreatedAt: time.Unix(2000, 0), LastActivityAt: time.Unix(2050, 0)}

	require.NoError(t, rec.RecordOutcome(s1, 2, 5))
	require.NoError(t, rec.RecordOutcome(s2, 0, 1))

	all, err := rec.ListMetrics("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].SessionID)
	assert.Equal(t, 2, all[0].ReactionsFired)
	assert.Equal(t, 5, all[0].TransitionsCount)
	assert.Equal(t, "merged", all[0].FinalStatus)

	p1Only, err := rec.ListMetrics("p1")
	require.NoError(t, err)
	require.Len(t, p1Only, 1)
	assert.Equal(t, "s1", p1Only[0].SessionID)
}

func TestListMetricsMissingFileReturnsEmpty(t *testing.T) {
	rec := &Recorder{path: filepath.Join(t.TempDir(), "nope.jsonl")}
	all, err := rec.ListMetrics("")
	require.NoError(t, err)
	assert.Empty(t, all)
}
