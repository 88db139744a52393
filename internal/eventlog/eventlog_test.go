package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndTail(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "events.jsonl", DefaultMaxBytes)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(Event{Type: "session.working", SessionID: "s1", Priority: PriorityInfo}))
	require.NoError(t, log.Append(Event{Type: "session.needs_input", SessionID: "s1", Priority: PriorityAction}))

	events, cursor, err := log.Tail(Cursor{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "session.working", events[0].Type)
	assert.NotEmpty(t, events[0].ID)

	// Appending order is preserved: events are written in the order the
	// evaluator completes them, not the order it started them (spec §5).
	assert.Equal(t, "session.needs_input", events[1].Type)

	require.NoError(t, log.Append(Event{Type: "session.stuck", SessionID: "s2"}))
	more, _, err := log.Tail(cursor)
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, "session.stuck", more[0].Type)
}

func TestRotationCreatesNumberedBackupsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	// tiny cap so a handful of events force multiple rotations
	log, err := Open(dir, "events.jsonl", 80)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, log.Append(Event{Type: fmt.Sprintf("session.event-%02d", i), SessionID: "s1"}))
	}

	backups, err := log.listBackups()
	require.NoError(t, err)
	require.NotEmpty(t, backups)
	for i := 1; i < len(backups); i++ {
		assert.Less(t, backups[i-1], backups[i], "backup numbers must increase, oldest first")
	}

	// The oldest-numbered backup must contain the earliest-appended events.
	oldestPath := filepath.Join(dir, fmt.Sprintf("events.%d.jsonl", backups[0]))
	data, err := os.ReadFile(oldestPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session.event-00")
}
