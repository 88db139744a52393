// Package metrics implements OutcomeMetrics: one append-only JSON-lines
// record per session that reaches a terminal status, read back by
// cmd/orchestratord's metrics endpoint. Grounded on the teacher's
// internal/analytics/models.go record shapes (plain struct, json tags,
// *time.Time for an optional end timestamp) and on internal/eventlog's
// append-only JSONL file pattern, but file-backed rather than the teacher's
// SQLite repository — there is no relational store in this core, so a
// flat JSONL file plus a linear scan on read is the simplest fit for an
// append-mostly, rarely-queried record.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kandev/agent-orchestrator/internal/session"
)

// OutcomeMetrics is one completed session's lifecycle summary.
type OutcomeMetrics struct {
	SessionID        string     `json:"sessionId"`
	ProjectID        string     `json:"projectId"`
	IssueID          string     `json:"issueId"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          time.Time  `json:"endedAt"`
	FinalStatus      string     `json:"finalStatus"`
	ReactionsFired   int        `json:"reactionsFired"`
	TransitionsCount int        `json:"transitionsCount"`
}

// Recorder appends OutcomeMetrics records to a single JSONL file and serves
// read-back queries over it. One Recorder per daemon instance; appends are
// serialized by mu the way eventlog.Log serializes its own writer.
type Recorder struct {
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the metrics JSONL file at path.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	f.Close()
	return &Recorder{path: path}, nil
}

// RecordOutcome appends one OutcomeMetrics record for s, which must already
// be in a terminal status. reactionsFired and transitionsCount are supplied
// by the caller (the Lifecycle Controller), which is the only component
// that tracks them across a session's lifetime.
func (r *Recorder) RecordOutcome(s *session.Session, reactionsFired, transitionsCount int) error {
	m := OutcomeMetrics{
		SessionID:        s.ID,
		ProjectID:        s.ProjectID,
		IssueID:          s.IssueID,
		StartedAt:        s.CreatedAt,
		EndedAt:          s.LastActivityAt,
		FinalStatus:      string(s.Status),
		ReactionsFired:   reactionsFired,
		TransitionsCount: transitionsCount,
	}
	return r.append(m)
}

func (r *Recorder) append(m OutcomeMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal outcome metrics: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write outcome metrics: %w", err)
	}
	return nil
}

// ListMetrics reads every recorded OutcomeMetrics, optionally filtered to a
// single project.
func (r *Recorder) ListMetrics(projectID string) ([]OutcomeMetrics, error) {
	r.mu.Lock()
	path := r.path
	r.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	defer f.Close()

	var out []OutcomeMetrics
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var m OutcomeMetrics
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		if projectID != "" && m.ProjectID != projectID {
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan metrics file: %w", err)
	}
	return out, nil
}
