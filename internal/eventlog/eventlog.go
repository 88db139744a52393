// Package eventlog implements the append-only event log from spec §3/§6:
// JSON-lines per event, rotated at a size cap with numbered backups, and a
// tail cursor consumers can use for streaming. Grounded on the shape of
// the teacher's internal/events/bus.Event (id/type/source/timestamp/data)
// and the fan-out idea in internal/orchestrator/streaming/hub.go, combined
// here into a single file-backed log instead of an in-memory-only bus.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Priority is the urgency of an Event (spec §3).
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityAction Priority = "action"
	PriorityWarning Priority = "warning"
	PriorityInfo   Priority = "info"
)

// Event is the append-only record spec §3 defines.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  Priority          `json:"priority"`
	SessionID string            `json:"sessionId"`
	ProjectID string            `json:"projectId"`
	Timestamp string            `json:"timestamp"` // RFC3339Nano, stamped by the caller
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
}

// DefaultMaxBytes is the default rotation size cap (10 MiB, spec §6).
const DefaultMaxBytes = 10 * 1024 * 1024

// Log is a single-writer, append-only JSON-lines event log with size-capped
// rotation and numbered backups (events.1.jsonl ... events.N.jsonl, oldest
// numeric suffix is the oldest).
type Log struct {
	mu       sync.Mutex
	dir      string
	baseName string
	maxBytes int64

	file *os.File
	size int64
}

// Open opens (creating if needed) the event log at dir/baseName, e.g.
// dir="/proj/.agent-orchestrator", baseName="events.jsonl".
func Open(dir, baseName string, maxBytes int64) (*Log, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	l := &Log{dir: dir, baseName: baseName, maxBytes: maxBytes}
	if err := l.openCurrent(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) currentPath() string { return filepath.Join(l.dir, l.baseName) }

func (l *Log) openCurrent() error {
	f, err := os.OpenFile(l.currentPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat event log: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Append writes event as one JSON line. If the event has no ID, a UUID is
// generated. Appends are serialized by l.mu — the single writer spec §5
// requires.
func (l *Log) Append(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	l.size += int64(n)
	return nil
}

// rotate closes the current file and renames it to the next numbered
// backup, then opens a fresh current file. Backup numbers only increase
// over the log's lifetime, so the oldest numeric suffix names the oldest
// backup (spec §6), rather than the usual "shift everything up" scheme.
// Caller must hold l.mu.
func (l *Log) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close event log before rotation: %w", err)
	}

	backups, err := l.listBackups()
	if err != nil {
		return err
	}
	next := 1
	if len(backups) > 0 {
		next = backups[len(backups)-1] + 1
	}
	if err := os.Rename(l.currentPath(), l.backupPath(next)); err != nil {
		return fmt.Errorf("rotate current log: %w", err)
	}
	return l.openCurrent()
}

func (l *Log) backupPath(n int) string {
	ext := filepath.Ext(l.baseName)
	stem := strings.TrimSuffix(l.baseName, ext)
	return filepath.Join(l.dir, fmt.Sprintf("%s.%d%s", stem, n, ext))
}

// listBackups returns existing backup numbers in ascending numeric order.
func (l *Log) listBackups() ([]int, error) {
	ext := filepath.Ext(l.baseName)
	stem := strings.TrimSuffix(l.baseName, ext)
	prefix := stem + "."
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list event log dir: %w", err)
	}
	var nums []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		n, err := strconv.Atoi(middle)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Cursor is an opaque position in the current log file, usable to resume a
// Tail call (e.g. from a dashboard-style consumer reconnecting).
type Cursor struct {
	Offset int64
}

// Tail reads every event appended at or after cursor in the *current*
// (non-rotated) log file and returns the events plus a cursor positioned
// after the last one read. A zero-value Cursor reads from the beginning.
func (l *Log) Tail(cursor Cursor) ([]Event, Cursor, error) {
	l.mu.Lock()
	path := l.currentPath()
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, cursor, fmt.Errorf("open event log for tail: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(cursor.Offset, 0); err != nil {
		return nil, cursor, fmt.Errorf("seek event log: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	offset := cursor.Offset
	for scanner.Scan() {
		line := scanner.Bytes()
		offset += int64(len(line)) + 1
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, cursor, fmt.Errorf("scan event log: %w", err)
	}
	return events, Cursor{Offset: offset}, nil
}
