// Package session implements the Session Manager (spec §4.1): spawn,
// restore, terminate, cleanup, and the canonical session state store.
// Grounded on the teacher's apps/backend/internal/agent/lifecycle/manager.go
// launch/teardown sequencing and apps/backend/internal/worktree/manager.go's
// worktree-creation step, rewritten against this spec's Session shape (§3)
// rather than the teacher's container-centric AgentExecution.
package session

import (
	"time"

	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Status is one of the derived statuses from spec §4.2. The Session Manager
// only ever writes spawning/killed/terminated directly; every other value
// is written by the Lifecycle Controller.
type Status string

const (
	StatusSpawning          Status = "spawning"
	StatusWorking           Status = "working"
	StatusNeedsInput        Status = "needs_input"
	StatusStuck             Status = "stuck"
	StatusPROpen            Status = "pr_open"
	StatusCIFailed          Status = "ci_failed"
	StatusCIPassing         Status = "ci_passing"
	StatusChangesRequested  Status = "changes_requested"
	StatusReviewPending     Status = "review_pending"
	StatusApproved          Status = "approved"
	StatusMergeable         Status = "mergeable"
	StatusMerged            Status = "merged"
	StatusAbandoned         Status = "abandoned"
	StatusKilled            Status = "killed"
	StatusTerminated        Status = "terminated"
)

// TerminalStatuses are the statuses after which a session accepts no
// further agent input (spec §3, §4.1's send()).
var TerminalStatuses = map[Status]bool{
	StatusKilled:     true,
	StatusMerged:     true,
	StatusAbandoned:  true,
	StatusTerminated: true,
}

// Activity is the session's terminal-activity classification (spec §3).
type Activity string

const (
	ActivityActive       Activity = "active"
	ActivityReady        Activity = "ready"
	ActivityIdle         Activity = "idle"
	ActivityWaitingInput Activity = "waiting_input"
	ActivityBlocked      Activity = "blocked"
	ActivityExited       Activity = "exited"
)

// Session is the central entity from spec §3.
type Session struct {
	// Immutable core.
	ID            string
	ProjectID     string
	RuntimeHandle plugin.RuntimeHandle
	WorkspacePath string
	CreatedAt     time.Time

	// Mutable.
	Status         Status
	Activity       Activity
	Branch         string
	IssueID        string
	PR             *plugin.PRInfo
	LastActivityAt time.Time
	AgentInfo      *plugin.AgentSessionInfo
	Metadata       map[string]string
	// PendingComments is the SCM's unresolved-review-thread list for the
	// session's PR, refreshed by the Lifecycle Controller's SCM overlay
	// (spec §4.5's getPendingComments).
	PendingComments []plugin.Comment
}

// IsTerminal reports whether the session is in one of the four terminal
// statuses (spec §3: killed, merged, abandoned, terminated).
func (s *Session) IsTerminal() bool {
	return TerminalStatuses[s.Status]
}
