// Package plugin defines the contracts the core consumes (spec §4.5) and a
// typed registry keyed by (slot, name), grounded on the teacher's
// provider-registry pattern in internal/agent/registry/registry.go and
// internal/github/provider.go + factory.go, generalized to the five slots
// (plus workspace) this spec names.
package plugin

import "context"

// ActivityState is the agent's terminal-activity classification (spec §4.2).
type ActivityState string

const (
	ActivityActive       ActivityState = "active"
	ActivityIdle         ActivityState = "idle"
	ActivityWaitingInput ActivityState = "waiting_input"
	ActivityBlocked      ActivityState = "blocked"
)

// PRState is the pull-request lifecycle state (spec §4.2/§4.5).
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// CISummary is the continuous-integration result summary.
type CISummary string

const (
	CIPassing CISummary = "passing"
	CIFailing CISummary = "failing"
	CIPending CISummary = "pending"
	CINone    CISummary = "none"
)

// ReviewDecision is the code-review decision summary.
type ReviewDecision string

const (
	ReviewApproved          ReviewDecision = "approved"
	ReviewChangesRequested  ReviewDecision = "changes_requested"
	ReviewPending           ReviewDecision = "pending"
	ReviewNone              ReviewDecision = "none"
)

// PRInfo is the structured pull-request reference cached on a Session (spec §3).
type PRInfo struct {
	Number     int
	URL        string
	Title      string
	Owner      string
	Repo       string
	Branch     string
	BaseBranch string
	IsDraft    bool
}

// Mergeability is the result of a mergeability check (spec §4.2).
type Mergeability struct {
	Mergeable  bool
	CIPassing  bool
	Approved   bool
	NoConflicts bool
	Blockers   []string
}

// Comment is a pending human review comment.
type Comment struct {
	ID     string
	Author string
	Body   string
}

// AutomatedComment is a comment from an automated reviewer (e.g. a bot code
// review tool); its stable ID is what the fingerprint in internal/lifecycle hashes.
type AutomatedComment struct {
	ID     string
	Tool   string
	Body   string
}

// RuntimeHandle addresses a runtime-hosted session (spec §3).
type RuntimeHandle struct {
	ID          string
	RuntimeName string
	Data        map[string]string
}

// Runtime hosts the agent process (e.g. a terminal-multiplexer session or
// child process). Spec §4.5.
type Runtime interface {
	Create(ctx context.Context, handle RuntimeHandle, env map[string]string, cwd string) (RuntimeHandle, error)
	Destroy(ctx context.Context, handle RuntimeHandle) error
	SendMessage(ctx context.Context, handle RuntimeHandle, text string) error
	GetOutput(ctx context.Context, handle RuntimeHandle, lines int) (string, error)
	IsAlive(ctx context.Context, handle RuntimeHandle) (bool, error)
}

// AgentSessionInfo is the agent's last-known session summary (spec §3),
// sourced from sidecar files the agent process writes.
type AgentSessionInfo struct {
	ACPSessionID string
	Model        string
	Extra        map[string]string
}

// AgentConfig is whatever launch configuration an Agent plugin needs; the
// core treats it as opaque and passes it straight through.
type AgentConfig map[string]string

// Agent computes launch parameters and interprets terminal output. Spec §4.5.
// DetectActivity must be pure, synchronous, and must not panic/error for
// empty input.
type Agent interface {
	GetLaunchCommand(cfg AgentConfig) (string, error)
	GetEnvironment(cfg AgentConfig) (map[string]string, error)
	DetectActivity(terminalOutput string) (ActivityState, error)
	GetSessionInfo(ctx context.Context, workspacePath string) (*AgentSessionInfo, error)
	IsProcessRunning(ctx context.Context, handle RuntimeHandle) (bool, error)
}

// SCM is the source-control management plugin. Spec §4.5.
type SCM interface {
	DetectPR(ctx context.Context, branch, workspacePath string) (*PRInfo, error)
	GetPRState(ctx context.Context, pr PRInfo) (PRState, error)
	GetCISummary(ctx context.Context, pr PRInfo) (CISummary, error)
	GetReviewDecision(ctx context.Context, pr PRInfo) (ReviewDecision, error)
	GetPendingComments(ctx context.Context, pr PRInfo) ([]Comment, error)
	GetAutomatedComments(ctx context.Context, pr PRInfo) ([]AutomatedComment, error)
	GetMergeability(ctx context.Context, pr PRInfo) (Mergeability, error)
	MergePR(ctx context.Context, pr PRInfo) error
	ClosePR(ctx context.Context, pr PRInfo) error
}

// Tracker is the issue-tracker plugin; provides issue title and state.
type Tracker interface {
	GetIssue(ctx context.Context, issueID string) (title string, state string, err error)
}

// NotifyEvent is the minimal shape a Notifier needs from an Event (avoids an
// import cycle with the eventlog package; eventlog.Event satisfies this
// structurally wherever a concrete type is passed).
type NotifyEvent struct {
	ID        string
	Type      string
	Priority  string
	SessionID string
	ProjectID string
	Message   string
	Data      map[string]string
}

// Notifier delivers events to humans. Spec §4.5. Implementations must
// tolerate rate-limit responses: retry on 429/5xx with exponential backoff,
// never retry on other 4xx, and treat network timeouts as transient.
type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent) error
}

// Workspace provisions the filesystem (or container) a session's agent runs
// in — the slot named in spec §9's registry design but not spelled out in
// §4.5 itself; §4.1's spawn delegates the worktree-vs-clone policy here.
type Workspace interface {
	Create(ctx context.Context, repoPath, branch, destPath string) error
	Destroy(ctx context.Context, workspacePath string) error
	Clone(ctx context.Context, upstreamRepo, destPath string) error
}
