package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/session"
)

const bugbotReactionKey = "bugbot-comments"

// reactionState is the per-(session, reaction key) bookkeeping the engine
// needs across ticks: when it last fired, how many retries it has used, and
// (for bugbot-comments) the last fingerprint it fired on. Kept in memory —
// a controller restart resets retry budgets, which spec §9 leaves as an
// implementer's choice since no persisted reaction-state key appears in §6's
// metadata format.
type reactionState struct {
	lastFiredAt     time.Time
	retriesUsed     int
	lastFingerprint string
	escalated       bool
}

// reactionEngine owns reaction bookkeeping across ticks and dispatches
// send-to-agent / notify-human / terminate actions.
type reactionEngine struct {
	registry  *plugin.Registry
	warnFn    func(msg string, fields ...zap.Field)
	terminate func(ctx context.Context, projectID, sessionID string)

	mu         sync.Mutex
	state      map[string]*reactionState
	firedCount map[string]int
}

func newReactionEngine(reg *plugin.Registry, warn func(msg string, fields ...zap.Field)) *reactionEngine {
	return &reactionEngine{registry: reg, warnFn: warn, state: make(map[string]*reactionState), firedCount: make(map[string]int)}
}

// firedCountFor reports how many reactions have fired for sessionID across
// its whole lifetime, for the OutcomeMetrics record the controller appends
// on a terminal transition.
func (e *reactionEngine) firedCountFor(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firedCount[sessionID]
}

// setTerminate wires the action that kills a session when a "terminate"
// reaction fires; the controller supplies this since only it holds a
// session.Manager reference.
func (e *reactionEngine) setTerminate(fn func(ctx context.Context, projectID, sessionID string)) {
	e.terminate = fn
}

func (e *reactionEngine) stateFor(sessionID, key string) *reactionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := sessionID + "\x00" + key
	st, ok := e.state[k]
	if !ok {
		st = &reactionState{}
		e.state[k] = st
	}
	return st
}

// reactionKeyForStatus maps a derived status to the reaction key spec §4.2's
// configuration table names for it; statuses with no standard reaction
// return "".
func reactionKeyForStatus(status session.Status) string {
	switch status {
	case session.StatusCIFailed:
		return "ci-failed"
	case session.StatusChangesRequested:
		return "review-changes-requested"
	case session.StatusStuck:
		return "stuck"
	case session.StatusNeedsInput:
		return "needs-input"
	default:
		return ""
	}
}

// priorityForStatus assigns each derived status an Event priority (spec §3's
// urgent|action|warning|info), used both for the persisted event and for
// notificationRouting when no reaction is configured.
func priorityForStatus(status session.Status) string {
	switch status {
	case session.StatusKilled, session.StatusStuck, session.StatusCIFailed:
		return "urgent"
	case session.StatusNeedsInput, session.StatusChangesRequested:
		return "action"
	case session.StatusAbandoned:
		return "warning"
	default:
		return "info"
	}
}

// onTransition runs when a session's status just changed this tick. It fires
// the matching reaction (if configured and auto) exactly once, resetting its
// retry budget, and clears the bugbot fingerprint so a later fix re-arms
// that reaction (spec §4.2's "cleared on any status transition" rule).
// It returns true if a send-to-agent or notify-human reaction fired, so the
// caller can suppress the generic priority-routed notification for the same
// event (spec §4.2's suppression rule).
func (e *reactionEngine) onTransition(ctx context.Context, proj config.ProjectConfig, sess *session.Session) bool {
	e.resetBugbotFingerprint(sess.ID)

	key := reactionKeyForStatus(sess.Status)
	if key == "" {
		return false
	}
	rc, ok := proj.Reactions[key]
	if !ok {
		return false
	}

	st := e.stateFor(sess.ID, key)
	e.mu.Lock()
	st.retriesUsed = 0
	st.escalated = false
	e.mu.Unlock()

	if !rc.Auto {
		return false
	}
	e.fire(ctx, proj, sess, key, rc, st)
	return rc.Action == "send-to-agent" || rc.Action == "notify-human"
}

// onUnchanged runs on every tick where status did NOT change this time. It
// retriggers the status-keyed reaction per the configured cadence, and
// independently evaluates the bugbot-comments fingerprint reaction.
func (e *reactionEngine) onUnchanged(ctx context.Context, proj config.ProjectConfig, sess *session.Session) {
	key := reactionKeyForStatus(sess.Status)
	if key != "" {
		if rc, ok := proj.Reactions[key]; ok {
			st := e.stateFor(sess.ID, key)
			e.maybeRetrigger(ctx, proj, sess, key, rc, st)
		}
	}
	e.evaluateBugbot(ctx, proj, sess)
}

func (e *reactionEngine) maybeRetrigger(ctx context.Context, proj config.ProjectConfig, sess *session.Session, key string, rc config.ReactionConfig, st *reactionState) {
	e.mu.Lock()
	elapsed := nowFunc().Sub(st.lastFiredAt)
	ready := rc.RetriggerAfter != nil && elapsed >= *rc.RetriggerAfter && st.retriesUsed < rc.Retries
	e.mu.Unlock()

	if ready {
		e.fire(ctx, proj, sess, key, rc, st)
		return
	}
	e.maybeEscalate(ctx, proj, sess, key, rc, st)
}

// evaluateBugbot implements spec §4.2's automated-comment fingerprint rule:
// fires whenever the set of unresolved automated-comment ids changes from
// the last-fired fingerprint, and otherwise honors the same retrigger
// cadence as a status-keyed reaction.
func (e *reactionEngine) evaluateBugbot(ctx context.Context, proj config.ProjectConfig, sess *session.Session) {
	if sess.PR == nil {
		return
	}
	rc, ok := proj.Reactions[bugbotReactionKey]
	if !ok {
		return
	}
	scm, err := e.registry.SCM(proj.Plugins.SCM)
	if err != nil {
		return
	}
	comments, err := scm.GetAutomatedComments(ctx, *sess.PR)
	if err != nil {
		return
	}
	fp := fingerprintComments(comments)
	st := e.stateFor(sess.ID, bugbotReactionKey)

	e.mu.Lock()
	changed := fp != st.lastFingerprint
	e.mu.Unlock()

	if changed {
		if rc.Auto {
			e.fire(ctx, proj, sess, bugbotReactionKey, rc, st)
		}
		e.mu.Lock()
		st.lastFingerprint = fp
		e.mu.Unlock()
		return
	}
	e.maybeRetrigger(ctx, proj, sess, bugbotReactionKey, rc, st)
}

// resetBugbotFingerprint clears the bugbot baseline on a status transition,
// per spec §4.2 ("the fingerprint is cleared on any status transition so
// that pushing a fix naturally re-arms the reaction").
func (e *reactionEngine) resetBugbotFingerprint(sessionID string) {
	st := e.stateFor(sessionID, bugbotReactionKey)
	e.mu.Lock()
	st.lastFingerprint = ""
	st.retriesUsed = 0
	st.escalated = false
	e.mu.Unlock()
}

func (e *reactionEngine) maybeEscalate(ctx context.Context, proj config.ProjectConfig, sess *session.Session, key string, rc config.ReactionConfig, st *reactionState) {
	e.mu.Lock()
	shouldEscalate := rc.EscalateAfter != nil && !st.escalated &&
		st.retriesUsed >= rc.Retries && nowFunc().Sub(st.lastFiredAt) >= *rc.EscalateAfter
	if shouldEscalate {
		st.escalated = true
	}
	e.mu.Unlock()
	if !shouldEscalate {
		return
	}
	e.routeToNotifiers(ctx, proj, "urgent", sess, "escalation: "+key+" unresolved with no further automatic retries")
}

func (e *reactionEngine) fire(ctx context.Context, proj config.ProjectConfig, sess *session.Session, key string, rc config.ReactionConfig, st *reactionState) {
	e.mu.Lock()
	st.lastFiredAt = nowFunc()
	st.retriesUsed++
	e.firedCount[sess.ID]++
	e.mu.Unlock()

	switch rc.Action {
	case "send-to-agent":
		rt, err := e.registry.Runtime(proj.Plugins.Runtime)
		if err != nil {
			e.warn("reaction runtime unavailable", zap.String("key", key), zap.Error(err))
			return
		}
		if err := rt.SendMessage(ctx, sess.RuntimeHandle, rc.Message); err != nil {
			e.warn("reaction send-to-agent failed", zap.String("key", key), zap.Error(err))
		}
	case "notify-human":
		e.routeToNotifiers(ctx, proj, priorityForStatus(sess.Status), sess, rc.Message)
	case "terminate":
		if e.terminate != nil {
			e.terminate(ctx, sess.ProjectID, sess.ID)
		}
	}
}

// routeToNotifiers implements the notificationRouting (priority → notifier
// names) table from spec §4.2's suppression rule.
func (e *reactionEngine) routeToNotifiers(ctx context.Context, proj config.ProjectConfig, priority string, sess *session.Session, message string) {
	names := proj.NotificationRouting[priority]
	for _, name := range names {
		notifier, err := e.registry.Notifier(name)
		if err != nil {
			continue
		}
		ev := plugin.NotifyEvent{
			Type:      "session." + string(sess.Status),
			Priority:  priority,
			SessionID: sess.ID,
			ProjectID: sess.ProjectID,
			Message:   message,
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			e.warn("notifier failed", zap.String("notifier", name), zap.Error(err))
		}
	}
}

func (e *reactionEngine) warn(msg string, fields ...zap.Field) {
	if e.warnFn != nil {
		e.warnFn(msg, fields...)
	}
}

// fingerprintComments returns a stable hash over the sorted set of comment
// ids, so reordering does not register as a change (spec §4.2).
func fingerprintComments(comments []plugin.AutomatedComment) string {
	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
	return hex.EncodeToString(sum[:])
}
