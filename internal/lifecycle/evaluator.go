// Package lifecycle implements the Lifecycle Controller (spec §4.2): a
// cooperative tick loop that derives each session's status from runtime
// liveness, agent terminal activity, and SCM state, persists transitions,
// and drives the reaction engine. Grounded on the teacher's
// apps/backend/internal/agent/lifecycle/manager_lifecycle.go (tick-driven
// status derivation) and apps/backend/internal/github/poller.go (polling an
// SCM-like plugin with per-call error swallowing), rewritten against the
// spec's single derived-status state machine (§4.2) rather than the
// teacher's multi-field AgentExecution.Status.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/session"
)

// outputTailLines is how much recent terminal output is read for activity
// detection (spec §4.2 step 2: "the last 30 lines").
const outputTailLines = 30

// evalResult carries everything one session's evaluation produced, so the
// controller can persist, emit, and react without re-querying plugins.
type evalResult struct {
	status        session.Status
	activity      session.Activity
	pr            *plugin.PRInfo
	statusChanged bool
	// preserved is true when detectActivity failed and the prior status was
	// kept untouched (spec §4.2 step 2); no event is emitted in this case.
	preserved bool
	failures  []error
	// pendingComments is the SCM's unresolved-review-thread list for this
	// PR, joined alongside the CI/review calls each overlay pass.
	pendingComments []plugin.Comment
	// scmEvents are the dotted PR/CI/review/merge-readiness event types the
	// overlay pass computed this evaluation (spec §3's Event glossary),
	// emitted by the controller alongside the session.<status> event.
	scmEvents []scmEvent
}

// scmEvent is one dotted-type event derived from an SCM overlay condition
// (e.g. "ci.failing", "review.changes_requested"), distinct from the
// session.<status> transition event.
type scmEvent struct {
	Type    string
	Message string
}

// evaluateSession runs the full evaluation algorithm (spec §4.2, steps 1-3)
// for one session and returns the derived outcome. It never returns an
// error: every plugin failure is recorded in result.failures and treated as
// "preserve prior status for this branch" (spec §4.2's failure semantics).
func evaluateSession(ctx context.Context, rt plugin.Runtime, ag plugin.Agent, scm plugin.SCM, s *session.Session) evalResult {
	result := evalResult{status: s.Status, activity: s.Activity, pr: s.PR}

	// Step 1: runtime liveness.
	alive, err := rt.IsAlive(ctx, s.RuntimeHandle)
	if err != nil {
		result.failures = append(result.failures, err)
	} else if !alive {
		result.status = session.StatusKilled
		result.activity = session.ActivityExited
		result.statusChanged = result.status != s.Status
		return result
	}

	// Step 2: process liveness + terminal activity fusion.
	output, err := rt.GetOutput(ctx, s.RuntimeHandle, outputTailLines)
	if err != nil {
		result.failures = append(result.failures, err)
		result.statusChanged = false
		return result
	}

	activity, err := ag.DetectActivity(output)
	if err != nil {
		// detectActivity failing must preserve the prior status verbatim
		// (spec §4.2 step 2), not coerce to "working".
		result.failures = append(result.failures, err)
		result.preserved = true
		return result
	}

	candidate := s.Status
	switch activity {
	case plugin.ActivityWaitingInput:
		candidate = session.StatusNeedsInput
		result.activity = session.ActivityWaitingInput
	case plugin.ActivityBlocked:
		candidate = session.StatusStuck
		result.activity = session.ActivityBlocked
	case plugin.ActivityIdle:
		result.activity = session.ActivityIdle
		candidate = session.StatusWorking
	default:
		result.activity = session.ActivityActive
		candidate = session.StatusWorking
	}

	if activity == plugin.ActivityIdle || activity == plugin.ActivityActive {
		running, rerr := ag.IsProcessRunning(ctx, s.RuntimeHandle)
		if rerr != nil {
			result.failures = append(result.failures, rerr)
		} else if !running {
			// Shell-prompt-after-exit: activity looks idle/active but the
			// agent process itself has exited (spec §4.2 step 2).
			result.status = session.StatusKilled
			result.activity = session.ActivityExited
			result.statusChanged = result.status != s.Status
			return result
		}
	}
	result.status = candidate

	// Step 3: SCM overlay.
	if scm != nil {
		pr := s.PR
		if pr == nil {
			detected, derr := scm.DetectPR(ctx, s.Branch, s.WorkspacePath)
			if derr != nil {
				result.failures = append(result.failures, derr)
			} else if detected != nil {
				pr = detected
				result.scmEvents = append(result.scmEvents, scmEvent{Type: "pr.created", Message: "pull request detected for " + s.Branch})
			}
		}
		if pr != nil {
			result.pr = pr
			result = applySCMOverlay(ctx, scm, *pr, result)
		}
	}

	result.statusChanged = result.status != s.Status
	return result
}

// scmJoinResult carries the outcome of the three SCM calls spec §5 requires
// to run concurrently and be joined within one overlay pass.
type scmJoinResult struct {
	ci              plugin.CISummary
	ciErr           error
	review          plugin.ReviewDecision
	reviewErr       error
	pendingComments []plugin.Comment
	pendingErr      error
}

// joinSCMCalls fans `getCISummary`, `getReviewDecision`, and
// `getPendingComments` out concurrently and joins them (spec §5's
// Concurrency & Resource Model: "SCM calls inside one evaluation ... run
// concurrently and are joined; their catch handlers convert per-call
// failures into 'unchanged' contributions" — each call's error is returned
// alongside its zero value rather than aborting the others).
func joinSCMCalls(ctx context.Context, scm plugin.SCM, pr plugin.PRInfo) scmJoinResult {
	var wg sync.WaitGroup
	var out scmJoinResult

	wg.Add(3)
	go func() {
		defer wg.Done()
		out.ci, out.ciErr = scm.GetCISummary(ctx, pr)
	}()
	go func() {
		defer wg.Done()
		out.review, out.reviewErr = scm.GetReviewDecision(ctx, pr)
	}()
	go func() {
		defer wg.Done()
		out.pendingComments, out.pendingErr = scm.GetPendingComments(ctx, pr)
	}()
	wg.Wait()

	return out
}

// applySCMOverlay implements spec §4.2 step 3: PR-merged always wins; CI,
// review, and mergeability queries each overwrite the candidate in the
// literal order the spec lists them, so a real mergeable=true (which
// requires ciPassing=true) can never clobber a genuinely failing CI run —
// the invariant in spec §8 ("getCISummary=failing ⇒ status ∈
// {ci_failed, merged}, never working/mergeable") falls out of that ordering
// plus internally-consistent plugin data. The review branches are
// explicitly guarded against overwriting an already-computed `ci_failed`
// candidate, the same way the `ReviewPending` branch already guards itself,
// since CI and review are independent, orthogonally-reportable signals on
// any real git host: a PR can have `changes_requested` review while CI is
// still failing, and the invariant above must hold regardless of which of
// the two the SCM plugin happens to report second.
func applySCMOverlay(ctx context.Context, scm plugin.SCM, pr plugin.PRInfo, result evalResult) evalResult {
	state, err := scm.GetPRState(ctx, pr)
	if err != nil {
		result.failures = append(result.failures, err)
		return result
	}
	switch state {
	case plugin.PRStateMerged:
		result.status = session.StatusMerged
		result.scmEvents = append(result.scmEvents, scmEvent{Type: "pr.merged", Message: "pull request merged"})
		return result
	case plugin.PRStateClosed:
		result.status = session.StatusAbandoned
		return result
	}

	result.status = session.StatusPROpen

	joined := joinSCMCalls(ctx, scm, pr)

	if joined.ciErr != nil {
		result.failures = append(result.failures, joined.ciErr)
	} else if joined.ci == plugin.CIFailing {
		result.status = session.StatusCIFailed
		result.scmEvents = append(result.scmEvents, scmEvent{Type: "ci.failing", Message: "CI is failing"})
	} else if joined.ci == plugin.CIPassing {
		result.status = session.StatusCIPassing
	}

	if joined.reviewErr != nil {
		result.failures = append(result.failures, joined.reviewErr)
	} else {
		switch joined.review {
		case plugin.ReviewChangesRequested:
			if result.status != session.StatusCIFailed {
				result.status = session.StatusChangesRequested
			}
			result.scmEvents = append(result.scmEvents, scmEvent{Type: "review.changes_requested", Message: "reviewer requested changes"})
		case plugin.ReviewApproved:
			if result.status != session.StatusCIFailed {
				result.status = session.StatusApproved
			}
		case plugin.ReviewPending:
			if result.status == session.StatusPROpen || result.status == session.StatusCIPassing {
				result.status = session.StatusReviewPending
			}
		}
	}

	if joined.pendingErr != nil {
		result.failures = append(result.failures, joined.pendingErr)
	} else {
		result.pendingComments = joined.pendingComments
	}

	if mg, err := scm.GetMergeability(ctx, pr); err != nil {
		result.failures = append(result.failures, err)
	} else if mg.Mergeable && mg.CIPassing && mg.Approved && mg.NoConflicts {
		result.status = session.StatusMergeable
		result.scmEvents = append(result.scmEvents, scmEvent{Type: "merge.ready", Message: "pull request is mergeable"})
	} else if !mg.NoConflicts {
		result.scmEvents = append(result.scmEvents, scmEvent{Type: "merge.conflicts", Message: "pull request has merge conflicts"})
	}

	return result
}

// nowFunc is overridable in tests so reaction retrigger timing is
// deterministic instead of racing the wall clock.
var nowFunc = func() time.Time { return time.Now().UTC() }
