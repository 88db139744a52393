package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/eventbus"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/logger"
	"github.com/kandev/agent-orchestrator/internal/metrics"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/session"
)

// Controller runs the Lifecycle Controller's tick loop (spec §4.2): each
// tick it evaluates every live session, persists derived status changes,
// appends events, and drives the reaction engine. Grounded on the teacher's
// apps/backend/internal/github/poller.go Poller (cancel/wg/started,
// ticker-driven loop, per-item error swallowing so one bad session can't
// wedge the whole tick).
type Controller struct {
	mgr      *session.Manager
	registry *plugin.Registry
	cfg      *config.Config
	elog     *eventlog.Log
	log      *logger.Logger
	reactor  *reactionEngine
	bus      eventbus.Bus
	metrics  *metrics.Recorder

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	transitionsMu sync.Mutex
	transitions   map[string]int
}

// NewController builds a Controller wired to mgr/reg/cfg. If log is nil,
// Controller logs nothing (matches logger.Logger's nil-safety contract
// elsewhere in this codebase being absent, so nil is guarded explicitly
// below).
func NewController(mgr *session.Manager, reg *plugin.Registry, cfg *config.Config, elog *eventlog.Log, log *logger.Logger) *Controller {
	c := &Controller{mgr: mgr, registry: reg, cfg: cfg, elog: elog, log: log, transitions: make(map[string]int)}
	var warn func(msg string, fields ...zap.Field)
	if log != nil {
		warn = log.Warn
	}
	c.reactor = newReactionEngine(reg, warn)
	c.reactor.setTerminate(func(ctx context.Context, projectID, sessionID string) {
		if err := mgr.Kill(ctx, projectID, sessionID); err != nil {
			c.warn("terminate reaction failed to kill session", zap.String("session", sessionID), zap.Error(err))
		}
	})
	return c
}

// SetEventBus attaches an eventbus.Bus so every transition is also published
// for in-process/streaming subscribers (spec §6). Optional: a Controller
// with no bus attached still appends to the Event Log unchanged.
func (c *Controller) SetEventBus(bus eventbus.Bus) {
	c.bus = bus
}

// SetMetrics attaches an outcome metrics recorder so terminal transitions
// are recorded (spec's metrics extension). Optional.
func (c *Controller) SetMetrics(rec *metrics.Recorder) {
	c.metrics = rec
}

func (c *Controller) warn(msg string, fields ...zap.Field) {
	if c.log != nil {
		c.log.Warn(msg, fields...)
	}
}

func (c *Controller) info(msg string, fields ...zap.Field) {
	if c.log != nil {
		c.log.Info(msg, fields...)
	}
}

// Start begins the tick loop. Calling Start more than once without Stop is
// a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	interval := c.cfg.Orchestrator.TickInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	c.wg.Add(1)
	go c.loop(ctx, interval)
	c.info("lifecycle controller started", zap.Duration("interval", interval))
}

// Stop cancels the tick loop and waits for it to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.started = false
	c.info("lifecycle controller stopped")
}

func (c *Controller) loop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	c.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick evaluates every live session across every project, with bounded
// concurrency (spec §5's evalParallelism knob), persisting and reacting to
// whatever each evaluation derives. A single session's plugin errors never
// abort the tick (spec §7: evaluation failures are isolated per session).
func (c *Controller) tick(ctx context.Context) {
	sessions, err := c.mgr.List("")
	if err != nil {
		c.warn("failed to list sessions for lifecycle tick", zap.Error(err))
		return
	}

	parallelism := c.cfg.Orchestrator.EvalParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for _, s := range sessions {
		if s.IsTerminal() {
			continue
		}
		s := s
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.evaluateAndReact(ctx, s)
		}()
	}
	wg.Wait()
}

// Check evaluates a single session on demand (e.g. a user-triggered refresh)
// instead of waiting for the next tick.
func (c *Controller) Check(ctx context.Context, projectID, id string) (*session.Session, error) {
	s, err := c.mgr.Get(projectID, id)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return s, nil
	}
	c.evaluateAndReact(ctx, s)
	return c.mgr.Get(projectID, id)
}

func (c *Controller) evaluateAndReact(ctx context.Context, s *session.Session) {
	proj, ok := c.cfg.ProjectByID(s.ProjectID)
	if !ok {
		c.warn("session references unknown project", zap.String("session", s.ID), zap.String("project", s.ProjectID))
		return
	}

	rt, err := c.registry.Runtime(proj.Plugins.Runtime)
	if err != nil {
		c.warn("runtime plugin unavailable", zap.String("session", s.ID), zap.Error(err))
		return
	}
	ag, err := c.registry.Agent(proj.Plugins.Agent)
	if err != nil {
		c.warn("agent plugin unavailable", zap.String("session", s.ID), zap.Error(err))
		return
	}
	var scm plugin.SCM
	if proj.Plugins.SCM != "" {
		scm, _ = c.registry.SCM(proj.Plugins.SCM)
	}

	result := evaluateSession(ctx, rt, ag, scm, s)
	for _, ferr := range result.failures {
		c.warn("lifecycle evaluation step failed", zap.String("session", s.ID), zap.Error(ferr))
	}
	if result.preserved {
		return
	}

	updated, err := c.mgr.ApplyDerived(s.ProjectID, s.ID, func(target *session.Session) {
		target.Status = result.status
		target.Activity = result.activity
		target.PR = result.pr
		target.PendingComments = result.pendingComments
		if result.activity != session.ActivityIdle || result.statusChanged {
			target.LastActivityAt = nowFunc()
		}
	})
	if err != nil {
		c.warn("failed to persist derived session state", zap.String("session", s.ID), zap.Error(err))
		return
	}

	if result.statusChanged {
		c.transitionsMu.Lock()
		c.transitions[updated.ID]++
		transitionsCount := c.transitions[updated.ID]
		c.transitionsMu.Unlock()

		c.emitTransition(s, updated, result.scmEvents)
		suppressed := c.reactor.onTransition(ctx, proj, updated)
		if !suppressed {
			c.routeUrgentFallback(ctx, proj, updated)
		}
		if updated.IsTerminal() && c.metrics != nil {
			reactionsFired := c.reactor.firedCountFor(updated.ID)
			if err := c.metrics.RecordOutcome(updated, reactionsFired, transitionsCount); err != nil {
				c.warn("failed to record outcome metrics", zap.String("session", updated.ID), zap.Error(err))
			}
		}
	} else {
		c.reactor.onUnchanged(ctx, proj, updated)
	}
}

// emitTransition appends the status-change event to the log, typed
// `session.<newStatus>` per spec §4.2 step 4 and the dotted-enum glossary
// (spec §3: "session.working", "session.needs_input", "session.stuck",
// "session.killed", ...), plus one additional event per PR/CI/review/merge
// condition the SCM overlay computed this evaluation (e.g. "pr.merged",
// "ci.failing", "review.changes_requested", "merge.ready",
// "merge.conflicts") — the glossary's other dotted families.
func (c *Controller) emitTransition(prev, updated *session.Session, scmEvents []scmEvent) {
	c.emitEvent(updated, "session."+string(updated.Status), priorityForStatus(updated.Status),
		string(prev.Status)+" -> "+string(updated.Status),
		map[string]string{"from": string(prev.Status), "to": string(updated.Status)})

	for _, se := range scmEvents {
		c.emitEvent(updated, se.Type, priorityForStatus(updated.Status), se.Message, nil)
	}
}

// emitEvent appends one event to the Event Log and publishes it on the
// attached event bus (if any). Grounded on the same Append/Publish pairing
// emitTransition always performed for the status-change event, factored out
// so the PR/CI/review/merge condition events go through identical plumbing.
func (c *Controller) emitEvent(s *session.Session, eventType, priority, message string, data map[string]string) {
	if c.elog != nil {
		ev := eventlog.Event{
			Type:      eventType,
			Priority:  eventlog.Priority(priority),
			SessionID: s.ID,
			ProjectID: s.ProjectID,
			Timestamp: nowFunc().Format(time.RFC3339Nano),
			Message:   message,
			Data:      data,
		}
		if err := c.elog.Append(ev); err != nil {
			c.warn("failed to append lifecycle event", zap.String("session", s.ID), zap.String("type", eventType), zap.Error(err))
		}
	}

	if c.bus != nil {
		payload := map[string]interface{}{"sessionId": s.ID, "projectId": s.ProjectID, "message": message}
		for k, v := range data {
			payload[k] = v
		}
		be := eventbus.NewEvent(eventType, "lifecycle", payload)
		if err := c.bus.Publish(context.Background(), eventType, be); err != nil {
			c.warn("failed to publish event", zap.String("session", s.ID), zap.String("type", eventType), zap.Error(err))
		}
	}
}

// routeUrgentFallback sends a notificationRouting-based notification when a
// transition has no configured reaction to suppress it with, so urgent and
// action-priority transitions are never silent just because the project
// didn't wire a reaction for that status (spec §4.2's fallback routing).
func (c *Controller) routeUrgentFallback(ctx context.Context, proj config.ProjectConfig, s *session.Session) {
	priority := priorityForStatus(s.Status)
	if priority != "urgent" && priority != "action" {
		return
	}
	c.reactor.routeToNotifiers(ctx, proj, priority, s, "session "+s.ID+" transitioned to "+string(s.Status))
}
