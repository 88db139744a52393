package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockagent"
	"github.com/kandev/agent-orchestrator/internal/plugin/mocknotifier"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockruntime"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockscm"
	"github.com/kandev/agent-orchestrator/internal/plugin/workspace"
	"github.com/kandev/agent-orchestrator/internal/session"
)

func durPtr(d time.Duration) *time.Duration { return &d }

// withClock overrides nowFunc for the duration of fn, restoring it after.
func withClock(t *testing.T, at time.Time, fn func()) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	defer func() { nowFunc = prev }()
	fn()
}

func newReactorHarness(t *testing.T) (*reactionEngine, *plugin.Registry, *mocknotifier.Notifier, *mockruntime.Runtime) {
	t.Helper()
	reg := plugin.NewRegistry()
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	scm := mockscm.NewClient()
	notifier := &mocknotifier.Notifier{}
	require.NoError(t, reg.Register(plugin.SlotRuntime, "mock", rt))
	require.NoError(t, reg.Register(plugin.SlotAgent, "mock", ag))
	require.NoError(t, reg.Register(plugin.SlotSCM, "mock", scm))
	require.NoError(t, reg.Register(plugin.SlotNotifier, "mock", notifier))
	reg.Freeze()
	return newReactionEngine(reg, nil), reg, notifier, rt
}

func baseProject() config.ProjectConfig {
	return config.ProjectConfig{
		ID: "proj1",
		Plugins: config.PluginBindings{
			Runtime: "mock", Agent: "mock", SCM: "mock", Notifier: "mock",
		},
		NotificationRouting: map[string][]string{
			"urgent": {"mock"},
			"action": {"mock"},
		},
	}
}

// TestReactionFiresOnceOnTransitionThenRetriggers exercises spec §8's
// retry/retrigger timeline: fire at t=0 (counts as retry #1), fire again at
// t=31s (retriggerAfter=30s elapsed, retriesUsed(1)<retries(3)), no fire at
// t=45s (elapsed since last fire is only 14s), fire at t=62s (elapsed 31s
// since the t=31 fire), then suppressed at t=90s since retriesUsed(3) is no
// longer < retries(3).
func TestReactionFiresOnceOnTransitionThenRetriggers(t *testing.T) {
	reactor, _, notifier, rt := newReactorHarness(t)
	proj := baseProject()
	proj.Reactions = map[string]config.ReactionConfig{
		"ci-failed": {
			Auto:           true,
			Action:         "notify-human",
			Message:        "CI is failing",
			Retries:        3,
			RetriggerAfter: durPtr(30 * time.Second),
		},
	}

	s := &session.Session{ID: "sess-1", ProjectID: "proj1", Status: session.StatusCIFailed, RuntimeHandle: plugin.RuntimeHandle{ID: "sess-1"}}
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	withClock(t, t0, func() {
		fired := reactor.onTransition(context.Background(), proj, s)
		assert.True(t, fired)
	})
	assert.Len(t, notifier.Events(), 1)

	withClock(t, t0.Add(31*time.Second), func() {
		reactor.onUnchanged(context.Background(), proj, s)
	})
	assert.Len(t, notifier.Events(), 2)

	withClock(t, t0.Add(45*time.Second), func() {
		reactor.onUnchanged(context.Background(), proj, s)
	})
	assert.Len(t, notifier.Events(), 2, "elapsed since last fire is only 14s, must not retrigger")

	withClock(t, t0.Add(62*time.Second), func() {
		reactor.onUnchanged(context.Background(), proj, s)
	})
	assert.Len(t, notifier.Events(), 3)

	withClock(t, t0.Add(90*time.Second), func() {
		reactor.onUnchanged(context.Background(), proj, s)
	})
	assert.Len(t, notifier.Events(), 3, "retry budget exhausted, must not fire a 4th time")
}

// TestBugbotFingerprintFiresOnCommentSetChange exercises spec §8 scenario 5:
// two evaluations see [c1] (the first establishes the post-transition
// baseline and must not fire, the second must fire because the fingerprint
// changed from empty to fp([c1])), then a third evaluation sees [c1, c2]
// and fires again. Total: exactly two fires.
func TestBugbotFingerprintFiresOnCommentSetChange(t *testing.T) {
	reactor, _, notifier, rt := newReactorHarness(t)
	proj := baseProject()
	proj.Reactions = map[string]config.ReactionConfig{
		"bugbot-comments": {Auto: true, Action: "notify-human", Message: "new automated review comments"},
	}
	// pr_open carries "info" priority; route it so the notify-human fires
	// reach the mock notifier.
	proj.NotificationRouting["info"] = []string{"mock"}

	s := &session.Session{ID: "sess-2", ProjectID: "proj1", Status: session.StatusPROpen, RuntimeHandle: plugin.RuntimeHandle{ID: "sess-2"}}
	rt.Create(context.Background(), s.RuntimeHandle, nil, "")

	pr := plugin.PRInfo{Number: 9, Owner: "acme", Repo: "widgets", Branch: "agent/sess-2"}
	s.PR = &pr

	scm, err := reactorSCM(reactor)
	require.NoError(t, err)
	scm.Seed(mockscm.PRData{Info: pr, State: plugin.PRStateOpen})

	// First evaluation after the transition into pr_open: establishes the
	// empty baseline, no fire yet.
	reactor.onTransition(context.Background(), proj, s)
	assert.Empty(t, notifier.Events())

	// Second evaluation: comments=[c1] now differs from the empty baseline.
	scm.SetAutomatedComments(pr, []plugin.AutomatedComment{{ID: "c1", Tool: "bugbot"}})
	reactor.onUnchanged(context.Background(), proj, s)
	assert.Len(t, notifier.Events(), 1)

	// Same comments again: fingerprint unchanged, no fire (no retriggerAfter
	// configured, so it never retriggers on its own).
	reactor.onUnchanged(context.Background(), proj, s)
	assert.Len(t, notifier.Events(), 1)

	// Third evaluation: comments=[c1, c2], fingerprint changes again.
	scm.SetAutomatedComments(pr, []plugin.AutomatedComment{{ID: "c1", Tool: "bugbot"}, {ID: "c2", Tool: "bugbot"}})
	reactor.onUnchanged(context.Background(), proj, s)
	assert.Len(t, notifier.Events(), 2)
}

func reactorSCM(e *reactionEngine) (*mockscm.Client, error) {
	scm, err := e.registry.SCM("mock")
	if err != nil {
		return nil, err
	}
	return scm.(*mockscm.Client), nil
}

func initControllerTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestTickPersistsTransitionAndSuppressesFallbackNotification(t *testing.T) {
	reg := plugin.NewRegistry()
	rt := mockruntime.NewRuntime()
	ag := &mockagent.Agent{}
	scm := mockscm.NewClient()
	notifier := &mocknotifier.Notifier{}
	ws := workspace.NewLocal(nil)
	require.NoError(t, reg.Register(plugin.SlotRuntime, "mock", rt))
	require.NoError(t, reg.Register(plugin.SlotAgent, "mock", ag))
	require.NoError(t, reg.Register(plugin.SlotSCM, "mock", scm))
	require.NoError(t, reg.Register(plugin.SlotNotifier, "mock", notifier))
	require.NoError(t, reg.Register(plugin.SlotWorkspace, "local", ws))
	reg.Freeze()

	repo := initControllerTestRepo(t)
	home := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("projects: []\n"), 0644))

	cfg := &config.Config{
		Orchestrator: config.OrchestratorConfig{TickInterval: time.Hour, EvalParallelism: 4},
		Projects: []config.ProjectConfig{
			{
				ID:       "proj1",
				RepoPath: repo,
				Plugins:  config.PluginBindings{Runtime: "mock", Agent: "mock", SCM: "mock", Notifier: "mock", Workspace: "local"},
				Reactions: map[string]config.ReactionConfig{
					"stuck": {Auto: true, Action: "notify-human", Message: "agent appears stuck"},
				},
				NotificationRouting: map[string][]string{"urgent": {"mock"}},
			},
		},
	}

	dir := t.TempDir()
	elog, err := eventlog.Open(dir, "events.jsonl", eventlog.DefaultMaxBytes)
	require.NoError(t, err)
	defer elog.Close()

	mgr, err := session.NewManager(cfg, configPath, home, reg, elog, nil)
	require.NoError(t, err)

	s, err := mgr.Spawn(context.Background(), "proj1", "issue-1", session.SpawnOptions{})
	require.NoError(t, err)
	rt.SetOutput(s.RuntimeHandle.ID, "[[blocked]]\n")

	ctrl := NewController(mgr, reg, cfg, elog, nil)
	ctrl.tick(context.Background())

	got, err := mgr.Get("proj1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusStuck, got.Status)

	// The configured "stuck" reaction already notified; the generic urgent
	// fallback route must be suppressed so the operator doesn't get paged
	// twice for the same transition.
	assert.Len(t, notifier.Events(), 1)
}
