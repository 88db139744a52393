package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/lifecycle"
	"github.com/kandev/agent-orchestrator/internal/metrics"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockagent"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockruntime"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockscm"
	"github.com/kandev/agent-orchestrator/internal/plugin/workspace"
	"github.com/kandev/agent-orchestrator/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func initAPITestRepo(t *testing.T) string {
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

// testServer builds a Handler backed by a real Manager and Controller wired
// to mock plugins, matching the harness pattern the Session Manager and
// Lifecycle Controller tests use.
func testServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.SlotRuntime, "mock", mockruntime.NewRuntime()))
	require.NoError(t, reg.Register(plugin.SlotAgent, "mock", &mockagent.Agent{}))
	require.NoError(t, reg.Register(plugin.SlotSCM, "mock", mockscm.NewClient()))
	require.NoError(t, reg.Register(plugin.SlotWorkspace, "local", workspace.NewLocal(nil)))
	reg.Freeze()

	repo := initAPITestRepo(t)
	home := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("projects: []\n"), 0644))

	cfg := &config.Config{
		Orchestrator: config.OrchestratorConfig{TickInterval: time.Hour, EvalParallelism: 4},
		Projects: []config.ProjectConfig{
			{
				ID:       "proj1",
				RepoPath: repo,
				Plugins:  config.PluginBindings{Runtime: "mock", Agent: "mock", SCM: "mock", Workspace: "local"},
			},
		},
	}

	elog, err := eventlog.Open(t.TempDir(), "events.jsonl", eventlog.DefaultMaxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { elog.Close() })

	mgr, err := session.NewManager(cfg, configPath, home, reg, elog, nil)
	require.NoError(t, err)

	ctrl := lifecycle.NewController(mgr, reg, cfg, elog, nil)

	rec, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.jsonl"))
	require.NoError(t, err)

	handler := NewHandler(mgr, ctrl, elog, rec, nil)
	router := gin.New()
	SetupRoutes(router, handler)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSpawnAndGetSession(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(SpawnRequest{ProjectID: "proj1", IssueID: "issue-1"})
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var s session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "issue-1", s.IssueID)

	resp2, err := http.Get(srv.URL + "/sessions/" + s.ID + "?projectId=proj1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestGetSessionNotFoundMapsTo404WithKind(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/sessions/does-not-exist?projectId=proj1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "NotFound", body["kind"])
}

func TestSpawnMissingProjectIDIsBadRequest(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(map[string]string{"issueId": "issue-1"})
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMetricsEmptyWhenNoneRecorded(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]metrics.OutcomeMetrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body["metrics"])
}
