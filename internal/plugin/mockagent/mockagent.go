// Package mockagent implements an in-memory Agent plugin driven by
// line-prefix conventions in scripted terminal output, grounded on the
// teacher's cmd/mock-agent (a scripted stdin/stdout test agent), scaled
// down to the pure activity-detection/launch-command surface this spec's
// Agent plugin needs.
package mockagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Agent is a configurable mock Agent plugin.
//
// DetectActivity classifies terminalOutput by looking at its last
// non-empty line for one of the sentinel markers below, the way a real
// agent-output detector scans for a recognizable prompt or status line.
type Agent struct {
	// ProcessRunning, if non-nil, is consulted by IsProcessRunning; nil
	// defaults to true so tests only need to flip it when exercising the
	// "idle + dead process" scenario (spec §8 scenario 2).
	ProcessRunning func() bool

	// DetectActivityErr, if set, is returned by DetectActivity for every
	// call, letting tests exercise the "preserve prior status" branch
	// (spec §4.2 step 2).
	DetectActivityErr error
}

const (
	markerActive  = "[[active]]"
	markerWaiting = "[[waiting_input]]"
	markerBlocked = "[[blocked]]"
	markerIdle    = "[[idle]]"
)

func (a *Agent) GetLaunchCommand(cfg plugin.AgentConfig) (string, error) {
	model := cfg["model"]
	if model == "" {
		model = "mock-default"
	}
	return fmt.Sprintf("mock-agent --model %s", model), nil
}

func (a *Agent) GetEnvironment(cfg plugin.AgentConfig) (map[string]string, error) {
	env := make(map[string]string, len(cfg))
	for k, v := range cfg {
		env[k] = v
	}
	return env, nil
}

// DetectActivity never panics on empty input (spec §4.5 requirement) and
// defaults to ActivityIdle when no sentinel marker is present.
func (a *Agent) DetectActivity(terminalOutput string) (plugin.ActivityState, error) {
	if a.DetectActivityErr != nil {
		return "", a.DetectActivityErr
	}
	lines := strings.Split(terminalOutput, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		switch {
		case strings.Contains(line, markerActive):
			return plugin.ActivityActive, nil
		case strings.Contains(line, markerWaiting):
			return plugin.ActivityWaitingInput, nil
		case strings.Contains(line, markerBlocked):
			return plugin.ActivityBlocked, nil
		case strings.Contains(line, markerIdle):
			return plugin.ActivityIdle, nil
		}
		break
	}
	return plugin.ActivityIdle, nil
}

func (a *Agent) GetSessionInfo(ctx context.Context, workspacePath string) (*plugin.AgentSessionInfo, error) {
	return nil, nil
}

func (a *Agent) IsProcessRunning(ctx context.Context, handle plugin.RuntimeHandle) (bool, error) {
	if a.ProcessRunning == nil {
		return true, nil
	}
	return a.ProcessRunning(), nil
}

var _ plugin.Agent = (*Agent)(nil)
