package api

import (
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/scheduler"
)

// SpawnRequest is POST /sessions' body.
type SpawnRequest struct {
	ProjectID         string             `json:"projectId" binding:"required"`
	IssueID           string             `json:"issueId"`
	AgentConfig       plugin.AgentConfig `json:"agentConfig"`
	ValidatedPlanTask bool               `json:"validatedPlanTask"`
}

// SendRequest is POST /sessions/:id/send's body.
type SendRequest struct {
	Message string `json:"message" binding:"required"`
}

// CleanupRequest is POST /cleanup's body.
type CleanupRequest struct {
	ProjectID string `json:"projectId"`
	DryRun    bool   `json:"dryRun"`
}

// ReadyQueueRequest is GET /scheduler/ready-queue's body: the Task Scheduler
// is a pure function, so the caller supplies the graph and config it wants
// evaluated rather than the server owning scheduler state.
type ReadyQueueRequest struct {
	Graph  scheduler.TaskGraph  `json:"graph" binding:"required"`
	Config scheduler.Config `json:"config"`
}
