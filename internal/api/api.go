// Package api wires the Session Manager, Lifecycle Controller, Task
// Scheduler, and Metrics recorder to an HTTP surface (spec §7). Grounded on
// apps/backend/internal/orchestrator/api's Handler/SetupRoutes shape
// (plain struct holding the service + logger, one method per route) and
// its {error} JSON body convention, generalized here to the taxonomy-tagged
// {error, kind} body spec §7 requires.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/lifecycle"
	"github.com/kandev/agent-orchestrator/internal/logger"
	"github.com/kandev/agent-orchestrator/internal/metrics"
	"github.com/kandev/agent-orchestrator/internal/scheduler"
	"github.com/kandev/agent-orchestrator/internal/session"
)

// Handler holds every component the HTTP surface fronts.
type Handler struct {
	mgr     *session.Manager
	ctrl    *lifecycle.Controller
	elog    *eventlog.Log
	metrics *metrics.Recorder
	log     *logger.Logger
}

// NewHandler builds a Handler. metrics may be nil (the metrics endpoints
// then report an empty list).
func NewHandler(mgr *session.Manager, ctrl *lifecycle.Controller, elog *eventlog.Log, rec *metrics.Recorder, log *logger.Logger) *Handler {
	return &Handler{mgr: mgr, ctrl: ctrl, elog: elog, metrics: rec, log: log}
}

// SetupRoutes registers every route this Handler serves onto router.
func SetupRoutes(router gin.IRouter, h *Handler) {
	router.GET("/healthz", h.Healthz)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.SpawnSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.POST("/:id/kill", h.KillSession)
		sessions.POST("/:id/restore", h.RestoreSession)
		sessions.POST("/:id/send", h.SendToSession)
		sessions.POST("/:id/check", h.CheckSession)
	}

	router.POST("/cleanup", h.Cleanup)
	router.GET("/scheduler/ready-queue", h.ReadyQueue)
	router.GET("/events", h.TailEvents)
	router.GET("/metrics", h.ListMetrics)
}

// writeError renders err as spec §7's {error, kind} JSON body, mapping the
// taxonomy Kind to an HTTP status.
func writeError(c *gin.Context, err error) {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "Unknown"})
		return
	}
	c.JSON(httpStatusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

func httpStatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflictingState, apperrors.KindDependencyUnresolved, apperrors.KindPolicyViolation:
		return http.StatusConflict
	case apperrors.KindPluginError, apperrors.KindMetadataError, apperrors.KindConfigError:
		return http.StatusBadGateway
	case apperrors.KindTransientError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SpawnSession starts a new session for a project/issue.
// POST /sessions
func (h *Handler) SpawnSession(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "BadRequest"})
		return
	}
	s, err := h.mgr.Spawn(c.Request.Context(), req.ProjectID, req.IssueID, session.SpawnOptions{
		AgentConfig:       req.AgentConfig,
		ValidatedPlanTask: req.ValidatedPlanTask,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// ListSessions lists sessions, optionally scoped to ?projectId=.
// GET /sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.mgr.List(c.Query("projectId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession fetches one session by id, scoped by ?projectId= (required).
// GET /sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	s, err := h.mgr.Get(c.Query("projectId"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// KillSession terminates a session's runtime and marks it killed.
// POST /sessions/:id/kill
func (h *Handler) KillSession(c *gin.Context) {
	if err := h.mgr.Kill(c.Request.Context(), c.Query("projectId"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestoreSession re-attaches a terminated session's workspace to a fresh
// runtime.
// POST /sessions/:id/restore
func (h *Handler) RestoreSession(c *gin.Context) {
	s, err := h.mgr.Restore(c.Request.Context(), c.Query("projectId"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// SendToSession forwards a message into the session's agent.
// POST /sessions/:id/send
func (h *Handler) SendToSession(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "BadRequest"})
		return
	}
	if err := h.mgr.Send(c.Request.Context(), c.Query("projectId"), c.Param("id"), req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// CheckSession evaluates one session on demand instead of waiting for the
// next lifecycle tick.
// POST /sessions/:id/check
func (h *Handler) CheckSession(c *gin.Context) {
	s, err := h.ctrl.Check(c.Request.Context(), c.Query("projectId"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Cleanup kills a project's non-terminal sessions whose PR has merged or
// whose runtime and agent process are both gone; terminal sessions are
// skipped.
// POST /cleanup
func (h *Handler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	_ = c.ShouldBindJSON(&req)
	result, err := h.mgr.Cleanup(c.Request.Context(), req.ProjectID, session.CleanupOptions{DryRun: req.DryRun})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReadyQueue reports the Task Scheduler's current ready queue for a
// client-supplied graph.
// GET /scheduler/ready-queue
func (h *Handler) ReadyQueue(c *gin.Context) {
	var req ReadyQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "BadRequest"})
		return
	}
	result, err := scheduler.GetReadyQueue(req.Graph, req.Config)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// TailEvents reads events appended at or after ?since= (an opaque cursor
// offset), defaulting to the beginning of the current log file.
// GET /events
func (h *Handler) TailEvents(c *gin.Context) {
	if h.elog == nil {
		c.JSON(http.StatusOK, gin.H{"events": []eventlog.Event{}, "cursor": 0})
		return
	}
	since := int64(0)
	if s := c.Query("since"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = v
		}
	}
	events, cursor, err := h.elog.Tail(eventlog.Cursor{Offset: since})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "Unknown"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "cursor": cursor.Offset})
}

// ListMetrics returns recorded OutcomeMetrics, optionally scoped to
// ?projectId=.
// GET /metrics
func (h *Handler) ListMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, gin.H{"metrics": []metrics.OutcomeMetrics{}})
		return
	}
	list, err := h.metrics.ListMetrics(c.Query("projectId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "Unknown"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": list})
}
