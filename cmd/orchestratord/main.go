// Command orchestratord is the HTTP daemon fronting the Session Manager,
// Lifecycle Controller, Task Scheduler and Metrics recorder (spec §7).
// Grounded on the teacher's cmd/orchestrator/main.go bootstrap sequence
// (numbered steps: load config, init logger, connect event bus, build
// services, wire a WebSocket hub, register gin routes, start the HTTP
// server, wait for a shutdown signal, shut everything down in reverse
// order) — generalized from its Postgres+NATS-only wiring to this core's
// plugin registry and file-backed stores, with NATS now optional rather
// than mandatory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/api"
	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/eventbus"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/lifecycle"
	"github.com/kandev/agent-orchestrator/internal/logger"
	"github.com/kandev/agent-orchestrator/internal/metrics"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockagent"
	"github.com/kandev/agent-orchestrator/internal/plugin/mocknotifier"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockruntime"
	"github.com/kandev/agent-orchestrator/internal/plugin/mockscm"
	"github.com/kandev/agent-orchestrator/internal/plugin/workspace"
	"github.com/kandev/agent-orchestrator/internal/session"
	"github.com/kandev/agent-orchestrator/internal/streaming"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	home := flag.String("home", "", "root directory for session instance state (defaults to $HOME/.agent-orchestrator)")
	flag.Parse()

	// 1. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	log.Info("starting orchestratord")

	// 3. Root context, cancelled on shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	homeDir := *home
	if homeDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			log.Error("failed to resolve home directory", zap.Error(err))
			os.Exit(1)
		}
		homeDir = filepath.Join(h, ".agent-orchestrator")
	}

	// 4. Build and freeze the plugin registry. This core ships mock plugin
	// implementations plus the real local-worktree Workspace; projects bind
	// to these by name in config (spec §5's "plugins loaded once at startup").
	registry := plugin.NewRegistry()
	must(registry.Register(plugin.SlotRuntime, "mock", mockruntime.NewRuntime()), log)
	must(registry.Register(plugin.SlotAgent, "mock", &mockagent.Agent{}), log)
	must(registry.Register(plugin.SlotSCM, "mock", mockscm.NewClient()), log)
	must(registry.Register(plugin.SlotNotifier, "mock", &mocknotifier.Notifier{}), log)
	must(registry.Register(plugin.SlotWorkspace, "local", workspace.NewLocal(log)), log)
	registry.Freeze()

	// 5. Open the event log.
	elog, err := eventlog.Open(filepath.Join(homeDir, "log"), "events.jsonl", eventlog.DefaultMaxBytes)
	if err != nil {
		log.Error("failed to open event log", zap.Error(err))
		os.Exit(1)
	}
	defer elog.Close()

	// 6. Connect the event bus (in-process by default, NATS if configured).
	bus, err := eventbus.New(cfg.EventBus, log)
	if err != nil {
		log.Error("failed to connect event bus", zap.Error(err))
		os.Exit(1)
	}
	defer bus.Close()

	// 7. Open the outcome metrics recorder.
	rec, err := metrics.Open(filepath.Join(homeDir, "metrics.jsonl"))
	if err != nil {
		log.Error("failed to open metrics file", zap.Error(err))
		os.Exit(1)
	}

	// 8. Build the Session Manager and Lifecycle Controller.
	mgr, err := session.NewManager(cfg, *configPath, homeDir, registry, elog, log)
	if err != nil {
		log.Error("failed to build session manager", zap.Error(err))
		os.Exit(1)
	}
	ctrl := lifecycle.NewController(mgr, registry, cfg, elog, log)
	ctrl.SetEventBus(bus)
	ctrl.SetMetrics(rec)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	// 9. Build the WebSocket streaming hub and attach it to the event bus.
	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	for _, subject := range []string{"session.>", "pr.>", "ci.>", "review.>", "merge.>"} {
		if err := hub.Attach(bus, subject); err != nil {
			log.Error("failed to attach streaming hub to event bus", zap.String("subject", subject), zap.Error(err))
		}
	}

	// 10. Build the gin router.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.RequestLogger(log))
	router.Use(api.Recovery(log))
	router.Use(api.CORS())

	handler := api.NewHandler(mgr, ctrl, elog, rec, log)
	api.SetupRoutes(router, handler)
	streaming.SetupRoutes(router, streaming.NewHandler(hub, log))

	// 11. Start the HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	// 12. Wait for a shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down orchestratord")

	// 13. Graceful shutdown, reverse order of startup.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	log.Info("orchestratord stopped")
}

func must(err error, log *logger.Logger) {
	if err != nil {
		log.Error("failed to register plugin", zap.Error(err))
		os.Exit(1)
	}
}
