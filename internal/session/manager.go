package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/eventlog"
	"github.com/kandev/agent-orchestrator/internal/logger"
	"github.com/kandev/agent-orchestrator/internal/metadata"
	"github.com/kandev/agent-orchestrator/internal/pathhash"
	"github.com/kandev/agent-orchestrator/internal/plugin"
	"go.uber.org/zap"
)

// SpawnOptions carries the optional fields of spawn({projectId, issueId?,
// options?}) (spec §4.1).
type SpawnOptions struct {
	AgentConfig       plugin.AgentConfig
	ValidatedPlanTask bool
}

// CleanupOptions controls cleanup's blast radius and side effects.
type CleanupOptions struct {
	DryRun bool
}

// CleanupResult is the {killed[], skipped[], errors[]} shape spec §4.1 names.
type CleanupResult struct {
	Killed []string
	Skipped []string
	Errors  map[string]error
}

// projectEnv is everything the Manager needs to operate on one configured
// project: its on-disk instance directory, derived session-id prefix, and a
// metadata store rooted at that project's sessions directory.
type projectEnv struct {
	cfg       config.ProjectConfig
	hash      string
	prefix    string
	base      string
	worktrees string
	store     *metadata.Store
}

// Manager implements the Session Manager (spec §4.1). It owns no process
// state beyond the metadata store: every Session it returns is read fresh
// from (or written straight through to) disk, so a restarted orchestrator
// recovers the same view.
type Manager struct {
	registry *plugin.Registry
	elog     *eventlog.Log
	log      *logger.Logger

	mu       sync.Mutex // serializes spawn's find-or-create race across projects
	projects map[string]*projectEnv
}

// NewManager builds a Manager for every project in cfg, deriving each
// project's instance directory via the path+hash scheme (spec §6) rooted at
// home, and binding its .origin sentinel to configPath.
func NewManager(cfg *config.Config, configPath, home string, reg *plugin.Registry, elog *eventlog.Log, log *logger.Logger) (*Manager, error) {
	m := &Manager{registry: reg, elog: elog, log: log, projects: make(map[string]*projectEnv)}
	for _, p := range cfg.Projects {
		hash, err := pathhash.Hash(configPath)
		if err != nil {
			return nil, apperrors.WrapConfig("hash configuration path", err)
		}
		base, err := pathhash.ProjectBase(home, configPath, p.RepoPath)
		if err != nil {
			return nil, apperrors.WrapConfig("derive project base", err)
		}
		realConfigPath, err := filepath.Abs(configPath)
		if err != nil {
			realConfigPath = configPath
		}
		if err := pathhash.EnsureOrigin(base, realConfigPath); err != nil {
			return nil, apperrors.WrapConfig(fmt.Sprintf("project %q", p.ID), err)
		}

		sessionsDir := pathhash.SessionsDir(base)
		store, err := metadata.NewStore(sessionsDir)
		if err != nil {
			return nil, err
		}

		prefix := p.SessionPrefix
		if prefix == "" {
			prefix = pathhash.DerivePrefix(p.ID)
		}

		m.projects[p.ID] = &projectEnv{
			cfg:       p,
			hash:      hash,
			prefix:    prefix,
			base:      base,
			worktrees: pathhash.WorktreesDir(base),
			store:     store,
		}
	}
	return m, nil
}

func (m *Manager) env(projectID string) (*projectEnv, error) {
	env, ok := m.projects[projectID]
	if !ok {
		return nil, apperrors.NotFoundf("unknown project %q", projectID)
	}
	return env, nil
}

func (env *projectEnv) plugins(reg *plugin.Registry) (rt plugin.Runtime, ag plugin.Agent, ws plugin.Workspace, err error) {
	b := env.cfg.Plugins
	if rt, err = reg.Runtime(b.Runtime); err != nil {
		return
	}
	if ag, err = reg.Agent(b.Agent); err != nil {
		return
	}
	ws, err = reg.Workspace(b.Workspace)
	return
}

// findSessionForIssue returns the live session already spawned for
// (projectId, issueId), if any — the guarantee spec §4.1 names for
// at-most-one concurrent spawn per issue.
func (m *Manager) findSessionForIssue(env *projectEnv, issueID string) (*Session, error) {
	if issueID == "" {
		return nil, nil
	}
	ids, err := env.store.List()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rec, err := env.store.Read(id)
		if err != nil {
			continue
		}
		s, err := fromRecord(id, rec)
		if err != nil {
			continue
		}
		if s.IssueID == issueID && !s.IsTerminal() {
			return s, nil
		}
	}
	return nil, nil
}

// Spawn implements spec §4.1's spawn operation.
func (m *Manager) Spawn(ctx context.Context, projectID, issueID string, opts SpawnOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env, err := m.env(projectID)
	if err != nil {
		return nil, err
	}
	if env.cfg.Policies.RequireValidatedPlanTask && !opts.ValidatedPlanTask {
		return nil, apperrors.PolicyViolationf("project %q requires a validated plan task before spawn", projectID)
	}

	if existing, err := m.findSessionForIssue(env, issueID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	numeral, err := env.store.MaxNumeralSuffix(env.prefix)
	if err != nil {
		return nil, err
	}
	numeral++
	id := pathhash.UserFacingName(env.prefix, numeral)
	runtimeName := pathhash.RuntimeName(env.hash, env.prefix, numeral)
	branch := fmt.Sprintf("agent/%s", id)
	worktreePath := filepath.Join(env.worktrees, id)

	rt, ag, ws, err := env.plugins(m.registry)
	if err != nil {
		return nil, apperrors.WrapPlugin("resolve", projectID, err)
	}

	if err := ws.Create(ctx, env.cfg.RepoPath, branch, worktreePath); err != nil {
		return nil, apperrors.WrapPlugin("workspace", env.cfg.Plugins.Workspace, err)
	}

	now := time.Now().UTC()
	s := &Session{
		ID:            id,
		ProjectID:     projectID,
		WorkspacePath: worktreePath,
		CreatedAt:     now,
		Status:        StatusSpawning,
		Activity:      ActivityActive,
		Branch:        branch,
		IssueID:       issueID,
		Metadata:      map[string]string{},
	}

	if err := m.writeInitialMetadata(env, s); err != nil {
		// MetadataError during write triggers one retry, then surfaces (spec §7).
		if retryErr := m.writeInitialMetadata(env, s); retryErr != nil {
			_ = ws.Destroy(ctx, worktreePath)
			return nil, retryErr
		}
	}

	handle, err := rt.Create(ctx, plugin.RuntimeHandle{ID: runtimeName, RuntimeName: runtimeName}, map[string]string{
		"AO_SESSION_ID": id,
		"AO_PROJECT_ID": projectID,
		"AO_ISSUE_ID":   issueID,
	}, worktreePath)
	if err != nil {
		_ = ws.Destroy(ctx, worktreePath)
		_ = env.store.Delete(id, false)
		return nil, apperrors.WrapPlugin("runtime", env.cfg.Plugins.Runtime, err)
	}
	s.RuntimeHandle = handle

	launchCmd, err := ag.GetLaunchCommand(opts.AgentConfig)
	if err != nil {
		_ = rt.Destroy(ctx, handle)
		_ = ws.Destroy(ctx, worktreePath)
		_ = env.store.Delete(id, false)
		return nil, apperrors.WrapPlugin("agent", env.cfg.Plugins.Agent, err)
	}
	if err := rt.SendMessage(ctx, handle, launchCmd); err != nil {
		_ = rt.Destroy(ctx, handle)
		_ = ws.Destroy(ctx, worktreePath)
		_ = env.store.Delete(id, false)
		return nil, apperrors.WrapPlugin("runtime", env.cfg.Plugins.Runtime, err)
	}

	if err := m.persist(env, s); err != nil {
		return nil, err
	}

	m.emit(eventlog.Event{
		Type: "session.spawning", SessionID: s.ID, ProjectID: projectID,
		Priority: eventlog.PriorityInfo, Timestamp: now.Format(time.RFC3339Nano),
	})
	return s, nil
}

func (m *Manager) writeInitialMetadata(env *projectEnv, s *Session) error {
	rec, err := toRecord(s, nil)
	if err != nil {
		return err
	}
	return env.store.Write(s.ID, rec)
}

func (m *Manager) persist(env *projectEnv, s *Session) error {
	base, err := env.store.Read(s.ID)
	if err != nil {
		if k, ok := apperrors.KindOf(err); !ok || k != apperrors.KindNotFound {
			return err
		}
		base = metadata.NewRecord()
	}
	rec, err := toRecord(s, base)
	if err != nil {
		return err
	}
	return env.store.Write(s.ID, rec)
}

// ApplyDerived reads the current session, lets mutate adjust its derived
// fields, and persists the result. It is the hook the Lifecycle Controller
// uses to write a newly-derived status/activity/PR reference (spec §4.2)
// without duplicating the Session Manager's codec/store plumbing.
func (m *Manager) ApplyDerived(projectID, id string, mutate func(*Session)) (*Session, error) {
	env, err := m.env(projectID)
	if err != nil {
		return nil, err
	}
	rec, err := env.store.Read(id)
	if err != nil {
		return nil, err
	}
	s, err := fromRecord(id, rec)
	if err != nil {
		return nil, err
	}
	mutate(s)
	if err := m.persist(env, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session for id, or NotFound.
func (m *Manager) Get(projectID, id string) (*Session, error) {
	env, err := m.env(projectID)
	if err != nil {
		return nil, err
	}
	rec, err := env.store.Read(id)
	if err != nil {
		return nil, err
	}
	return fromRecord(id, rec)
}

// List returns every live session for projectID, or across all projects if
// projectID is empty.
func (m *Manager) List(projectID string) ([]*Session, error) {
	var envs []*projectEnv
	if projectID != "" {
		env, err := m.env(projectID)
		if err != nil {
			return nil, err
		}
		envs = []*projectEnv{env}
	} else {
		for _, env := range m.projects {
			envs = append(envs, env)
		}
	}

	var out []*Session
	for _, env := range envs {
		ids, err := env.store.List()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			rec, err := env.store.Read(id)
			if err != nil {
				continue
			}
			s, err := fromRecord(id, rec)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// Kill implements spec §4.1's kill operation: idempotent, archives metadata.
func (m *Manager) Kill(ctx context.Context, projectID, id string) error {
	env, err := m.env(projectID)
	if err != nil {
		return err
	}

	rec, err := env.store.Read(id)
	if err != nil {
		if k, ok := apperrors.KindOf(err); ok && k == apperrors.KindNotFound {
			if _, archErr := env.store.ReadArchivedMetadataRaw(id); archErr == nil {
				return nil // already archived: no-op success
			}
			return err
		}
		return err
	}
	s, err := fromRecord(id, rec)
	if err != nil {
		return err
	}

	if rt, err := m.registry.Runtime(env.cfg.Plugins.Runtime); err == nil {
		_ = rt.Destroy(ctx, s.RuntimeHandle) // best-effort (spec §4.1)
	}
	if ws, err := m.registry.Workspace(env.cfg.Plugins.Workspace); err == nil {
		_ = ws.Destroy(ctx, s.WorkspacePath)
	}

	if _, err := env.store.Update(id, map[string]string{keyStatus: string(StatusKilled)}); err != nil {
		return err
	}
	if err := env.store.Delete(id, true); err != nil {
		return err
	}

	m.emit(eventlog.Event{
		Type: "session.killed", SessionID: id, ProjectID: projectID,
		Priority: eventlog.PriorityWarning, Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// Cleanup implements spec §4.1's cleanup operation.
func (m *Manager) Cleanup(ctx context.Context, projectID string, opts CleanupOptions) (*CleanupResult, error) {
	sessions, err := m.List(projectID)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{Errors: make(map[string]error)}
	for _, s := range sessions {
		if s.IsTerminal() {
			result.Skipped = append(result.Skipped, s.ID)
			continue
		}

		shouldKill := false
		env, _ := m.env(s.ProjectID)
		if env != nil && s.PR != nil {
			if scm, err := m.registry.SCM(env.cfg.Plugins.SCM); err == nil {
				state, err := scm.GetPRState(ctx, *s.PR)
				if err != nil {
					// PR status lookup failures must not block cleanup of
					// other sessions (spec §4.1).
					result.Errors[s.ID] = err
				} else if state == plugin.PRStateMerged {
					shouldKill = true
				}
			}
		}
		if !shouldKill && env != nil {
			if rt, err := m.registry.Runtime(env.cfg.Plugins.Runtime); err == nil {
				if ag, err := m.registry.Agent(env.cfg.Plugins.Agent); err == nil {
					alive, aliveErr := rt.IsAlive(ctx, s.RuntimeHandle)
					running, runErr := ag.IsProcessRunning(ctx, s.RuntimeHandle)
					if aliveErr == nil && runErr == nil && !alive && !running {
						shouldKill = true
					}
				}
			}
		}

		if !shouldKill {
			result.Skipped = append(result.Skipped, s.ID)
			continue
		}
		if opts.DryRun {
			result.Killed = append(result.Killed, s.ID)
			continue
		}
		if err := m.Kill(ctx, s.ProjectID, s.ID); err != nil {
			result.Errors[s.ID] = err
			continue
		}
		result.Killed = append(result.Killed, s.ID)
	}
	return result, nil
}

// Send implements spec §4.1's send operation.
func (m *Manager) Send(ctx context.Context, projectID, id, message string) error {
	env, err := m.env(projectID)
	if err != nil {
		return err
	}
	rec, err := env.store.Read(id)
	if err != nil {
		return err
	}
	s, err := fromRecord(id, rec)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		return apperrors.ConflictingStatef("session %q is in terminal status %q, not ready to receive input", id, s.Status)
	}
	rt, err := m.registry.Runtime(env.cfg.Plugins.Runtime)
	if err != nil {
		return err
	}
	if err := rt.SendMessage(ctx, s.RuntimeHandle, message); err != nil {
		return apperrors.WrapPlugin("runtime", env.cfg.Plugins.Runtime, err)
	}
	return nil
}

// Restore implements spec §4.1's restore operation.
func (m *Manager) Restore(ctx context.Context, projectID, id string) (*Session, error) {
	env, err := m.env(projectID)
	if err != nil {
		return nil, err
	}

	rec, err := env.store.ReadArchivedMetadataRaw(id)
	if err != nil {
		rec, err = env.store.Read(id)
		if err != nil {
			return nil, err
		}
	}
	s, err := fromRecord(id, rec)
	if err != nil {
		return nil, err
	}
	if !s.IsTerminal() {
		return nil, apperrors.ConflictingStatef("session %q is not in a terminal status, cannot restore", id)
	}

	rt, ag, ws, err := env.plugins(m.registry)
	if err != nil {
		return nil, apperrors.WrapPlugin("resolve", projectID, err)
	}

	if _, statErr := os.Stat(s.WorkspacePath); statErr != nil {
		if err := ws.Create(ctx, env.cfg.RepoPath, s.Branch, s.WorkspacePath); err != nil {
			return nil, apperrors.WrapPlugin("workspace", env.cfg.Plugins.Workspace, err)
		}
	}

	handle, err := rt.Create(ctx, s.RuntimeHandle, map[string]string{
		"AO_SESSION_ID": id,
		"AO_PROJECT_ID": projectID,
		"AO_ISSUE_ID":   s.IssueID,
	}, s.WorkspacePath)
	if err != nil {
		return nil, apperrors.WrapPlugin("runtime", env.cfg.Plugins.Runtime, err)
	}
	s.RuntimeHandle = handle

	launchCmd, err := ag.GetLaunchCommand(nil)
	if err != nil {
		return nil, apperrors.WrapPlugin("agent", env.cfg.Plugins.Agent, err)
	}
	if err := rt.SendMessage(ctx, handle, launchCmd); err != nil {
		return nil, apperrors.WrapPlugin("runtime", env.cfg.Plugins.Runtime, err)
	}

	s.Status = StatusSpawning
	s.Activity = ActivityActive
	if err := m.writeInitialMetadata(env, s); err != nil {
		return nil, err
	}

	m.emit(eventlog.Event{
		Type: "session.restored", SessionID: id, ProjectID: projectID,
		Priority: eventlog.PriorityInfo, Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return s, nil
}

func (m *Manager) emit(ev eventlog.Event) {
	if m.elog == nil {
		return
	}
	if err := m.elog.Append(ev); err != nil && m.log != nil {
		m.log.Warn("failed to append session event",
			zap.String("type", ev.Type), zap.String("session", ev.SessionID), zap.Error(err))
	}
}
