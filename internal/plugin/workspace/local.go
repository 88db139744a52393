// Package workspace implements the Workspace plugin slot: provisioning the
// filesystem a session's agent runs in. Local materially adapts the
// teacher's internal/worktree/manager.go and config.go (branch naming, `~`
// expansion, per-repository lock map) down to the create/destroy/clone
// shape spec §4.1/§9 needs.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/logger"
	"github.com/kandev/agent-orchestrator/internal/plugin"
)

// Local provisions sessions as git worktrees against a shared repository,
// one branch per session, sharing object storage with the main clone.
type Local struct {
	logger *logger.Logger

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// NewLocal returns a Local workspace provider.
func NewLocal(log *logger.Logger) *Local {
	if log == nil {
		log = logger.Default()
	}
	return &Local{
		logger:    log.WithFields(zap.String("component", "workspace-local")),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

func (l *Local) lockFor(repoPath string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.repoLocks[repoPath]
	if !ok {
		lk = &sync.Mutex{}
		l.repoLocks[repoPath] = lk
	}
	return lk
}

// Create adds a git worktree for branch at destPath, creating branch from
// the repository's current HEAD if it does not already exist.
func (l *Local) Create(ctx context.Context, repoPath, branch, destPath string) error {
	lock := l.lockFor(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if !l.isGitRepo(repoPath) {
		return fmt.Errorf("%s is not a git repository", repoPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("prepare worktree parent dir: %w", err)
	}

	branchExists := l.branchExists(ctx, repoPath, branch)
	args := []string{"worktree", "add"}
	if !branchExists {
		args = append(args, "-b", branch, destPath)
	} else {
		args = append(args, destPath, branch)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	l.logger.Info("created worktree",
		zap.String("repo_path", repoPath),
		zap.String("branch", branch),
		zap.String("dest_path", destPath))
	return nil
}

// Destroy removes the worktree at workspacePath.
func (l *Local) Destroy(ctx context.Context, workspacePath string) error {
	repoPath, err := l.findMainRepo(ctx, workspacePath)
	if err != nil {
		// Best-effort: if we can't resolve the main repo, try plain removal.
		return os.RemoveAll(workspacePath)
	}

	lock := l.lockFor(repoPath)
	lock.Lock()
	defer lock.Unlock()

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", workspacePath)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		l.logger.Warn("git worktree remove failed, falling back to rm -rf",
			zap.String("path", workspacePath), zap.Error(err), zap.String("output", string(out)))
		return os.RemoveAll(workspacePath)
	}
	return nil
}

// Clone clones upstreamRepo into destPath. Used when a project's policy
// chooses cloning over worktree sharing for a session's workspace.
func (l *Local) Clone(ctx context.Context, upstreamRepo, destPath string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", upstreamRepo, destPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (l *Local) isGitRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func (l *Local) branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (l *Local) findMainRepo(ctx context.Context, workspacePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-common-dir")
	cmd.Dir = workspacePath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	commonDir := strings.TrimSpace(string(out))
	return filepath.Dir(commonDir), nil
}

var _ plugin.Workspace = (*Local)(nil)
