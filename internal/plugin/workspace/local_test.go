package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
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

func TestLocalCreateAndDestroy(t *testing.T) {
	repo := initRepo(t)
	base := t.TempDir()
	dest := filepath.Join(base, "wt1")

	l := NewLocal(nil)
	ctx := context.Background()

	require.NoError(t, l.Create(ctx, repo, "feature/my-branch", dest))
	_, err := os.Stat(filepath.Join(dest, "README.md"))
	require.NoError(t, err)

	require.NoError(t, l.Destroy(ctx, dest))
	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err))
}

func TestLocalRejectsNonGitRepo(t *testing.T) {
	notRepo := t.TempDir()
	dest := filepath.Join(t.TempDir(), "wt")
	l := NewLocal(nil)
	err := l.Create(context.Background(), notRepo, "feature/x", dest)
	require.Error(t, err)
}
