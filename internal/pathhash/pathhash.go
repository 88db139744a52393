// Package pathhash implements the per-project path-hashing scheme from
// spec §3/§6: each configuration file maps deterministically to a
// per-project data directory under the user's home, so multiple
// configurations can coexist without colliding.
package pathhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// OrchestratorDirName is the directory under $HOME that holds every
// project's instance directory.
const OrchestratorDirName = ".agent-orchestrator"

// HashLen is the number of hex characters kept from the SHA-256 digest.
const HashLen = 12

// InstanceID returns the `<hash>-<basename>` directory name for a project,
// where hash is the first HashLen hex characters of SHA-256(realpath(configPath)).
func InstanceID(configPath, projectPath string) (string, error) {
	hash, err := Hash(configPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", hash, filepath.Base(filepath.Clean(projectPath))), nil
}

// Hash returns the first HashLen hex characters of SHA-256(realpath(configPath)).
func Hash(configPath string) (string, error) {
	real, err := filepath.EvalSymlinks(configPath)
	if err != nil {
		// The config file may not exist yet (e.g. tests); fall back to the
		// cleaned absolute path so the function stays deterministic.
		abs, aerr := filepath.Abs(configPath)
		if aerr != nil {
			return "", err
		}
		real = abs
	}
	sum := sha256.Sum256([]byte(real))
	return hex.EncodeToString(sum[:])[:HashLen], nil
}

// ProjectBase returns `<home>/.agent-orchestrator/<hash>-<basename>` for the
// given configuration and project paths.
func ProjectBase(home, configPath, projectPath string) (string, error) {
	id, err := InstanceID(configPath, projectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, OrchestratorDirName, id), nil
}

// SessionsDir returns `<projectBase>/sessions`.
func SessionsDir(projectBase string) string { return filepath.Join(projectBase, "sessions") }

// ArchiveDir returns `<projectBase>/sessions/archive`.
func ArchiveDir(projectBase string) string { return filepath.Join(SessionsDir(projectBase), "archive") }

// WorktreesDir returns `<projectBase>/worktrees`.
func WorktreesDir(projectBase string) string { return filepath.Join(projectBase, "worktrees") }

// OriginSentinelPath returns `<projectBase>/.origin`.
func OriginSentinelPath(projectBase string) string { return filepath.Join(projectBase, ".origin") }

// EnsureOrigin creates projectBase if needed and writes (or verifies) the
// `.origin` sentinel. If the sentinel already exists and names a different
// resolved configuration path, this is a hash collision: the function
// returns an error naming both paths per spec §8's testable property.
func EnsureOrigin(projectBase, resolvedConfigPath string) error {
	if err := os.MkdirAll(projectBase, 0755); err != nil {
		return fmt.Errorf("create project dir %s: %w", projectBase, err)
	}
	sentinel := OriginSentinelPath(projectBase)
	existing, err := os.ReadFile(sentinel)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read origin sentinel: %w", err)
		}
		return os.WriteFile(sentinel, []byte(resolvedConfigPath), 0644)
	}
	if strings.TrimSpace(string(existing)) != resolvedConfigPath {
		return fmt.Errorf(
			"hash collision: instance directory %s already bound to configuration %q, cannot also bind %q",
			projectBase, strings.TrimSpace(string(existing)), resolvedConfigPath,
		)
	}
	return nil
}

// DerivePrefix derives a session-name prefix from a project id per spec §6:
//   - length <= 4: lowercase as-is
//   - CamelCase with >= 2 uppercase letters: concatenation of the uppercase letters, lowercased
//   - kebab-case / snake_case: first letter of each segment
//   - otherwise: first three lowercase characters
func DerivePrefix(projectID string) string {
	if projectID == "" {
		return ""
	}
	if len(projectID) <= 4 {
		return strings.ToLower(projectID)
	}

	upperCount := 0
	for _, r := range projectID {
		if unicode.IsUpper(r) {
			upperCount++
		}
	}
	if upperCount >= 2 && isCamelCase(projectID) {
		var sb strings.Builder
		for _, r := range projectID {
			if unicode.IsUpper(r) {
				sb.WriteRune(unicode.ToLower(r))
			}
		}
		return sb.String()
	}

	if strings.Contains(projectID, "-") || strings.Contains(projectID, "_") {
		segments := strings.FieldsFunc(projectID, func(r rune) bool { return r == '-' || r == '_' })
		var sb strings.Builder
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			sb.WriteRune(unicode.ToLower([]rune(seg)[0]))
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}

	lower := strings.ToLower(projectID)
	if len(lower) > 3 {
		return lower[:3]
	}
	return lower
}

// isCamelCase reports whether s has no separators and mixes letter case,
// which is what distinguishes e.g. "MyProject" from "ALLCAPS" or "kebab-id".
func isCamelCase(s string) bool {
	if strings.ContainsAny(s, "-_") {
		return false
	}
	hasLower := false
	for _, r := range s {
		if unicode.IsLower(r) {
			hasLower = true
			break
		}
	}
	return hasLower
}

// RuntimeName returns the globally-unique runtime-facing session name
// `<hash>-<prefix>-<n>` (spec §6), so multiple orchestrator instances on one
// machine do not collide in the terminal multiplexer's namespace.
func RuntimeName(hash, prefix string, n int) string {
	return fmt.Sprintf("%s-%s-%d", hash, prefix, n)
}

// UserFacingName returns `<prefix>-<n>`, the name shown to operators; it
// never includes the hash prefix.
func UserFacingName(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}
