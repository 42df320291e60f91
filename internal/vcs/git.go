package vcs

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// GitCommitter records configuration changes in a git repository, one commit
// per deployment. It implements deploy.VersionControl.
type GitCommitter struct {
	repoDir string
}

// NewGitCommitter creates a committer rooted at repoDir. The directory must
// already be a git work tree.
func NewGitCommitter(repoDir string) *GitCommitter {
	return &GitCommitter{repoDir: repoDir}
}

// Commit stages path and commits it with message, returning the new revision.
func (g *GitCommitter) Commit(path, message string) (string, error) {
	if out, err := g.git("add", path); err != nil {
		return "", fmt.Errorf("git add %s: %w (%s)", path, err, out)
	}
	if out, err := g.git("commit", "-m", message, "--", path); err != nil {
		return "", fmt.Errorf("git commit: %w (%s)", err, out)
	}

	rev, err := g.git("rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}

	log.Debug().Str("revision", rev).Str("path", path).Msg("Configuration change committed")
	return rev, nil
}

func (g *GitCommitter) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoDir
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// NopVersionControl discards commits. Used when version tracking is disabled.
type NopVersionControl struct{}

func (NopVersionControl) Commit(path, message string) (string, error) {
	return "", nil
}
