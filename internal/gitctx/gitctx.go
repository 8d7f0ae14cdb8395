package gitctx

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string
	Head   string
	Branch string
}

// GetRepoMeta collects repository metadata from git.
func GetRepoMeta() (RepoMeta, error) {
	root, err := gitOutput("rev-parse", "--show-toplevel")
	if err != nil {
		return RepoMeta{}, fmt.Errorf("not a git repository: %w", err)
	}
	head, err := gitOutput("rev-parse", "HEAD")
	if err != nil {
		head = "" // new repo with no commits
	}
	branch, err := gitOutput("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}
	return RepoMeta{
		Root:   strings.TrimSpace(root),
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}, nil
}

// ChangedFiles returns the files that differ between rev and the working
// tree, plus untracked files not ignored by git. Paths are relative to the
// repository root, sorted and unique, whichever directory tenet runs from.
func ChangedFiles(rev string) ([]string, error) {
	meta, err := GetRepoMeta()
	if err != nil {
		return nil, err
	}
	return changedFiles(meta.Root, rev)
}

func changedFiles(root, rev string) ([]string, error) {
	if rev == "" {
		rev = "HEAD"
	}
	if strings.HasPrefix(rev, "-") {
		return nil, fmt.Errorf("invalid revision %q", rev)
	}
	if _, err := gitOutputIn(root, "rev-parse", "--verify", "--quiet", rev+"^{commit}"); err != nil {
		return nil, fmt.Errorf("unknown revision %s: %w", rev, err)
	}

	diff, err := gitOutputIn(root, "diff", "--name-only", "--no-renames", rev, "--")
	if err != nil {
		return nil, fmt.Errorf("git diff %s: %w", rev, err)
	}
	// ls-files only lists the current directory's subtree, so run it at the root
	untracked, err := gitOutputIn(root, "ls-files", "--others", "--exclude-standard", "--full-name")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	return splitPaths(diff, untracked), nil
}

// ChangedSet is ChangedFiles as a lookup set. Each file is present both
// relative to the repository root and as an absolute path, so units named
// either way match.
func ChangedSet(rev string) (map[string]bool, error) {
	meta, err := GetRepoMeta()
	if err != nil {
		return nil, err
	}
	files, err := changedFiles(meta.Root, rev)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, 2*len(files))
	for _, f := range files {
		set[f] = true
		set[filepath.Join(meta.Root, filepath.FromSlash(f))] = true
	}
	return set, nil
}

// HooksDir returns the directory git runs hooks from. It honors
// core.hooksPath and linked worktrees.
func HooksDir() (string, error) {
	out, err := gitOutput("rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return filepath.Clean(strings.TrimSpace(out)), nil
}

func splitPaths(outputs ...string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, out := range outputs {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			files = append(files, line)
		}
	}
	sort.Strings(files)
	return files
}

func gitOutput(args ...string) (string, error) {
	return gitOutputIn("", args...)
}

func gitOutputIn(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), fmt.Errorf("%s: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}
