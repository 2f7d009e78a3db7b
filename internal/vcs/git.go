// Package vcs wraps the git command-line tool. All operations are
// best-effort: a missing binary, a non-repo path, or a timeout yields the
// conservative default (false, empty, or nil) rather than an error the
// caller must handle specially.
package vcs

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lookupTimeout = 5 * time.Second
	diffTimeout   = 30 * time.Second
)

// Rename is one old-path -> new-path pair detected by rename-similarity.
type Rename struct {
	Old string
	New string
}

func run(ctx context.Context, timeout time.Duration, root string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmdArgs := append([]string{"-C", root}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether path is inside a git working tree.
func IsRepo(path string) bool {
	out, err := run(context.Background(), lookupTimeout, path, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Root returns the top-level directory of the repository containing path,
// or "" if path is not in a git repository.
func Root(path string) string {
	out, err := run(context.Background(), lookupTimeout, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	abs, absErr := filepath.Abs(out)
	if absErr != nil {
		return out
	}
	return abs
}

// HeadCommit returns the current HEAD commit SHA, or "" on failure.
func HeadCommit(path string) string {
	out, err := run(context.Background(), lookupTimeout, path, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// Branch returns the current branch name, or "" if detached/unknown.
func Branch(path string) string {
	out, err := run(context.Background(), lookupTimeout, path, "branch", "--show-current")
	if err != nil {
		return ""
	}
	return out
}

// ChangedSince returns files modified, deleted, and renamed between
// fromCommit and the working tree HEAD, with rename detection. A rename
// yields a deletion of its old path and an addition of its new path.
func ChangedSince(path, fromCommit string) (modified, deleted []string, renamed []Rename) {
	out, err := run(context.Background(), diffTimeout, path, "diff", "--name-status", "-M", fromCommit, "HEAD")
	if err != nil {
		return nil, nil, nil
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "R"):
			if len(fields) >= 3 {
				renamed = append(renamed, Rename{Old: fields[1], New: fields[2]})
			}
		case status == "D":
			deleted = append(deleted, fields[1])
		default: // A, M, C, T...
			modified = append(modified, fields[len(fields)-1])
		}
	}
	return modified, deleted, renamed
}

// Untracked returns paths git sees as untracked (and not gitignored).
func Untracked(path string) []string {
	out, err := run(context.Background(), lookupTimeout, path, "ls-files", "--others", "--exclude-standard")
	if err != nil || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// CommitsSince returns the number of commits made after isoTimestamp.
func CommitsSince(path, isoTimestamp string) int {
	out, err := run(context.Background(), lookupTimeout, path, "rev-list", "--count", "HEAD", "--since="+isoTimestamp)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(out)
	return n
}

// TrackedFileCount returns the number of files git tracks in the repo.
func TrackedFileCount(path string) int {
	out, err := run(context.Background(), lookupTimeout, path, "ls-files")
	if err != nil || out == "" {
		return 0
	}
	return len(strings.Split(out, "\n"))
}
