package ingest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const treeTimeout = 10 * time.Second

// TreeStats summarizes a generated skeleton.
type TreeStats struct {
	TotalFiles int
	TotalDirs  int
}

// GenerateTree produces a repository's directory skeleton: the system `tree`
// command when available, otherwise an internal walk honoring the same
// ignore patterns as the walker. maxDepth bounds both paths.
func GenerateTree(root string, ignore map[string]bool, maxDepth int) (string, TreeStats) {
	if out, ok := tryTreeCommand(root, ignore, maxDepth); ok {
		return out, analyzeTree(out)
	}
	out := fallbackTree(root, ignore, maxDepth)
	return out, analyzeTree(out)
}

func tryTreeCommand(root string, ignore map[string]bool, maxDepth int) (string, bool) {
	if _, err := exec.LookPath("tree"); err != nil {
		return "", false
	}
	patterns := make([]string, 0, len(ignore))
	for p := range ignore {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	ctx, cancel := context.WithTimeout(context.Background(), treeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tree",
		"-L", strconv.Itoa(maxDepth), "-a", "-I", strings.Join(patterns, "|"), "--noreport")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// fallbackTree is the pure-Go traversal used when `tree` isn't installed.
func fallbackTree(root string, ignore map[string]bool, maxDepth int) string {
	var lines []string
	lines = append(lines, filepath.Base(root))
	lines = append(lines, traverse(root, "", 0, maxDepth, ignore)...)
	return strings.Join(lines, "\n")
}

func traverse(dir, prefix string, depth, maxDepth int, ignore map[string]bool) []string {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var filtered []os.DirEntry
	for _, e := range entries {
		name := e.Name()
		if ignore[name] || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].IsDir() != filtered[j].IsDir() {
			return filtered[i].IsDir()
		}
		return strings.ToLower(filtered[i].Name()) < strings.ToLower(filtered[j].Name())
	})

	var lines []string
	for i, e := range filtered {
		isLast := i == len(filtered)-1
		connector := "├── "
		nextPrefix := prefix + "│   "
		if isLast {
			connector = "└── "
			nextPrefix = prefix + "    "
		}
		lines = append(lines, prefix+connector+e.Name())
		if e.IsDir() {
			lines = append(lines, traverse(filepath.Join(dir, e.Name()), nextPrefix, depth+1, maxDepth, ignore)...)
		}
	}
	return lines
}

func analyzeTree(tree string) TreeStats {
	lines := strings.Split(tree, "\n")
	var stats TreeStats
	for _, line := range lines[1:] {
		var name string
		switch {
		case strings.Contains(line, "├── "):
			name = strings.SplitN(line, "├── ", 2)[1]
		case strings.Contains(line, "└── "):
			name = strings.SplitN(line, "└── ", 2)[1]
		default:
			continue
		}
		if strings.Contains(name, ".") && !strings.HasSuffix(name, "/") {
			stats.TotalFiles++
		} else {
			stats.TotalDirs++
		}
	}
	return stats
}
