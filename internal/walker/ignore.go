package walker

import (
	"bufio"
	"os"
	"strings"
)

// LoadIgnorePatterns merges the built-in defaults with a global ignore file
// (e.g. ~/.cortex/cortexignore) and a project-local .cortexignore under
// root, per the layered-patterns rule. Missing files are not an error.
func LoadIgnorePatterns(root, globalIgnorePath string, useCortexignore bool) map[string]bool {
	patterns := map[string]bool{}
	if !useCortexignore {
		return patterns
	}
	for _, p := range readIgnoreFile(globalIgnorePath) {
		patterns[p] = true
	}
	for _, p := range readIgnoreFile(root + string(os.PathSeparator) + ".cortexignore") {
		patterns[p] = true
	}
	return patterns
}

func readIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSuffix(line, "/")
		patterns = append(patterns, line)
	}
	return patterns
}
