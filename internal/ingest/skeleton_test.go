package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "src"), 0o755))
	must(os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	must(os.WriteFile(filepath.Join(root, "src", "lib.go"), []byte("package src"), 0o644))
	must(os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	must(os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0o644))
	return root
}

func TestFallbackTreeSkipsIgnoredDirs(t *testing.T) {
	root := writeTestTree(t)
	tree := fallbackTree(root, map[string]bool{"node_modules": true}, 10)
	if strings.Contains(tree, "node_modules") {
		t.Fatalf("expected node_modules to be excluded:\n%s", tree)
	}
	if !strings.Contains(tree, "main.go") || !strings.Contains(tree, "lib.go") {
		t.Fatalf("expected main.go and lib.go present:\n%s", tree)
	}
}

func TestFallbackTreeDirsBeforeFiles(t *testing.T) {
	root := writeTestTree(t)
	tree := fallbackTree(root, map[string]bool{"node_modules": true}, 10)
	lines := strings.Split(tree, "\n")
	srcIdx, mainIdx := -1, -1
	for i, l := range lines {
		if strings.Contains(l, "src") {
			srcIdx = i
		}
		if strings.Contains(l, "main.go") {
			mainIdx = i
		}
	}
	if srcIdx == -1 || mainIdx == -1 || srcIdx > mainIdx {
		t.Fatalf("expected src/ dir before main.go:\n%s", tree)
	}
}

func TestAnalyzeTreeCountsFilesAndDirs(t *testing.T) {
	tree := "root\n├── src\n│   └── lib.go\n└── main.go"
	stats := analyzeTree(tree)
	if stats.TotalFiles != 2 {
		t.Fatalf("expected 2 files, got %d", stats.TotalFiles)
	}
	if stats.TotalDirs != 1 {
		t.Fatalf("expected 1 dir, got %d", stats.TotalDirs)
	}
}

func TestGenerateTreeFallsBackWithoutTreeBinary(t *testing.T) {
	root := writeTestTree(t)
	out, stats := GenerateTree(root, map[string]bool{"node_modules": true}, 5)
	if out == "" {
		t.Fatal("expected non-empty tree output")
	}
	if stats.TotalFiles == 0 {
		t.Fatal("expected at least one file counted")
	}
}
