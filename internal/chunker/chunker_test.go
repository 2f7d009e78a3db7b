package chunker

import (
	"strings"
	"testing"
)

func TestDetectLanguageByExtension(t *testing.T) {
	cases := map[string]Language{
		"main.go":     Go,
		"app.py":      Python,
		"index.ts":    TS,
		"readme.md":   Markdown,
		"unknown.xyz": Unknown,
	}
	for path, want := range cases {
		if got := DetectLanguage(path, ""); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDetectLanguageByShebang(t *testing.T) {
	if got := DetectLanguage("script", "#!/usr/bin/env python3\nprint(1)"); got != Python {
		t.Errorf("shebang python = %q", got)
	}
	if got := DetectLanguage("script", "#!/bin/bash\necho hi"); got != Unknown {
		t.Errorf("shebang bash should be Unknown, got %q", got)
	}
}

func TestChunkEmptyContent(t *testing.T) {
	if chunks := Chunk("", Go, 100, 20); chunks != nil {
		t.Errorf("expected nil for empty content, got %v", chunks)
	}
	if chunks := Chunk("   \n\t  ", Go, 100, 20); chunks != nil {
		t.Errorf("expected nil for whitespace-only content, got %v", chunks)
	}
}

func TestChunkRespectsSize(t *testing.T) {
	content := strings.Repeat("func doWork() {\n\treturn\n}\n\n", 50)
	chunks := Chunk(content, Go, 200, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 200+40 {
			t.Errorf("chunk exceeds size+overlap bound: %d runes", len([]rune(c)))
		}
	}
}

func TestChunkUnknownLanguageUsesGenericSeparators(t *testing.T) {
	content := strings.Repeat("word ", 200)
	chunks := Chunk(content, Unknown, 100, 10)
	if len(chunks) == 0 {
		t.Fatal("expected chunks from generic splitter")
	}
}

func TestExtractScopeGo(t *testing.T) {
	chunk := `type Server struct{}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	doStuff()
}`
	scope := ExtractScope(chunk, Go)
	if scope.ClassName != "Server" {
		t.Errorf("ClassName = %q, want Server", scope.ClassName)
	}
	if scope.FunctionName != "Handle" {
		t.Errorf("FunctionName = %q, want Handle", scope.FunctionName)
	}
	if scope.Scope != "Server.Handle" {
		t.Errorf("Scope = %q, want Server.Handle", scope.Scope)
	}
}

func TestExtractScopePython(t *testing.T) {
	chunk := `class Widget:
    def render(self):
        pass`
	scope := ExtractScope(chunk, Python)
	if scope.ClassName != "Widget" || scope.FunctionName != "render" {
		t.Errorf("scope = %+v", scope)
	}
}

func TestExtractScopeUnknownLanguage(t *testing.T) {
	scope := ExtractScope("anything at all", Unknown)
	if scope.Scope != "" {
		t.Errorf("expected empty scope, got %+v", scope)
	}
}

func TestStripFrontmatter(t *testing.T) {
	content := "---\ntitle: Hello\ntags:\n  - a\n  - b\n---\nBody text"
	body, meta := StripFrontmatter(content)
	if strings.TrimSpace(body) != "Body text" {
		t.Errorf("body = %q", body)
	}
	if meta.Title != "Hello" {
		t.Errorf("title = %q", meta.Title)
	}
	if len(meta.Tags) != 2 {
		t.Errorf("tags = %v", meta.Tags)
	}
}

func TestStripFrontmatterNoBlock(t *testing.T) {
	body, _ := StripFrontmatter("just plain text")
	if body != "just plain text" {
		t.Errorf("body = %q", body)
	}
}
