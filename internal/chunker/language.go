// Package chunker detects source language, splits file content into
// overlapping chunks along syntactic boundaries, and extracts the
// enclosing function/class for each chunk.
package chunker

import (
	"path/filepath"
	"strings"
)

// Language identifies one of the languages the chunker has dedicated
// separators and scope-extraction patterns for.
type Language string

const (
	Python     Language = "python"
	JS         Language = "javascript"
	TS         Language = "typescript"
	Go         Language = "go"
	Rust       Language = "rust"
	Ruby       Language = "ruby"
	PHP        Language = "php"
	Java       Language = "java"
	Kotlin     Language = "kotlin"
	Scala      Language = "scala"
	CSharp     Language = "csharp"
	Swift      Language = "swift"
	C          Language = "c"
	CPP        Language = "cpp"
	Markdown   Language = "markdown"
	HTML       Language = "html"
	Lua        Language = "lua"
	Haskell    Language = "haskell"
	Elixir     Language = "elixir"
	Solidity   Language = "solidity"
	Unknown    Language = ""
)

var extensionToLanguage = map[string]Language{
	".py":       Python,
	".js":       JS,
	".jsx":      JS,
	".ts":       TS,
	".tsx":      TS,
	".java":     Java,
	".go":       Go,
	".rs":       Rust,
	".rb":       Ruby,
	".php":      PHP,
	".cpp":      CPP,
	".cc":       CPP,
	".cxx":      CPP,
	".c":        C,
	".h":        C,
	".hpp":      CPP,
	".cs":       CSharp,
	".swift":    Swift,
	".kt":       Kotlin,
	".kts":      Kotlin,
	".scala":    Scala,
	".md":       Markdown,
	".markdown": Markdown,
	".html":     HTML,
	".htm":      HTML,
	".sol":      Solidity,
	".lua":      Lua,
	".hs":       Haskell,
	".ex":       Elixir,
	".exs":      Elixir,
}

// DetectLanguage identifies a file's language from its extension, falling
// back to a shebang line when the extension is unknown and content is
// available. Shell shebangs return Unknown — they have no useful AST-ish
// structure for the splitter to exploit.
func DetectLanguage(path string, contentPrefix string) Language {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensionToLanguage[ext]; ok {
		return lang
	}
	if strings.HasPrefix(contentPrefix, "#!") {
		firstLine := strings.ToLower(strings.SplitN(contentPrefix, "\n", 2)[0])
		switch {
		case strings.Contains(firstLine, "python"):
			return Python
		case strings.Contains(firstLine, "node"), strings.Contains(firstLine, "deno"):
			return JS
		case strings.Contains(firstLine, "ruby"):
			return Ruby
		}
	}
	return Unknown
}
