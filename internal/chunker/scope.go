package chunker

import "regexp"

// Scope is the enclosing function/class identified within a chunk.
type Scope struct {
	FunctionName string
	ClassName    string
	Scope        string // "Class.function" when both are present
}

type scopePatterns struct {
	function *regexp.Regexp
	class    *regexp.Regexp
}

var patternsByLanguage = map[Language]scopePatterns{
	Python: {
		function: regexp.MustCompile(`(?:async\s+)?def\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`class\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*[:(]`),
	},
	JS: {
		function: regexp.MustCompile(`function\s+([a-zA-Z_$][a-zA-Z0-9_$]*)|(?:const|let|var)\s+([a-zA-Z_$][a-zA-Z0-9_$]*)\s*=\s*(?:async\s*)?\(`),
		class:    regexp.MustCompile(`class\s+([a-zA-Z_$][a-zA-Z0-9_$]*)`),
	},
	TS: {
		function: regexp.MustCompile(`function\s+([a-zA-Z_$][a-zA-Z0-9_$]*)|(?:const|let|var)\s+([a-zA-Z_$][a-zA-Z0-9_$]*)\s*=\s*(?:async\s*)?\(`),
		class:    regexp.MustCompile(`class\s+([a-zA-Z_$][a-zA-Z0-9_$]*)`),
	},
	Go: {
		function: regexp.MustCompile(`func\s+(?:\([^)]+\)\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`type\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+struct`),
	},
	Rust: {
		function: regexp.MustCompile(`(?:pub\s+)?(?:async\s+)?fn\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
		class:    regexp.MustCompile(`(?:pub\s+)?(?:struct|impl|enum)\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	Java: {
		function: regexp.MustCompile(`(?:public|private|protected|static|\s)+[\w<>\[\]]+\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`),
		class:    regexp.MustCompile(`(?:public\s+)?(?:abstract\s+)?(?:final\s+)?class\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	Kotlin: {
		function: regexp.MustCompile(`(?:suspend\s+)?fun\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
		class:    regexp.MustCompile(`(?:class|object|interface)\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	Ruby: {
		function: regexp.MustCompile(`def\s+(?:self\.)?([a-zA-Z_][a-zA-Z0-9_?!]*)`),
		class:    regexp.MustCompile(`(?:class|module)\s+([A-Z][a-zA-Z0-9_]*)`),
	},
	C: {
		function: regexp.MustCompile(`(?:[\w*]+\s+)+([a-zA-Z_][a-zA-Z0-9_]*)\s*\([^;]*\)\s*{`),
		class:    regexp.MustCompile(`(?:struct|class)\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
	CPP: {
		function: regexp.MustCompile(`(?:[\w*:]+\s+)*([a-zA-Z_][a-zA-Z0-9_]*)\s*\([^;]*\)\s*(?:const\s*)?(?:override\s*)?{`),
		class:    regexp.MustCompile(`(?:struct|class)\s+([a-zA-Z_][a-zA-Z0-9_]*)`),
	},
}

// ExtractScope identifies the innermost function and outermost class
// mentioned in a chunk, using per-language regex heuristics (no AST). An
// unknown language, or a chunk with no matches, yields a zero Scope.
func ExtractScope(chunk string, lang Language) Scope {
	var result Scope
	if chunk == "" || lang == Unknown {
		return result
	}
	pat, ok := patternsByLanguage[lang]
	if !ok {
		pat = patternsByLanguage[Python]
	}

	if pat.class != nil {
		if m := pat.class.FindStringSubmatch(chunk); m != nil {
			result.ClassName = firstNonEmpty(m[1:])
		}
	}
	if pat.function != nil {
		if all := pat.function.FindAllStringSubmatch(chunk, -1); len(all) > 0 {
			last := all[len(all)-1]
			result.FunctionName = firstNonEmpty(last[1:])
		}
	}

	switch {
	case result.ClassName != "" && result.FunctionName != "":
		result.Scope = result.ClassName + "." + result.FunctionName
	case result.ClassName != "":
		result.Scope = result.ClassName
	case result.FunctionName != "":
		result.Scope = result.FunctionName
	}
	return result
}

func firstNonEmpty(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}
