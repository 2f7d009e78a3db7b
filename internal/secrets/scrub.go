// Package secrets scrubs credential-shaped substrings from text before it is
// persisted to the store. Applied to note, insight, and session_summary bodies.
package secrets

import "regexp"

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

var patterns = []pattern{
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_ACCESS_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[=:]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`), "[AWS_SECRET_REDACTED]"},
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), "[GITHUB_PAT_REDACTED]"},
	{regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`), "[GITHUB_OAUTH_REDACTED]"},
	{regexp.MustCompile(`ghu_[a-zA-Z0-9]{36}`), "[GITHUB_USER_REDACTED]"},
	{regexp.MustCompile(`ghs_[a-zA-Z0-9]{36}`), "[GITHUB_SERVER_REDACTED]"},
	{regexp.MustCompile(`ghr_[a-zA-Z0-9]{36}`), "[GITHUB_REFRESH_REDACTED]"},
	{regexp.MustCompile(`sk_(live|test)_[0-9a-zA-Z]{24,}`), "[STRIPE_SECRET_REDACTED]"},
	{regexp.MustCompile(`pk_(live|test)_[0-9a-zA-Z]{24,}`), "[STRIPE_PUBLIC_REDACTED]"},
	{regexp.MustCompile(`xox[bapors]-[0-9a-zA-Z\-]{10,}`), "[SLACK_TOKEN_REDACTED]"},
	{regexp.MustCompile(`-----BEGIN (RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`), "[PRIVATE_KEY_REDACTED]"},
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{48}`), "[OPENAI_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)["']?(?:api[_-]?key|secret|password|token|auth)["']?\s*[:=]\s*["'][^"']{8,}["']`), "[SECRET_REDACTED]"},
}

// Scrub removes credential-shaped substrings from text, replacing each match
// with a fixed sentinel. Safe to call on text with no secrets (no-op).
func Scrub(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}

// Contains reports whether text matches any scrubbing pattern, without
// modifying it. Used by callers that want to warn before writing.
func Contains(text string) bool {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}
