package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type redactionRule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// Redactor masks credentials that tool arguments, environment lookups or
// command output may carry into log lines.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// key=value style secrets keep the key
			{
				name:    "assignment",
				pattern: regexp.MustCompile(`(?i)((?:password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key)"?\s*[:=]\s*"?)[^\s",}]+`),
				replace: "${1}" + redacted,
			},
			{
				name:    "bearer",
				pattern: regexp.MustCompile(`(?i)(bearer|basic)\s+[a-zA-Z0-9._~+/=-]+`),
				replace: "${1} " + redacted,
			},
			// credentials embedded in URLs
			{
				name:    "url_userinfo",
				pattern: regexp.MustCompile(`(://[^/\s:@]+):[^/\s@]+@`),
				replace: "${1}:" + redacted + "@",
			},
			{name: "aws_access_key", pattern: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), replace: redacted},
			{name: "github_token", pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), replace: redacted},
			{name: "api_key", pattern: regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{20,}`), replace: redacted},
			{name: "private_key", pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), replace: redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern; whole matches are replaced
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{name: "custom", pattern: re, replace: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.pattern.ReplaceAllString(s, rule.replace)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information. Each Write is
// treated as a whole log line, which holds for zerolog writers.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
