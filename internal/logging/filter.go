// Package logging provides zerolog helpers that keep credentials out of log
// output: a hook that flags events whose message looks sensitive, value
// redaction for call sites, and a filtering writer for log files.
package logging

import (
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// RedactedValue replaces sensitive data.
const RedactedValue = "[REDACTED]"

// sensitivePatterns match credentials as they appear in ALM traffic: basic
// and bearer authorization headers, session headers, and key=value secrets.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{16,}`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{8,}`),
	regexp.MustCompile(`(?i)x-session-id\s*[:=]\s*["']?[a-zA-Z0-9-]{8,}["']?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*["']?[^\s"',}]{4,}["']?`),
	// JSON Web Tokens
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]*`),
}

// sensitiveFieldNames are field names whose values are always redacted.
var sensitiveFieldNames = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"session_id",
	"sessionid",
	"credential",
}

// SensitiveDataHook marks log events whose message matches a sensitive
// pattern. zerolog does not let hooks rewrite a message, so redaction of
// values happens at the call site through SafeValue and on disk through
// FilteringWriter.
type SensitiveDataHook struct{}

// NewSensitiveDataHook creates a SensitiveDataHook.
func NewSensitiveDataHook() *SensitiveDataHook {
	return &SensitiveDataHook{}
}

// Run implements zerolog.Hook.
func (h *SensitiveDataHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if ContainsSensitiveData(msg) {
		e.Bool("contains_filtered_data", true)
	}
}

// ContainsSensitiveData reports whether s matches any sensitive pattern.
func ContainsSensitiveData(s string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// FilterSensitiveValue replaces every sensitive match in value with
// RedactedValue.
func FilterSensitiveValue(value string) string {
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedValue)
	}
	return value
}

// IsSensitiveFieldName reports whether fieldName names a credential.
func IsSensitiveFieldName(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, s := range sensitiveFieldNames {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SafeValue returns value for logging under fieldName: fully redacted when
// the name is sensitive, pattern-filtered otherwise.
//
//	log.Info().Str("user", logging.SafeValue("user", cfg.User)).Msg("login")
func SafeValue(fieldName, value string) string {
	if IsSensitiveFieldName(fieldName) {
		return RedactedValue
	}
	return FilterSensitiveValue(value)
}

// FilteringWriter redacts sensitive data from everything written through it.
type FilteringWriter struct {
	w io.Writer
}

// NewFilteringWriter wraps w.
func NewFilteringWriter(w io.Writer) *FilteringWriter {
	return &FilteringWriter{w: w}
}

// Write implements io.Writer. It reports len(p) on success so callers do not
// see the redaction as a short write.
func (fw *FilteringWriter) Write(p []byte) (int, error) {
	if _, err := fw.w.Write([]byte(FilterSensitiveValue(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
