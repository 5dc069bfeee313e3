package logging

import (
	"regexp"
	"sync"
)

const redactedPlaceholder = "[REDACTED]"

// minSecretLength keeps short configured values such as "x" from redacting
// unrelated text.
const minSecretLength = 6

// Sanitizer redacts credentials from log output and stored remote payloads.
// It knows common token shapes and, once registered, the literal secrets the
// service was configured with.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: redactedPlaceholder,
	}
}

var tokenShapes = []string{
	// LLM provider keys forwarded to the remote agent
	`sk-ant-[a-zA-Z0-9-]{40,}`,
	`sk-[A-Za-z0-9]{20,}`,
	`AIza[a-zA-Z0-9_-]{35}`,
	// GitHub and GitLab tokens
	`gh[pousr]_[A-Za-z0-9]{36}`,
	`github_pat_[A-Za-z0-9_]{22,}`,
	`glpat-[A-Za-z0-9_-]{20,}`,
	// Webhook HMAC signatures
	`sha(1|256)=[0-9a-fA-F]{40,64}`,
	`AKIA[0-9A-Z]{16}`,
	// Session API keys sent to the remote agent
	`(?i)x-session-api-key["'\s:=]+[^\s"']{16,}`,
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	// Passwords, including the one in a postgres DSN
	`(?i)password["'\s:=]+[^\s"']{8,}`,
	`(postgres(?:ql)?://[^:/\s]+:)[^@\s]+@`,
}

func defaultPatterns() []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(tokenShapes))
	for _, p := range tokenShapes {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// AddSecret registers a configured credential so it is redacted wherever it
// appears verbatim. Values shorter than six characters are ignored.
func (s *Sanitizer) AddSecret(value string) {
	if len(value) < minSecretLength {
		return
	}
	re := regexp.MustCompile(regexp.QuoteMeta(value))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = append(s.secrets, re)
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, re)
	return nil
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redacted = placeholder
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return input
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, re := range s.secrets {
		result = re.ReplaceAllLiteralString(result, s.redacted)
	}
	for _, re := range s.patterns {
		result = re.ReplaceAllLiteralString(result, s.redacted)
	}
	return result
}

// SanitizeMap returns a copy of m with every string redacted, descending into
// nested maps and slices. It is used on remote payloads before they are
// stored or logged.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = s.sanitizeValue(v)
	}
	return result
}

func (s *Sanitizer) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.Sanitize(val)
	case map[string]interface{}:
		return s.SanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
