package policy

import (
	"regexp"
	"sync"
)

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not classified as phones.
var defaultRules = []redactionRule{
	{kind: "email", pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), marker: "[REDACTED_EMAIL]"},
	{kind: "card", pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), marker: "[REDACTED_CARD]"},
	{kind: "phone", pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), marker: "[REDACTED_PHONE]"},
}

// Redactor masks high-risk PII in transcripts before they are persisted.
// A disabled Redactor returns its input unchanged.
type Redactor struct {
	enabled bool

	mu     sync.Mutex
	counts map[string]int
}

func NewRedactor(enabled bool) *Redactor {
	return &Redactor{enabled: enabled, counts: make(map[string]int)}
}

func (r *Redactor) Enabled() bool { return r != nil && r.enabled }

// Redact returns the masked text and whether anything was replaced.
func (r *Redactor) Redact(input string) (string, bool) {
	if !r.Enabled() || input == "" {
		return input, false
	}
	out, kinds := RedactPII(input)
	if len(kinds) == 0 {
		return input, false
	}
	r.mu.Lock()
	for _, k := range kinds {
		r.counts[k]++
	}
	r.mu.Unlock()
	return out, true
}

// Counts reports how many texts had each kind of PII masked.
func (r *Redactor) Counts() map[string]int {
	out := make(map[string]int)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// RedactPII masks common high-risk PII patterns and lists the kinds found.
func RedactPII(input string) (string, []string) {
	out := input
	var kinds []string
	for _, rule := range defaultRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			kinds = append(kinds, rule.kind)
			out = next
		}
	}
	return out, kinds
}
