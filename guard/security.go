package guard

import (
	"context"
	"regexp"
)

// attackPattern pairs a human-readable description with a compiled regexp
// used to detect a class of injection attack in tool call arguments or
// free-text content.
type attackPattern struct {
	name    string
	pattern *regexp.Regexp
}

// defaultAttackPatterns are the built-in patterns covering the injection
// families spec §4.6 names: SQL injection, cross-site scripting, path
// traversal, and OS command injection. Each pattern is case-insensitive.
var defaultAttackPatterns = []attackPattern{
	{"sql_injection", regexp.MustCompile(`(?i)(\bunion\s+select\b|\bor\s+1\s*=\s*1\b|;\s*drop\s+table\b|'\s*or\s*'1'\s*=\s*'1|--\s*$|\bxp_cmdshell\b)`)},
	{"xss", regexp.MustCompile(`(?i)(<script[\s>]|javascript:|on(?:error|load|click|mouseover)\s*=|<iframe[\s>]|document\.cookie)`)},
	{"path_traversal", regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|/etc/passwd|\\windows\\system32)`)},
	{"command_injection", regexp.MustCompile("(?i)(;\\s*(rm|cat|curl|wget|nc|bash|sh)\\s|\\|\\s*(rm|cat|curl|wget|nc|bash|sh)\\s|`[^`]+`|\\$\\([^)]+\\))")},
}

// AttackDetector is a Guard that detects common injection attack payloads
// (SQL injection, XSS, path traversal, OS command injection) in content
// such as tool call arguments. It blocks content matching any configured
// pattern.
type AttackDetector struct {
	patterns []attackPattern
}

// AttackOption configures an AttackDetector.
type AttackOption func(*AttackDetector)

// WithAttackPattern adds a custom attack detection pattern.
func WithAttackPattern(name, pattern string) AttackOption {
	return func(d *AttackDetector) {
		d.patterns = append(d.patterns, attackPattern{
			name:    name,
			pattern: regexp.MustCompile(pattern),
		})
	}
}

// NewAttackDetector creates an AttackDetector with the default patterns,
// optionally modified by the given options.
func NewAttackDetector(opts ...AttackOption) *AttackDetector {
	d := &AttackDetector{
		patterns: make([]attackPattern, len(defaultAttackPatterns)),
	}
	copy(d.patterns, defaultAttackPatterns)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns "attack_detector".
func (d *AttackDetector) Name() string {
	return "attack_detector"
}

// Validate checks the input content against all configured attack patterns.
// If any pattern matches, the content is blocked with a reason identifying
// the matched pattern family.
func (d *AttackDetector) Validate(_ context.Context, input GuardInput) (GuardResult, error) {
	for _, p := range d.patterns {
		if p.pattern.MatchString(input.Content) {
			return GuardResult{
				Allowed:   false,
				Reason:    "malicious payload detected: " + p.name,
				GuardName: d.Name(),
			}, nil
		}
	}
	return GuardResult{Allowed: true}, nil
}

func init() {
	Register("attack_detector", func(cfg map[string]any) (Guard, error) {
		return NewAttackDetector(), nil
	})
}
