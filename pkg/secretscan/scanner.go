// Package secretscan implements the regex-based secret detector and
// redactor: recursive scanning of
// arbitrary JSON-like values (maps, slices, scalars) against a registry of
// labeled patterns, plus a structure-preserving redact().
//
// Grounded on github.com/brevanhowe/govern-core's pkg/firewall/firewall.go
// for the "registry of compiled matchers applied before/after a dispatch"
// shape. The pattern set itself (API keys, cloud credentials, JWTs, DB
// URLs) is new: no example repo ships a secret-pattern registry, so the
// patterns are written fresh against common vendor key-format conventions.
package secretscan

import (
	"fmt"
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// Pattern is one labeled secret-detection rule.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Finding records one match, with the dotted path to the value it was
// found in (e.g. "result.headers.Authorization" or "result.items[2].token").
type Finding struct {
	Path           string `json:"path"`
	PatternName    string `json:"pattern_name"`
	MatchedSubstr  string `json:"matched_substring"`
}

// DefaultPatterns is the built-in registry of
// "API keys, cloud credentials, JWT, DB URLs, etc." Patterns are ordered;
// the first one to match a given substring wins for that substring, but a
// string can contribute multiple non-overlapping findings.
var DefaultPatterns = []Pattern{
	{"aws_access_key_id", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws_secret_access_key", regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`)},
	{"gcp_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`)},
	{"generic_api_key", regexp.MustCompile(`(?i)\b(sk|pk|api)[-_][a-zA-Z0-9]{16,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |)PRIVATE KEY-----`)},
	{"db_connection_url", regexp.MustCompile(`\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis)://[^\s'"]+:[^\s'"@]+@[^\s'"]+`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`)},
}

// Scanner recursively scans JSON-like values for secret patterns.
type Scanner struct {
	patterns []Pattern
}

// New builds a Scanner with the given pattern registry. A nil/empty slice
// uses DefaultPatterns.
func New(patterns []Pattern) *Scanner {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Scanner{patterns: patterns}
}

// Scan walks value recursively (maps, slices, and scalar leaves) and
// returns every pattern match found, each tagged with its path. Scan is
// O(total string bytes) across the structure: each leaf string is matched
// once per pattern with no backtracking blow-up expected from the patterns
// above (bounded quantifiers or explicit charsets throughout).
func (s *Scanner) Scan(value any) []Finding {
	var findings []Finding
	s.walk(value, "$", &findings)
	return findings
}

func (s *Scanner) walk(value any, path string, findings *[]Finding) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			s.walk(child, path+"."+k, findings)
		}
	case []any:
		for i, child := range v {
			s.walk(child, fmt.Sprintf("%s[%d]", path, i), findings)
		}
	case string:
		s.scanString(v, path, findings)
	default:
		// numbers, bools, nil: never carry secrets
	}
}

func (s *Scanner) scanString(str, path string, findings *[]Finding) {
	// NFC-normalize before matching so a secret split across combining
	// sequences on non-ASCII input still matches byte-for-byte patterns.
	normalized := norm.NFC.String(str)
	for _, p := range s.patterns {
		for _, m := range p.Re.FindAllString(normalized, -1) {
			*findings = append(*findings, Finding{
				Path:          path,
				PatternName:   p.Name,
				MatchedSubstr: m,
			})
		}
	}
}

const redactedPlaceholder = "REDACTED"

// Redact returns a structure-preserving deep copy of value with every
// matched substring replaced by REDACTED. Non-string scalars and the shape
// of maps/slices are preserved untouched.
func (s *Scanner) Redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = s.Redact(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = s.Redact(child)
		}
		return out
	case string:
		return s.redactString(v)
	default:
		return v
	}
}

func (s *Scanner) redactString(str string) string {
	out := str
	for _, p := range s.patterns {
		out = p.Re.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}

// HasFindings is a convenience for callers that only need a boolean gate
// (e.g. InvocationPipeline step 6: "if findings exist and sensitivity >=
// medium, redact in place"). It short-circuits on the first match.
func (s *Scanner) HasFindings(value any) bool {
	switch v := value.(type) {
	case map[string]any:
		for _, child := range v {
			if s.HasFindings(child) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if s.HasFindings(child) {
				return true
			}
		}
	case string:
		normalized := norm.NFC.String(v)
		for _, p := range s.patterns {
			if p.Re.MatchString(normalized) {
				return true
			}
		}
	}
	return false
}
