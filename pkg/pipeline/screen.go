// Package pipeline implements the end-to-end invocation pipeline:
// the nine-step authenticate -> screen -> authorize -> filter -> invoke ->
// sanitize -> audit -> SIEM -> return orchestration, modeled as an explicit
// eight-state machine per invocation.
package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// ScreenMode controls how the prompt-injection screen reacts to a match.
type ScreenMode string

const (
	ScreenOff   ScreenMode = "off"
	ScreenAlert ScreenMode = "alert"
	ScreenBlock ScreenMode = "block"
)

// injectionPattern pairs a detector regex with the score it contributes on
// match, mirroring secretscan's labeled-pattern registry shape.
type injectionPattern struct {
	name  string
	re    *regexp.Regexp
	score float64
}

// defaultInjectionPatterns are heuristic indicators of an attempt to
// override the governing system/tool instructions from within a textual
// argument. Deliberately coarse: a handful of well-known jailbreak phrasings
// rather than an exhaustive classifier, matching the "detector rules"
// language used by the injection screen.
var defaultInjectionPatterns = []injectionPattern{
	{"ignore_prior_instructions", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`), 0.9},
	{"disregard_system_prompt", regexp.MustCompile(`(?i)disregard\s+(the\s+)?(system|developer)\s+prompt`), 0.9},
	{"reveal_system_prompt", regexp.MustCompile(`(?i)(reveal|print|show)\s+(your\s+)?(system|hidden)\s+prompt`), 0.7},
	{"act_as_unrestricted", regexp.MustCompile(`(?i)act\s+as\s+(an?\s+)?(unfiltered|unrestricted|jailbroken)`), 0.8},
	{"new_instructions_block", regexp.MustCompile(`(?i)\[\s*new\s+instructions\s*\]`), 0.6},
}

// ScreenFinding is one matched injection indicator.
type ScreenFinding struct {
	ArgumentKey string
	PatternName string
	Score       float64
}

// InjectionScreen applies defaultInjectionPatterns to the textual values of
// an invocation's arguments.
type InjectionScreen struct {
	Mode      ScreenMode
	Threshold float64
	patterns  []injectionPattern
}

// NewInjectionScreen constructs a screen. threshold defaults to 0.5 if <= 0.
func NewInjectionScreen(mode ScreenMode, threshold float64) *InjectionScreen {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &InjectionScreen{Mode: mode, Threshold: threshold, patterns: defaultInjectionPatterns}
}

// Scan walks args's string-valued entries and returns every finding whose
// score meets the threshold.
func (s *InjectionScreen) Scan(args map[string]any) []ScreenFinding {
	if s.Mode == ScreenOff {
		return nil
	}
	var findings []ScreenFinding
	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			continue
		}
		for _, p := range s.patterns {
			if p.re.MatchString(str) && p.score >= s.Threshold {
				findings = append(findings, ScreenFinding{ArgumentKey: key, PatternName: p.name, Score: p.score})
			}
		}
	}
	return findings
}

// Summarize renders findings as a short human-readable string for audit
// details.
func Summarize(findings []ScreenFinding) string {
	if len(findings) == 0 {
		return ""
	}
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = fmt.Sprintf("%s@%s(%.2f)", f.PatternName, f.ArgumentKey, f.Score)
	}
	return strings.Join(parts, ",")
}
