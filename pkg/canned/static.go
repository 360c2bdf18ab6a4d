// Package canned matches inbound messages against pre-authored responses,
// either by static keyword patterns or by vector similarity.
package canned

import (
	"strings"
)

// Entry is a configured canned response.
type Entry struct {
	ID       string `yaml:"id" json:"id"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Response string `yaml:"response" json:"response"`
}

// Match is the outcome of a canned lookup.
type Match struct {
	Matched    bool    `json:"matched"`
	Response   string  `json:"response,omitempty"`
	TemplateID string  `json:"template_id,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// StaticMatcher scans configured entries in order; first match wins.
type StaticMatcher struct {
	entries []Entry
}

// NewStaticMatcher creates a matcher over the configured entries.
func NewStaticMatcher(entries []Entry) *StaticMatcher {
	return &StaticMatcher{entries: entries}
}

// Len returns the number of configured entries.
func (m *StaticMatcher) Len() int {
	return len(m.entries)
}

// Match returns the first entry whose pattern matches the text.
func (m *StaticMatcher) Match(text string) (*Match, bool) {
	for _, entry := range m.entries {
		if MatchKeyword(text, entry.Pattern) {
			return &Match{
				Matched:    true,
				Response:   entry.Response,
				TemplateID: entry.ID,
			}, true
		}
	}
	return nil, false
}

// MatchKeyword reports whether text contains the pattern, case-insensitively.
// The pattern may hold `|`-separated alternatives treated as OR; empty
// alternatives are skipped.
func MatchKeyword(text, pattern string) bool {
	if pattern == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, alt := range strings.Split(pattern, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(alt)) {
			return true
		}
	}
	return false
}
