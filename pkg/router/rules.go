package router

import (
	"regexp"
	"sort"
	"strings"

	"github.com/zen-systems/triagegate/pkg/canned"
)

// RuleType selects the match semantics of a rule.
type RuleType string

const (
	RuleTypeRegex         RuleType = "regex"
	RuleTypeKeyword       RuleType = "keyword"
	RuleTypeSenderDomain  RuleType = "sender_domain"
	RuleTypeSenderPattern RuleType = "sender_pattern"
)

// RuleAction is what a matched rule asks the pipeline to do.
type RuleAction string

const (
	ActionAutoRespond   RuleAction = "auto_respond"
	ActionNoRespond     RuleAction = "no_respond"
	ActionEscalate      RuleAction = "escalate"
	ActionRouteToCanned RuleAction = "route_to_canned"
)

// Rule is a static routing rule, loaded from configuration and never mutated
// at runtime. Lower priority runs first; ties keep declaration order.
type Rule struct {
	ID               string     `yaml:"id" json:"id"`
	Priority         int        `yaml:"priority" json:"priority"`
	Type             RuleType   `yaml:"type" json:"type"`
	Pattern          string     `yaml:"pattern" json:"pattern"`
	Action           RuleAction `yaml:"action" json:"action"`
	Response         string     `yaml:"response,omitempty" json:"response,omitempty"`
	CannedResponseID string     `yaml:"canned_response_id,omitempty" json:"canned_response_id,omitempty"`
}

// RuleMatch is the outcome of a rule evaluation.
type RuleMatch struct {
	RuleID           string
	Action           RuleAction
	Response         string
	CannedResponseID string
}

// RuleSet contains the compiled rules. A reserved system tier (bounce and
// auto-reply suppression) always runs before application rules, regardless
// of their priorities.
type RuleSet struct {
	system []compiledRule
	rules  []compiledRule
}

type compiledRule struct {
	rule Rule
	// re is the compiled pattern for regex and sender_pattern rules.
	// nil means a regex pattern was invalid and the rule never matches.
	re *regexp.Regexp
}

// NewRuleSet compiles system and application rules. Application rules are
// stable-sorted ascending by priority.
func NewRuleSet(system, rules []Rule) *RuleSet {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	rs := &RuleSet{}
	for _, r := range system {
		rs.system = append(rs.system, compile(r))
	}
	for _, r := range ordered {
		rs.rules = append(rs.rules, compile(r))
	}
	return rs
}

// DefaultSystemRules returns the always-first suppression tier for
// non-human senders.
func DefaultSystemRules() []Rule {
	return []Rule{
		{ID: "sys-mailer-daemon", Type: RuleTypeSenderPattern, Pattern: "mailer-daemon@*", Action: ActionNoRespond},
		{ID: "sys-postmaster", Type: RuleTypeSenderPattern, Pattern: "postmaster@*", Action: ActionNoRespond},
		{ID: "sys-noreply", Type: RuleTypeSenderPattern, Pattern: "*no-reply*", Action: ActionNoRespond},
		{ID: "sys-noreply-compact", Type: RuleTypeSenderPattern, Pattern: "*noreply*", Action: ActionNoRespond},
		{ID: "sys-notifications", Type: RuleTypeSenderPattern, Pattern: "notifications@*", Action: ActionNoRespond},
		{ID: "sys-auto-reply", Type: RuleTypeKeyword, Pattern: "out of office|automatic reply|auto-reply|autoreply", Action: ActionNoRespond},
	}
}

// Match evaluates rules in order and returns the first match.
func (rs *RuleSet) Match(text, sender string) (*RuleMatch, bool) {
	for _, tier := range [][]compiledRule{rs.system, rs.rules} {
		for _, c := range tier {
			if c.matches(text, sender) {
				return &RuleMatch{
					RuleID:           c.rule.ID,
					Action:           c.rule.Action,
					Response:         c.rule.Response,
					CannedResponseID: c.rule.CannedResponseID,
				}, true
			}
		}
	}
	return nil, false
}

// Len returns the number of application rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

func compile(r Rule) compiledRule {
	c := compiledRule{rule: r}
	switch r.Type {
	case RuleTypeRegex:
		// An invalid pattern degrades to "never matches" rather than
		// blocking the pipeline.
		if re, err := regexp.Compile("(?i)" + r.Pattern); err == nil {
			c.re = re
		}
	case RuleTypeSenderPattern:
		c.re = compileWildcard(r.Pattern)
	}
	return c
}

// compileWildcard turns a `*`-wildcard pattern into an anchored,
// case-insensitive regexp. Non-wildcard segments are quoted, so any
// pattern compiles and regexp metacharacters match themselves.
func compileWildcard(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
}

func (c compiledRule) matches(text, sender string) bool {
	switch c.rule.Type {
	case RuleTypeRegex:
		return c.re != nil && c.re.MatchString(text)
	case RuleTypeKeyword:
		return canned.MatchKeyword(text, c.rule.Pattern)
	case RuleTypeSenderDomain:
		return matchSenderDomain(sender, c.rule.Pattern)
	case RuleTypeSenderPattern:
		return c.re != nil && c.re.MatchString(sender)
	default:
		return false
	}
}

// matchSenderDomain matches the sender's email domain exactly, or by
// `*.domain` suffix. A malformed sender without `@` never matches.
func matchSenderDomain(sender, pattern string) bool {
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return false
	}
	domain := strings.ToLower(sender[at+1:])
	pattern = strings.ToLower(pattern)

	if suffix, ok := strings.CutPrefix(pattern, "*"); ok {
		// `*.acme.io` matches `mail.acme.io` but not `acme.io` itself.
		return strings.HasSuffix(domain, suffix)
	}
	return domain == pattern
}
