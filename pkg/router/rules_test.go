package router

import (
	"testing"
)

func TestRuleSetMatchTypes(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		text    string
		sender  string
		matched bool
	}{
		{
			name:    "regex match",
			rule:    Rule{ID: "r", Type: RuleTypeRegex, Pattern: `refund(ed)?\b`, Action: ActionEscalate},
			text:    "I was never REFUNDED for this",
			matched: true,
		},
		{
			name:    "regex no match",
			rule:    Rule{ID: "r", Type: RuleTypeRegex, Pattern: `refund`, Action: ActionEscalate},
			text:    "где мой заказ",
			matched: false,
		},
		{
			name:    "invalid regex never matches",
			rule:    Rule{ID: "r", Type: RuleTypeRegex, Pattern: `refund(`, Action: ActionEscalate},
			text:    "refund(",
			matched: false,
		},
		{
			name:    "keyword single",
			rule:    Rule{ID: "r", Type: RuleTypeKeyword, Pattern: "invoice", Action: ActionAutoRespond},
			text:    "My INVOICE is wrong",
			matched: true,
		},
		{
			name:    "keyword or alternatives",
			rule:    Rule{ID: "r", Type: RuleTypeKeyword, Pattern: "invoice|receipt|bill", Action: ActionAutoRespond},
			text:    "please resend the bill",
			matched: true,
		},
		{
			name:    "sender domain exact",
			rule:    Rule{ID: "r", Type: RuleTypeSenderDomain, Pattern: "acme.io", Action: ActionEscalate},
			sender:  "user@acme.io",
			matched: true,
		},
		{
			name:    "sender domain exact does not match subdomain",
			rule:    Rule{ID: "r", Type: RuleTypeSenderDomain, Pattern: "acme.io", Action: ActionEscalate},
			sender:  "user@mail.acme.io",
			matched: false,
		},
		{
			name:    "sender domain wildcard matches subdomain",
			rule:    Rule{ID: "r", Type: RuleTypeSenderDomain, Pattern: "*.acme.io", Action: ActionEscalate},
			sender:  "user@mail.acme.io",
			matched: true,
		},
		{
			name:    "sender domain wildcard does not match bare domain",
			rule:    Rule{ID: "r", Type: RuleTypeSenderDomain, Pattern: "*.acme.io", Action: ActionEscalate},
			sender:  "user@acme.io",
			matched: false,
		},
		{
			name:    "malformed sender never matches",
			rule:    Rule{ID: "r", Type: RuleTypeSenderDomain, Pattern: "acme.io", Action: ActionEscalate},
			sender:  "not-an-address",
			matched: false,
		},
		{
			name:    "sender pattern wildcard",
			rule:    Rule{ID: "r", Type: RuleTypeSenderPattern, Pattern: "vip-*@acme.io", Action: ActionEscalate},
			sender:  "VIP-alice@acme.io",
			matched: true,
		},
		{
			name:    "sender pattern is anchored",
			rule:    Rule{ID: "r", Type: RuleTypeSenderPattern, Pattern: "vip-*@acme.io", Action: ActionEscalate},
			sender:  "not-vip-alice@acme.io.evil.com",
			matched: false,
		},
		{
			name:    "sender pattern metacharacters match literally",
			rule:    Rule{ID: "r", Type: RuleTypeSenderPattern, Pattern: "vip-[@acme.io", Action: ActionEscalate},
			sender:  "vip-[@acme.io",
			matched: true,
		},
		{
			name:    "sender pattern metacharacters do not widen the match",
			rule:    Rule{ID: "r", Type: RuleTypeSenderPattern, Pattern: "vip-[@acme.io", Action: ActionEscalate},
			sender:  "vip-x@acme.io",
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := NewRuleSet(nil, []Rule{tt.rule})
			_, ok := rs.Match(tt.text, tt.sender)
			if ok != tt.matched {
				t.Fatalf("matched = %v, want %v", ok, tt.matched)
			}
		})
	}
}

func TestRuleSetPriorityOrdering(t *testing.T) {
	// Declaration order deliberately reversed from priority order.
	rules := []Rule{
		{ID: "low", Priority: 10, Type: RuleTypeKeyword, Pattern: "refund", Action: ActionAutoRespond},
		{ID: "high", Priority: 1, Type: RuleTypeKeyword, Pattern: "refund", Action: ActionEscalate},
	}
	rs := NewRuleSet(nil, rules)

	match, ok := rs.Match("I want a refund", "user@example.com")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.RuleID != "high" {
		t.Fatalf("rule id = %q, want priority-1 rule", match.RuleID)
	}
}

func TestRuleSetStableTieBreak(t *testing.T) {
	rules := []Rule{
		{ID: "first", Priority: 5, Type: RuleTypeKeyword, Pattern: "refund", Action: ActionAutoRespond},
		{ID: "second", Priority: 5, Type: RuleTypeKeyword, Pattern: "refund", Action: ActionEscalate},
	}
	rs := NewRuleSet(nil, rules)

	match, _ := rs.Match("refund please", "")
	if match.RuleID != "first" {
		t.Fatalf("equal priorities must keep declaration order, got %q", match.RuleID)
	}
}

func TestSystemRulesRunFirst(t *testing.T) {
	system := DefaultSystemRules()
	// An application rule that would otherwise match the same message.
	rules := []Rule{
		{ID: "app-any", Priority: 0, Type: RuleTypeKeyword, Pattern: "delivery", Action: ActionAutoRespond},
	}
	rs := NewRuleSet(system, rules)

	match, ok := rs.Match("delivery status notification", "mailer-daemon@mail.example.com")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.RuleID != "sys-mailer-daemon" {
		t.Fatalf("system tier must run before app rules, got %q", match.RuleID)
	}
	if match.Action != ActionNoRespond {
		t.Fatalf("action = %q, want no_respond", match.Action)
	}
}

func TestRuleSetNoMatch(t *testing.T) {
	rs := NewRuleSet(nil, []Rule{
		{ID: "r", Type: RuleTypeKeyword, Pattern: "refund", Action: ActionAutoRespond},
	})
	if _, ok := rs.Match("hello there", "user@example.com"); ok {
		t.Fatal("expected no match")
	}
}
