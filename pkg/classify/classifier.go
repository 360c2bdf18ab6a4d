// Package classify wraps an LLM adapter as a semantic message classifier.
// The router treats it as an opaque collaborator: text plus recent
// conversation turns in, category/confidence/reasoning out.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/triagegate/pkg/adapter"
)

// Input is a classification request.
type Input struct {
	Text           string
	RecentMessages []string
}

// Result is a classification outcome.
type Result struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier determines the category of a support message.
type Classifier interface {
	Classify(ctx context.Context, input Input) (*Result, error)
}

// LLMClassifier classifies messages with a single LLM call.
type LLMClassifier struct {
	adapter    adapter.Adapter
	model      string
	categories []string
}

// NewLLMClassifier creates a classifier on top of an adapter.
func NewLLMClassifier(a adapter.Adapter, model string, categories []string) (*LLMClassifier, error) {
	if a == nil {
		return nil, fmt.Errorf("classifier adapter is required")
	}
	if model == "" {
		return nil, fmt.Errorf("classifier model is required")
	}
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	return &LLMClassifier{adapter: a, model: model, categories: categories}, nil
}

// DefaultCategories returns the built-in support categories.
func DefaultCategories() []string {
	return []string{
		"billing",
		"bug_report",
		"feature_request",
		"account_access",
		"refund",
		"how_to",
		"complaint",
		"other",
	}
}

// Classify sends the message to the model and parses the result.
// Errors propagate to the caller; retry policy is a caller concern.
func (c *LLMClassifier) Classify(ctx context.Context, input Input) (*Result, error) {
	resp, err := c.adapter.Generate(ctx, c.model, c.buildPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return nil, fmt.Errorf("classifier returned empty response")
	}

	result, err := parseResult(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("classifier response invalid: %w", err)
	}
	if !c.validCategory(result.Category) {
		return nil, fmt.Errorf("classifier category %q not recognized", result.Category)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("classifier confidence %v out of range", result.Confidence)
	}
	return result, nil
}

func (c *LLMClassifier) buildPrompt(input Input) string {
	var sb strings.Builder
	sb.WriteString("You are a support triage classifier. Pick the best category for the customer message.\n")
	sb.WriteString("Return ONLY JSON: {\"category\":\"...\",\"confidence\":0-1,\"reasoning\":\"...\"}.\n\n")
	sb.WriteString("Categories:\n")
	for _, category := range c.categories {
		sb.WriteString("- " + category + "\n")
	}
	if len(input.RecentMessages) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, msg := range input.RecentMessages {
			sb.WriteString("> " + msg + "\n")
		}
	}
	sb.WriteString("\nCustomer message:\n")
	sb.WriteString(input.Text)
	return sb.String()
}

func (c *LLMClassifier) validCategory(category string) bool {
	for _, candidate := range c.categories {
		if candidate == category {
			return true
		}
	}
	return false
}

func parseResult(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, err
	}
	if result.Category == "" {
		return nil, fmt.Errorf("missing category")
	}
	return &result, nil
}

// Static is a fixed-result Classifier for tests and local runs.
type Static struct {
	Result *Result
	Err    error
	Calls  int
}

// Classify returns the configured result or error.
func (s *Static) Classify(_ context.Context, _ Input) (*Result, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Result, nil
}
