package classify

import (
	"context"
	"strings"
	"testing"

	"github.com/zen-systems/triagegate/pkg/adapter"
)

func TestLLMClassifierParsesResult(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		wantCategory   string
		wantConfidence float64
		wantErr        bool
	}{
		{
			name:           "plain json",
			response:       `{"category":"billing","confidence":0.92,"reasoning":"mentions invoice"}`,
			wantCategory:   "billing",
			wantConfidence: 0.92,
		},
		{
			name:           "fenced json",
			response:       "```json\n{\"category\":\"refund\",\"confidence\":0.8,\"reasoning\":\"wants money back\"}\n```",
			wantCategory:   "refund",
			wantConfidence: 0.8,
		},
		{
			name:     "not json",
			response: "I think this is about billing",
			wantErr:  true,
		},
		{
			name:     "missing category",
			response: `{"confidence":0.9,"reasoning":"x"}`,
			wantErr:  true,
		},
		{
			name:     "unknown category",
			response: `{"category":"gardening","confidence":0.9,"reasoning":"x"}`,
			wantErr:  true,
		},
		{
			name:     "confidence out of range",
			response: `{"category":"billing","confidence":1.5,"reasoning":"x"}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The mock echoes the prompt for unknown inputs, so the
			// response must be registered under the exact prompt the
			// classifier builds.
			input := Input{Text: "my invoice is wrong"}
			seed, err := NewLLMClassifier(adapter.NewMockAdapter(), "mock-1", nil)
			if err != nil {
				t.Fatalf("new classifier: %v", err)
			}
			mock := adapter.NewMockAdapterWithResponses(
				map[string]string{seed.buildPrompt(input): tt.response}, "")

			c, err := NewLLMClassifier(mock, "mock-1", nil)
			if err != nil {
				t.Fatalf("new classifier: %v", err)
			}

			result, err := c.Classify(context.Background(), input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if result.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", result.Category, tt.wantCategory)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestLLMClassifierPromptIncludesContext(t *testing.T) {
	mock := adapter.NewMockAdapterWithResponses(nil, `{"category":"other","confidence":0.5,"reasoning":"x"}`)
	c, err := NewLLMClassifier(mock, "mock-1", nil)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	prompt := c.buildPrompt(Input{
		Text:           "still broken",
		RecentMessages: []string{"I reset my password", "It did not help"},
	})

	for _, want := range []string{"still broken", "I reset my password", "It did not help"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLMClassifierPropagatesAdapterError(t *testing.T) {
	mock := adapter.NewMockAdapter()
	mock.Err = context.DeadlineExceeded
	c, err := NewLLMClassifier(mock, "mock-1", nil)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	if _, err := c.Classify(context.Background(), Input{Text: "hello"}); err == nil {
		t.Fatal("expected adapter error to propagate")
	}
}
