package canned

import (
	"context"
	"fmt"

	"github.com/zen-systems/triagegate/pkg/vectorindex"
)

// DefaultSimilarityThreshold is the minimum similarity score for a match.
const DefaultSimilarityThreshold = 0.92

// SimilarityMatcher finds the nearest canned response in a vector index,
// filtered by application, and declares a match only above a threshold.
type SimilarityMatcher struct {
	index     vectorindex.Index
	appID     string
	threshold float64
}

// NewSimilarityMatcher creates a matcher for one application's responses.
// A non-positive threshold falls back to DefaultSimilarityThreshold.
func NewSimilarityMatcher(index vectorindex.Index, appID string, threshold float64) (*SimilarityMatcher, error) {
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &SimilarityMatcher{index: index, appID: appID, threshold: threshold}, nil
}

// Match queries the single nearest response document. A neighbor below the
// threshold, or one without retrievable content, is treated as no match.
func (m *SimilarityMatcher) Match(ctx context.Context, text string) (*Match, error) {
	where := map[string]string{"type": "response"}
	if m.appID != "" {
		where["app_id"] = m.appID
	}

	result, err := m.index.Nearest(ctx, text, where)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup: %w", err)
	}
	if result == nil {
		return &Match{Matched: false}, nil
	}

	similarity := float64(result.Similarity)
	if similarity < m.threshold || result.Content == "" {
		return &Match{Matched: false, Similarity: similarity}, nil
	}

	return &Match{
		Matched:    true,
		Response:   result.Content,
		TemplateID: result.ID,
		Similarity: similarity,
	}, nil
}
