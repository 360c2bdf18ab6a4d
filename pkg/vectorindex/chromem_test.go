package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder maps known words onto fixed axes so similarity is
// deterministic without a real embedding model.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	axes := map[string]int{"refund": 0, "password": 1, "invoice": 2}
	vec := make([]float32, 4)
	vec[3] = 0.01 // keep vectors non-zero
	for word, axis := range axes {
		if containsWord(text, word) {
			vec[axis] = 1
		}
	}
	return vec, nil
}

func containsWord(text, word string) bool {
	for i := 0; i+len(word) <= len(text); i++ {
		if text[i:i+len(word)] == word {
			return true
		}
	}
	return false
}

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	index, err := NewChromemIndex(ChromemConfig{}, stubEmbedder{})
	require.NoError(t, err)
	return index
}

func TestNearestEmptyIndex(t *testing.T) {
	index := newTestIndex(t)

	result, err := index.Nearest(context.Background(), "refund please", nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestNearestFindsClosest(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Add(ctx, []Document{
		{ID: "r-1", Content: "refund policy template", Metadata: map[string]string{"type": "response", "app_id": "acme"}},
		{ID: "r-2", Content: "password reset template", Metadata: map[string]string{"type": "response", "app_id": "acme"}},
	}))

	result, err := index.Nearest(ctx, "I want a refund", map[string]string{"type": "response", "app_id": "acme"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "r-1", result.ID)
	assert.Greater(t, result.Similarity, float32(0.5))
}

func TestNearestRespectsMetadataFilter(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Add(ctx, []Document{
		{ID: "r-1", Content: "refund policy template", Metadata: map[string]string{"type": "response", "app_id": "acme"}},
	}))

	result, err := index.Nearest(ctx, "I want a refund", map[string]string{"type": "response", "app_id": "other"})
	require.NoError(t, err)
	assert.Nil(t, result, "filter for another app must not return acme documents")
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	assert.ErrorIs(t, index.Add(ctx, nil), ErrEmptyDocuments)
	assert.Error(t, index.Add(ctx, []Document{{Content: "no id"}}))
}

func TestNearestEmptyQuery(t *testing.T) {
	index := newTestIndex(t)

	_, err := index.Nearest(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
