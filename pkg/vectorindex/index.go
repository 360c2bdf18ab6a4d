// Package vectorindex provides the nearest-neighbor index behind the canned
// response similarity matcher.
package vectorindex

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmptyQuery indicates an empty query string.
	ErrEmptyQuery = errors.New("empty query")
)

// Document is an indexed text with metadata.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is a nearest-neighbor hit with its similarity score in [0,1].
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}

// Index stores documents and answers single-nearest-neighbor queries.
type Index interface {
	// Add indexes the documents, embedding their content.
	Add(ctx context.Context, docs []Document) error

	// Nearest returns the single closest document whose metadata matches
	// every pair in where, or nil if the index holds no matching documents.
	Nearest(ctx context.Context, query string, where map[string]string) (*Result, error)
}

// Embedder generates a vector embedding for a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
