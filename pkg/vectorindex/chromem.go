package vectorindex

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex implements Index on top of chromem-go, an embeddable vector
// database. Persistence is optional; tests run fully in memory.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// ChromemConfig holds configuration for the embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Collection is the collection name. Default: "triagegate_responses".
	Collection string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "triagegate_responses"
	}
}

// NewChromemIndex creates an index backed by chromem-go.
func NewChromemIndex(cfg ChromemConfig, embedder Embedder) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	cfg.ApplyDefaults()

	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", cfg.Collection, err)
	}

	return &ChromemIndex{db: db, collection: collection}, nil
}

// Add indexes the documents.
func (i *ChromemIndex) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	converted := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document ID is required")
		}
		converted = append(converted, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}

	if err := i.collection.AddDocuments(ctx, converted, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Nearest returns the single closest matching document, or nil when the
// collection holds no documents matching the filter.
func (i *ChromemIndex) Nearest(ctx context.Context, query string, where map[string]string) (*Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if i.collection.Count() == 0 {
		return nil, nil
	}

	results, err := i.collection.Query(ctx, query, 1, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	hit := results[0]
	return &Result{
		ID:         hit.ID,
		Content:    hit.Content,
		Metadata:   hit.Metadata,
		Similarity: hit.Similarity,
	}, nil
}
