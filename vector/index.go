// Package vector provides the embedded similarity index used for long-term
// memory retrieval.
package vector

import "context"

// Embedder maps text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is one indexed summary.
type Document struct {
	ID        string
	OwnerID   string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// Hit is one search result. Distance is a cosine distance in [0, 2]; smaller
// is more similar.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Index stores summary embeddings and answers nearest-neighbor queries
// scoped to a single owner.
type Index interface {
	Add(ctx context.Context, docs []Document) error
	Search(ctx context.Context, ownerID, query string, n int) ([]Hit, error)
	Get(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, ids ...string) error
	DeleteOwner(ctx context.Context, ownerID string) error
}
