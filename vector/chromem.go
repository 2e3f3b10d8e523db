package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
)

const collectionName = "memories"

// ChromemIndex is an Index backed by chromem-go, a pure Go embedded vector
// database persisted on local disk. The database is opened lazily on first
// use so daemon startup never blocks on index loading.
type ChromemIndex struct {
	path     string
	embedder Embedder
	logger   zerolog.Logger

	mu  sync.RWMutex
	col *chromem.Collection
}

// NewChromemIndex creates an index persisted under path. An empty path keeps
// the index in memory only, which the tests use.
func NewChromemIndex(path string, embedder Embedder, logger zerolog.Logger) *ChromemIndex {
	return &ChromemIndex{
		path:     path,
		embedder: embedder,
		logger:   logger.With().Str("component", "vector_index").Logger(),
	}
}

func (x *ChromemIndex) collection() (*chromem.Collection, error) {
	x.mu.RLock()
	col := x.col
	x.mu.RUnlock()
	if col != nil {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.col != nil {
		return x.col, nil
	}

	var (
		db  *chromem.DB
		err error
	)
	if x.path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(x.path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	col, err = db.GetOrCreateCollection(collectionName, nil, x.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	x.col = col
	x.logger.Info().Str("path", x.path).Int("documents", col.Count()).Msg("Vector index ready")
	return col, nil
}

func (x *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return x.embedder.Embed(ctx, text)
	}
}

// Add indexes documents. Documents without a precomputed embedding are
// embedded here.
func (x *ChromemIndex) Add(ctx context.Context, docs []Document) error {
	col, err := x.collection()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		meta := make(map[string]string, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["owner_id"] = doc.OwnerID

		if err := col.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Text,
			Embedding: doc.Embedding,
			Metadata:  meta,
		}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	x.logger.Debug().Int("count", len(docs)).Msg("Documents indexed")
	return nil
}

// Search embeds the query and returns up to n nearest documents belonging to
// ownerID. Distance is 1 - cosine similarity.
func (x *ChromemIndex) Search(ctx context.Context, ownerID, query string, n int) ([]Hit, error) {
	col, err := x.collection()
	if err != nil {
		return nil, err
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil, nil
	}

	emb, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, emb, n, map[string]string{"owner_id": ownerID}, nil)
	if err != nil {
		if strings.Contains(err.Error(), "nResults") {
			return nil, nil
		}
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			ID:       res.ID,
			Text:     res.Content,
			Metadata: res.Metadata,
			Distance: 1 - float64(res.Similarity),
		})
	}
	return hits, nil
}

// Get fetches one indexed document by id, including its stored embedding.
func (x *ChromemIndex) Get(ctx context.Context, id string) (*Document, error) {
	col, err := x.collection()
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &Document{
		ID:        doc.ID,
		OwnerID:   doc.Metadata["owner_id"],
		Text:      doc.Content,
		Metadata:  doc.Metadata,
		Embedding: doc.Embedding,
	}, nil
}

// Delete removes documents by id. Unknown ids are ignored.
func (x *ChromemIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := x.collection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// DeleteOwner removes every document belonging to ownerID.
func (x *ChromemIndex) DeleteOwner(ctx context.Context, ownerID string) error {
	col, err := x.collection()
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"owner_id": ownerID}, nil); err != nil {
		return fmt.Errorf("delete owner documents: %w", err)
	}
	return nil
}
