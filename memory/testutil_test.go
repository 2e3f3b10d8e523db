package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/migrations"
	"github.com/aschepis/engramd/vector"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore creates an in-memory database with migrations applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewStore(db, zerolog.Nop())
}

// fakeIndex is an in-memory vector.Index with scripted distances, so ranking
// tests control the vector axis exactly.
type fakeIndex struct {
	mu        sync.Mutex
	docs      map[string]vector.Document
	distances map[string]float64
	addErr    error
	deleteErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		docs:      make(map[string]vector.Document),
		distances: make(map[string]float64),
	}
}

func (f *fakeIndex) setDistance(id string, d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distances[id] = d
}

func (f *fakeIndex) Add(ctx context.Context, docs []vector.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, ownerID, query string, n int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []vector.Hit
	for id, doc := range f.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		hits = append(hits, vector.Hit{
			ID:       id,
			Text:     doc.Text,
			Metadata: doc.Metadata,
			Distance: f.distances[id],
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func (f *fakeIndex) Get(ctx context.Context, id string) (*vector.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return &doc, nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, id := range ids {
		delete(f.docs, id)
		delete(f.distances, id)
	}
	return nil
}

func (f *fakeIndex) DeleteOwner(ctx context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, doc := range f.docs {
		if doc.OwnerID == ownerID {
			delete(f.docs, id)
			delete(f.distances, id)
		}
	}
	return nil
}

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

// stubClient is a scripted llm.Client counting its invocations.
type stubClient struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	onCall   func(n int)
}

func (c *stubClient) Complete(ctx context.Context, req *llm.Request) (string, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	onCall := c.onCall
	c.mu.Unlock()
	if onCall != nil {
		onCall(n)
	}
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func mustSaveRaw(t *testing.T, store *Store, msg *RawMessage) *RawMessage {
	t.Helper()
	if err := store.SaveRawMessage(context.Background(), msg); err != nil {
		t.Fatalf("save raw message: %v", err)
	}
	return msg
}

func mustCreateSummary(t *testing.T, store *Store, sum *Summary) *Summary {
	t.Helper()
	if err := store.CreateSummary(context.Background(), sum); err != nil {
		t.Fatalf("create summary: %v", err)
	}
	return sum
}

func ts(day int, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.Local)
}
