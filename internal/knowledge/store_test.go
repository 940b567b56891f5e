package knowledge

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/gokkuu100/wakiliweb-sub003/internal/config"
	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
	"github.com/gokkuu100/wakiliweb-sub003/internal/retrieval"
	"github.com/gokkuu100/wakiliweb-sub003/internal/storage"
)

// stubEmbedder maps known texts to fixed unit vectors so cosine distances in
// the index are exact.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) vector(text string) []float32 {
	if v, ok := s.vectors[text]; ok {
		return v
	}
	v := make([]float32, s.Dimensions())
	v[0] = 1
	return v
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.vector(text), nil
}

func (s *stubEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return s.vector(text), nil
}

func (s *stubEmbedder) Dimensions() int { return 4 }

func axis(i int) []float32 {
	v := make([]float32, 4)
	v[i] = 1
	return v
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *stubEmbedder, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	store, err := NewStore(db, embedder, nil)
	if err != nil {
		db.Close()
		t.Fatalf("new store: %v", err)
	}
	return store, embedder, db
}

func TestAddSourceAndSearch(t *testing.T) {
	store, embedder, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()

	embedder.vectors["employment act text"] = axis(0)
	embedder.vectors["land act text"] = axis(1)
	embedder.vectors["dismissal notice query"] = axis(0)

	if _, err := store.AddSource(ctx, models.KnowledgeSource{
		Title:      "Employment Act",
		SourceType: "act",
		Authority:  "Parliament of Kenya",
		LegalArea:  "employment_law",
		Content:    "employment act text",
	}); err != nil {
		t.Fatalf("add employment source: %v", err)
	}
	if _, err := store.AddSource(ctx, models.KnowledgeSource{
		Title:      "Land Act",
		SourceType: "act",
		LegalArea:  "land_law",
		Content:    "land act text",
	}); err != nil {
		t.Fatalf("add land source: %v", err)
	}

	results, err := store.Search(ctx, retrieval.Query{Text: "dismissal notice query", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	if results[0].Source.Title != "Employment Act" {
		t.Fatalf("nearest source first, got %q", results[0].Source.Title)
	}
	if results[0].Relevance <= results[1].Relevance {
		t.Fatalf("relevance not descending: %v vs %v", results[0].Relevance, results[1].Relevance)
	}
	// Identical vectors score a full match; orthogonal ones score 0.5.
	if results[0].Relevance < 0.99 {
		t.Fatalf("exact match relevance = %v", results[0].Relevance)
	}
	if results[1].Relevance < 0.49 || results[1].Relevance > 0.51 {
		t.Fatalf("orthogonal relevance = %v, want ~0.5", results[1].Relevance)
	}
}

func TestSearchLegalAreaFilter(t *testing.T) {
	store, embedder, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()

	embedder.vectors["employment act text"] = axis(0)
	embedder.vectors["land act text"] = axis(0) // same embedding, filter decides
	embedder.vectors["query"] = axis(0)

	for _, src := range []models.KnowledgeSource{
		{Title: "Employment Act", SourceType: "act", LegalArea: "employment_law", Content: "employment act text"},
		{Title: "Land Act", SourceType: "act", LegalArea: "land_law", Content: "land act text"},
	} {
		if _, err := store.AddSource(ctx, src); err != nil {
			t.Fatalf("add source: %v", err)
		}
	}

	results, err := store.Search(ctx, retrieval.Query{
		Text:       "query",
		LegalAreas: []string{"employment_law"},
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Source.Title != "Employment Act" {
		t.Fatalf("legal area filter failed: %+v", results)
	}
}

func TestAddSourceRejectsEmptyContent(t *testing.T) {
	store, _, db := newTestStore(t)
	defer db.Close()

	if _, err := store.AddSource(context.Background(), models.KnowledgeSource{Title: "Empty"}); err == nil {
		t.Fatalf("expected error for empty content")
	}
}

func TestSearchExcerptTrimsLongContent(t *testing.T) {
	store, embedder, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 20)
	embedder.vectors[long] = axis(2)
	embedder.vectors["q"] = axis(2)

	if _, err := store.AddSource(ctx, models.KnowledgeSource{
		Title: "Long Source", SourceType: "act", Content: long,
	}); err != nil {
		t.Fatalf("add source: %v", err)
	}
	results, err := store.Search(ctx, retrieval.Query{Text: "q", Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 hit")
	}
	if len(results[0].Excerpt) > 404 {
		t.Fatalf("excerpt too long: %d", len(results[0].Excerpt))
	}
	if !strings.HasSuffix(results[0].Excerpt, "...") {
		t.Fatalf("trimmed excerpt must end with ellipsis: %q", results[0].Excerpt)
	}
}
