package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
)

type fakeSearcher struct {
	lastQuery Query
	results   []models.RetrievalResult
	err       error
}

func (f *fakeSearcher) Search(ctx context.Context, q Query) ([]models.RetrievalResult, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func hit(id string, relevance float64) models.RetrievalResult {
	return models.RetrievalResult{
		Source:    models.KnowledgeSource{ID: id, Title: id},
		Relevance: relevance,
	}
}

func TestSearchFiltersSortsAndTruncates(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievalResult{
		hit("low", 0.5),
		hit("mid", 0.7),
		hit("boundary", 0.65), // equal to threshold, excluded
		hit("top", 0.9),
		hit("high", 0.8),
	}}
	r := New(searcher, 0.65, 2, time.Second, "kenya", nil)

	got, err := r.Search(context.Background(), Params{Text: "notice period", UserID: "u1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Source.ID != "top" || got[1].Source.ID != "high" {
		t.Fatalf("results out of order: %v, %v", got[0].Source.ID, got[1].Source.ID)
	}
}

func TestSearchDefaultsApplied(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, 0.65, 3, time.Second, "kenya", nil)

	if _, err := r.Search(context.Background(), Params{Text: "q"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if searcher.lastQuery.Limit != 6 {
		t.Fatalf("expected over-fetch limit 6, got %d", searcher.lastQuery.Limit)
	}
	if searcher.lastQuery.Jurisdiction != "kenya" {
		t.Fatalf("default jurisdiction not applied, got %q", searcher.lastQuery.Jurisdiction)
	}
}

func TestSearchParamOverrides(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievalResult{
		hit("a", 0.72), hit("b", 0.68),
	}}
	r := New(searcher, 0.65, 5, time.Second, "kenya", nil)

	got, err := r.Search(context.Background(), Params{
		Text:               "q",
		RelevanceThreshold: 0.7,
		MaxResults:         1,
		Jurisdiction:       "uganda",
		LegalAreas:         []string{"employment_law"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Source.ID != "a" {
		t.Fatalf("override threshold/limit not honored: %v", got)
	}
	if searcher.lastQuery.Jurisdiction != "uganda" {
		t.Fatalf("jurisdiction override not passed, got %q", searcher.lastQuery.Jurisdiction)
	}
	if len(searcher.lastQuery.LegalAreas) != 1 {
		t.Fatalf("legal areas not passed: %v", searcher.lastQuery.LegalAreas)
	}
}

func TestSearchPropagatesErrors(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index offline")}
	r := New(searcher, 0.65, 5, time.Second, "kenya", nil)

	if _, err := r.Search(context.Background(), Params{Text: "q"}); err == nil {
		t.Fatalf("expected error from searcher")
	}
}
