package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
)

// Query describes one similarity search against the legal knowledge store.
type Query struct {
	Text         string
	UserID       string
	LegalAreas   []string
	Jurisdiction string
	Limit        int
}

// Searcher is the external knowledge store. It returns candidate passages
// with raw relevance scores; the retriever owns filtering and ordering.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]models.RetrievalResult, error)
}

// Params widens Query with the caller's filtering requirements. Zero values
// fall back to the retriever's configured defaults.
type Params struct {
	Text               string
	UserID             string
	LegalAreas         []string
	Jurisdiction       string
	RelevanceThreshold float64
	MaxResults         int
}

// Retriever issues similarity queries and enforces the relevance contract:
// results at or below the threshold are excluded entirely, the rest are
// sorted by descending relevance and bounded to MaxResults.
type Retriever struct {
	searcher     Searcher
	threshold    float64
	maxHits      int
	timeout      time.Duration
	jurisdiction string
	logger       *zap.Logger
}

func New(searcher Searcher, threshold float64, maxResults int, timeout time.Duration, jurisdiction string, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retriever{
		searcher:     searcher,
		threshold:    threshold,
		maxHits:      maxResults,
		timeout:      timeout,
		jurisdiction: jurisdiction,
		logger:       logger,
	}
}

// Search runs one bounded retrieval. Deterministic for a fixed index
// snapshot; errors (including timeouts) surface to the caller, who decides
// whether grounding is mandatory for the request.
func (r *Retriever) Search(ctx context.Context, p Params) ([]models.RetrievalResult, error) {
	threshold := p.RelevanceThreshold
	if threshold <= 0 {
		threshold = r.threshold
	}
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = r.maxHits
	}
	jurisdiction := p.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = r.jurisdiction
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Over-fetch so threshold filtering does not starve the result list.
	candidates, err := r.searcher.Search(ctx, Query{
		Text:         p.Text,
		UserID:       p.UserID,
		LegalAreas:   p.LegalAreas,
		Jurisdiction: jurisdiction,
		Limit:        maxResults * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Relevance > threshold {
			results = append(results, c)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	r.logger.Debug("retrieval completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Float64("threshold", threshold))
	return results, nil
}
