package postprocess

import (
	"regexp"
	"strings"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
)

// patternCitationRelevance is assigned to citations found by text-pattern
// matching; grounding sources carry their own retrieval score instead.
const patternCitationRelevance = 0.9

// sourceCitationBar: retrieval sources above this score that grounded the
// prompt are cited in their own right.
const sourceCitationBar = 0.8

// The three citation pattern families: statutory/clause references, named
// courts, and named foundational instruments.
var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:section|article|clause)\s+\d+[A-Z]?(?:\s*\(\d*[a-z]?\))?`),
	regexp.MustCompile(`\b(?:Supreme Court(?: of Kenya)?|Court of Appeal|High Court(?: of Kenya)?|Employment and Labour Relations Court|Environment and Land Court|Magistrate'?s Court)\b`),
	regexp.MustCompile(`\b(?:Constitution of Kenya(?:, 2010)?|(?:[A-Z][a-z]+ )+Act(?:,? (?:No\. ?\d+ of )?\d{4})?)\b`),
}

// ExtractCitations scans generated text for legal references and folds in the
// high-relevance sources that grounded the prompt. Deduplicated by exact
// citation text, so the extraction is idempotent.
func ExtractCitations(content string, sourcesUsed []models.RetrievalResult) []models.Citation {
	seen := make(map[string]bool)
	citations := make([]models.Citation, 0)

	for _, pattern := range citationPatterns {
		for _, match := range pattern.FindAllString(content, -1) {
			text := strings.TrimSpace(match)
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true
			citations = append(citations, models.Citation{
				Text:      text,
				Relevance: patternCitationRelevance,
			})
		}
	}

	for _, r := range sourcesUsed {
		if r.Relevance <= sourceCitationBar {
			continue
		}
		text := strings.TrimSpace(r.Source.Title)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		citations = append(citations, models.Citation{
			Text:      text,
			Relevance: r.Relevance,
			Link:      r.Source.DocumentURL,
		})
	}

	return citations
}
