// Package postprocess extracts citations, legal context, follow-up
// suggestions and related topics from generated answers. Every function here
// is a pure, table-driven function of (content, sources used, domain hint).
package postprocess

import "github.com/gokkuu100/wakiliweb-sub003/internal/models"

// Analysis bundles everything the post-processor derives from one answer.
type Analysis struct {
	Citations     []models.Citation
	LegalAreas    []string
	Complexity    string
	NeedsLawyer   bool
	FollowUps     []string
	RelatedTopics []string
}

// Analyze runs all four extractions over the generated content.
func Analyze(content string, sourcesUsed []models.RetrievalResult, domainHint string) Analysis {
	legal := ExtractLegalContext(content)
	return Analysis{
		Citations:     ExtractCitations(content, sourcesUsed),
		LegalAreas:    legal.LegalAreas,
		Complexity:    legal.Complexity,
		NeedsLawyer:   legal.NeedsLawyer,
		FollowUps:     FollowUpSuggestions(content, domainHint),
		RelatedTopics: RelatedTopics(content),
	}
}
