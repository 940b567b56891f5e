// Package prompt builds generation prompts from a user question, retrieved
// legal passages and prior conversation state. Everything here is pure: no
// I/O, identical inputs always yield an identical prompt string.
package prompt

import (
	"fmt"
	"strings"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
)

// PromptRelevanceBar is the inclusion bar for grounding a prompt. It is
// stricter than the retriever's threshold: retrieval may surface borderline
// matches that never make it into the prompt itself.
const PromptRelevanceBar = 0.7

const (
	summaryHeader   = "PREVIOUS CONVERSATION CONTEXT:"
	historyHeader   = "CONVERSATION HISTORY:"
	groundingHeader = "RELEVANT LEGAL CONTEXT:"
	questionHeader  = "QUESTION:"

	groundingPreamble = "You are a legal assistant for Kenyan law. Ground your answer in the " +
		"sources listed below and cite each source you rely on explicitly by name. " +
		"If the sources do not cover the question, say so before answering from general knowledge."
)

// Turn is one prior exchange line carried into the prompt.
type Turn struct {
	Role    models.Role
	Content string
}

// Compose merges the new question with retrieved passages, prior turns and an
// optional rolling summary. When no context of any kind applies, the prompt
// is the raw user message.
func Compose(userMessage string, results []models.RetrievalResult, priorTurns []Turn, priorContextSummary string) string {
	var sections []string

	if priorContextSummary != "" {
		sections = append(sections, summaryHeader+"\n"+priorContextSummary)
	}

	if len(priorTurns) > 0 {
		var b strings.Builder
		b.WriteString(historyHeader)
		for _, t := range priorTurns {
			b.WriteString("\n")
			switch t.Role {
			case models.RoleAssistant:
				b.WriteString("Assistant: ")
			default:
				b.WriteString("User: ")
			}
			b.WriteString(t.Content)
		}
		sections = append(sections, b.String())
	}

	if eligible := UsedSources(results); len(eligible) > 0 {
		rendered := make([]string, 0, len(eligible))
		for _, r := range eligible {
			rendered = append(rendered, renderSource(r))
		}
		sections = append(sections,
			groundingPreamble+"\n\n"+groundingHeader+"\n\n"+strings.Join(rendered, "\n\n"))
	}

	if len(sections) == 0 {
		return userMessage
	}
	sections = append(sections, questionHeader+"\n"+userMessage)
	return strings.Join(sections, "\n\n")
}

// UsedSources returns the retrieval results that clear the prompt inclusion
// bar, in their incoming order. The orchestrator records exactly this subset
// as the provenance of the turn.
func UsedSources(results []models.RetrievalResult) []models.RetrievalResult {
	var eligible []models.RetrievalResult
	for _, r := range results {
		if r.Relevance > PromptRelevanceBar {
			eligible = append(eligible, r)
		}
	}
	return eligible
}

func renderSource(r models.RetrievalResult) string {
	return fmt.Sprintf("%s (%s)\n%s\nAuthority: %s\nRelevance: %.2f",
		r.Source.Title, r.Source.SourceType, r.Excerpt, r.Source.Authority, r.Relevance)
}
