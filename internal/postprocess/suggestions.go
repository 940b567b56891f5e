package postprocess

import "strings"

const maxSuggestions = 4

// suggestionTemplates pair trigger keywords with static follow-up questions.
// Declaration order is priority order: earlier entries win the limited slots.
var suggestionTemplates = []struct {
	Triggers    []string
	Suggestions []string
}{
	{
		Triggers: []string{"contract", "agreement"},
		Suggestions: []string{
			"Would you like help drafting a contract for this?",
			"What clauses should I pay attention to in this kind of agreement?",
		},
	},
	{
		Triggers: []string{"dispute", "court", "sue", "claim"},
		Suggestions: []string{
			"What dispute resolution options are available before going to court?",
			"How long do I have to file this kind of claim?",
		},
	},
	{
		Triggers: []string{"employment", "dismissal", "employee"},
		Suggestions: []string{
			"What are my rights as an employee in this situation?",
			"What should my employer have done differently here?",
		},
	},
}

// hintSuggestions are triggered by the conversation's domain hint rather than
// the generated text.
var hintSuggestions = map[string][]string{
	"real_estate": {
		"What documents do I need to verify before a property transaction?",
		"How do I confirm a title deed is genuine?",
	},
	"property_law": {
		"What documents do I need to verify before a property transaction?",
		"How do I confirm a title deed is genuine?",
	},
}

// genericSuggestions are always appended after any domain-triggered ones.
var genericSuggestions = []string{
	"Can you explain this in simpler terms?",
	"What documents would I need for this?",
	"Should I consult a lawyer about this?",
}

// FollowUpSuggestions produces at most maxSuggestions follow-up questions in
// a fixed priority order: domain-triggered first, generics last. Output is
// reproducible for identical input.
func FollowUpSuggestions(content, domainHint string) []string {
	lower := strings.ToLower(content)
	suggestions := make([]string, 0, maxSuggestions)
	seen := make(map[string]bool)

	add := func(items []string) {
		for _, s := range items {
			if seen[s] {
				continue
			}
			seen[s] = true
			suggestions = append(suggestions, s)
		}
	}

	for _, tmpl := range suggestionTemplates {
		for _, trigger := range tmpl.Triggers {
			if strings.Contains(lower, trigger) {
				add(tmpl.Suggestions)
				break
			}
		}
	}
	if hinted, ok := hintSuggestions[strings.ToLower(domainHint)]; ok {
		add(hinted)
	}
	add(genericSuggestions)

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}
