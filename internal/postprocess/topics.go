package postprocess

import "strings"

const maxTopics = 3

// topicMappings is the fixed keyword-to-topic table. Matching topics are
// returned in declaration order, at most maxTopics of them.
var topicMappings = []struct {
	Topic    string
	Keywords []string
}{
	{"Employment Rights", []string{"employment", "employee", "dismissal", "salary", "workplace"}},
	{"Contract Law", []string{"contract", "agreement", "breach", "clause"}},
	{"Land & Property", []string{"land", "property", "lease", "title deed"}},
	{"Family Law", []string{"divorce", "custody", "marriage", "maintenance"}},
	{"Business Registration", []string{"business", "company", "registration", "licence"}},
}

// RelatedTopics returns the topics whose keyword sets match the generated
// text.
func RelatedTopics(content string) []string {
	lower := strings.ToLower(content)
	var topics []string
	for _, m := range topicMappings {
		for _, kw := range m.Keywords {
			if strings.Contains(lower, kw) {
				topics = append(topics, m.Topic)
				break
			}
		}
		if len(topics) == maxTopics {
			break
		}
	}
	return topics
}
