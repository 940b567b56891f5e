package models

// KnowledgeSource is a retrievable passage from the legal knowledge base.
// Read-only to this service; the knowledge store owns these records.
type KnowledgeSource struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	SourceType   string `json:"source_type"` // statute, case, regulation, ...
	Authority    string `json:"authority"`
	LegalArea    string `json:"legal_area,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	DocumentURL  string `json:"document_url,omitempty"`
	Content      string `json:"content"`
}

// RetrievalResult pairs a knowledge source with the relevance it scored for a
// query and the matched excerpt. Produced fresh per query, never persisted.
type RetrievalResult struct {
	Source    KnowledgeSource `json:"source"`
	Relevance float64         `json:"relevance"`
	Excerpt   string          `json:"excerpt"`
}
