package model

// Signal is one raw (text, method) pair produced by the extractor for a page.
// Signals are ephemeral: they exist for the duration of one extraction attempt
// and are never persisted standalone.
type Signal struct {
	Text       string         `json:"text"`
	Method     SourceMethod   `json:"method"`
	RawContext map[string]any `json:"raw_context,omitempty"`
}

// Candidate is a scored company-name guess derived from a single signal.
// Immutable once created; its confidence is fully determined by (text, method).
type Candidate struct {
	Name       string       `json:"name"`
	Method     SourceMethod `json:"method"`
	Confidence int          `json:"confidence"` // 0-100
}
