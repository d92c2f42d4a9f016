// Package stream implements the quota-aware streaming response pipeline: the
// event model, the wire encoder, and the state machine that drives one
// request from first fragment to terminal event.
package stream

import "github.com/antoniostano/beacon/internal/history"

// MediaType selects the wire format of an event stream.
type MediaType string

const (
	MediaTypeText MediaType = "text/plain"
	MediaTypeJSON MediaType = "application/json"
)

// ParseMediaType normalizes a client-supplied media type, defaulting unknown
// values to the structured format.
func ParseMediaType(v string) MediaType {
	if v == string(MediaTypeText) {
		return MediaTypeText
	}
	return MediaTypeJSON
}

// StartEvent opens a structured stream. Text streams have no start frame.
type StartEvent struct {
	ConversationID string `json:"conversation_id"`
}

// TokenEvent carries one generated fragment. IDs are gapless from zero
// within a stream.
type TokenEvent struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

// ReferencedDoc is one deduplicated document reference reported at stream end.
type ReferencedDoc struct {
	DocTitle string `json:"doc_title"`
	DocURL   string `json:"doc_url"`
}

// EndEvent closes a successful stream.
type EndEvent struct {
	ReferencedDocuments []ReferencedDoc
	Truncated           bool
	InputTokens         int64
	OutputTokens        int64
	AvailableQuotas     map[string]int64
}

// ErrorEvent closes a failed stream. StatusCode zero means the structured
// frame omits the field.
type ErrorEvent struct {
	StatusCode int
	Response   string
	Cause      string
}

// BuildReferencedDocs renders the stream's RAG chunks into an ordered,
// deduplicated document list. Chunks without a title and URL are dropped.
func BuildReferencedDocs(chunks []history.RagChunk) []ReferencedDoc {
	seen := make(map[ReferencedDoc]struct{}, len(chunks))
	docs := make([]ReferencedDoc, 0, len(chunks))
	for _, chunk := range chunks {
		doc := ReferencedDoc{DocTitle: chunk.DocTitle, DocURL: chunk.DocURL}
		if doc.DocTitle == "" && doc.DocURL == "" {
			continue
		}
		if _, ok := seen[doc]; ok {
			continue
		}
		seen[doc] = struct{}{}
		docs = append(docs, doc)
	}
	return docs
}
