package history

import (
	"context"
	"time"
)

// RagChunk is a retrieved document reference that grounded a generated answer.
type RagChunk struct {
	DocTitle string `json:"doc_title"`
	DocURL   string `json:"doc_url"`
	Text     string `json:"text"`
}

// Attachment is a piece of content the client attached to its query. Only the
// metadata and content travel with the turn; the query persisted alongside it
// already has attachment payloads stripped.
type Attachment struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// Turn is one persisted query/response exchange. Immutable once written.
type Turn struct {
	Query       string       `json:"query"`
	Response    string       `json:"response"`
	RagChunks   []RagChunk   `json:"rag_chunks,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Truncated   bool         `json:"truncated"`
	// TopicSummary is set on the first turn of a conversation only.
	TopicSummary string    `json:"topic_summary,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Store persists per-(subject, conversation) turn histories under a global
// capacity bound on the number of distinct conversations.
type Store interface {
	// Get returns the ordered turn history for the key, empty if absent.
	Get(ctx context.Context, subjectID, conversationID string) ([]Turn, error)

	// InsertOrAppend appends the turn to an existing history or creates a new
	// single-turn history. Creating a new key may evict the oldest-updated
	// conversations to hold the store at its configured capacity.
	InsertOrAppend(ctx context.Context, subjectID, conversationID string, turn Turn) error

	Close() error
}
