// Package summarizer defines the contract with the answer-generating model
// and the adapters that implement it.
package summarizer

import (
	"context"

	"github.com/antoniostano/beacon/internal/history"
)

// TokenCounter tracks cumulative token counts for one streamed answer. Counts
// only grow while the stream runs and are read once it ends.
type TokenCounter struct {
	InputTokens  int64
	OutputTokens int64
}

func (c *TokenCounter) AddInput(n int64) {
	if n > 0 {
		c.InputTokens += n
	}
}

func (c *TokenCounter) AddOutput(n int64) {
	if n > 0 {
		c.OutputTokens += n
	}
}

// Request carries everything an adapter needs to generate one answer.
type Request struct {
	SubjectID      string
	ConversationID string
	Query          string
	Provider       string
	Model          string
	History        []history.Turn
}

// Result is the terminal value ending a generation stream.
type Result struct {
	RagChunks    []history.RagChunk
	Truncated    bool
	TokenCounter TokenCounter
}

// Item is one step of a generation stream: a text fragment, the terminal
// result, or a failure. Exactly one field is set; Final or Err ends the
// stream.
type Item struct {
	Fragment string
	Final    *Result
	Err      error
}

// Summarizer produces a lazily-consumed stream of answer fragments ending in
// a terminal result. The returned channel is closed after the terminal item.
type Summarizer interface {
	Stream(ctx context.Context, req Request) <-chan Item

	// TopicSummary produces a short title for a new conversation. Called once
	// per conversation, only when no prior history exists.
	TopicSummary(ctx context.Context, req Request) (string, error)
}
