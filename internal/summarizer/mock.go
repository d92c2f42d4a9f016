package summarizer

import (
	"context"
	"fmt"
	"strings"
)

// MockSummarizer provides deterministic local answers when no model backend
// is configured. Fragments are emitted word by word so the streaming path is
// exercised end to end.
type MockSummarizer struct{}

func NewMockSummarizer() *MockSummarizer { return &MockSummarizer{} }

func (m *MockSummarizer) Stream(ctx context.Context, req Request) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)

		answer := buildMockAnswer(req)
		counter := TokenCounter{}
		counter.AddInput(estimateTokens(req.Query))

		words := strings.SplitAfter(answer, " ")
		for _, word := range words {
			if word == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- Item{Fragment: word}:
				counter.AddOutput(1)
			}
		}

		select {
		case <-ctx.Done():
		case out <- Item{Final: &Result{TokenCounter: counter}}:
		}
	}()
	return out
}

func (m *MockSummarizer) TopicSummary(_ context.Context, req Request) (string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "New conversation", nil
	}
	words := strings.Fields(query)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " "), nil
}

func buildMockAnswer(req Request) string {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "I need a question to answer."
	}
	if len(req.History) > 0 {
		return fmt.Sprintf("Continuing our conversation: here is what I know about %q.", query)
	}
	return fmt.Sprintf("Here is what I know about %q.", query)
}

// estimateTokens is a rough heuristic used where the backend reports no
// usage: about four characters per token.
func estimateTokens(text string) int64 {
	n := int64(len(text) / 4)
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
