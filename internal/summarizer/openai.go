package summarizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a concise technical assistant. Answer using the " +
	"conversation so far; say so when you do not know."

// OpenAISummarizer generates answers through the OpenAI chat completion
// streaming API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, model string) (*OpenAISummarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISummarizer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (s *OpenAISummarizer) Stream(ctx context.Context, req Request) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)

		model := req.Model
		if model == "" {
			model = s.model
		}
		messages := buildMessages(req)

		stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			emitItem(ctx, out, Item{Err: classifyOpenAIError(err)})
			return
		}
		defer stream.Close()

		counter := TokenCounter{}
		for _, msg := range messages {
			counter.AddInput(estimateTokens(msg.Content))
		}

		truncated := false
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				emitItem(ctx, out, Item{Err: classifyOpenAIError(err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason == openai.FinishReasonLength {
				truncated = true
			}
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			counter.AddOutput(1)
			if !emitItem(ctx, out, Item{Fragment: delta}) {
				return
			}
		}

		emitItem(ctx, out, Item{Final: &Result{Truncated: truncated, TokenCounter: counter}})
	}()
	return out
}

func (s *OpenAISummarizer) TopicSummary(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize the user's question as a topic title of at most six words.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Query,
			},
		},
		MaxTokens: 24,
	})
	if err != nil {
		return "", fmt.Errorf("topic summary: %w", classifyOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("topic summary: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// emitItem sends one item unless the consumer has gone away. Reports whether
// the send happened.
func emitItem(ctx context.Context, out chan<- Item, item Item) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- item:
		return true
	}
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, turn := range req.History {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Query},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Response},
		)
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Query,
	})
}

// classifyOpenAIError maps provider context-window rejections onto the typed
// prompt-too-long error so the pipeline can emit the distinct error frame.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return &PromptTooLongError{Detail: apiErr.Message}
		}
		if apiErr.HTTPStatusCode == 413 {
			return &PromptTooLongError{Detail: apiErr.Message}
		}
	}
	return err
}
