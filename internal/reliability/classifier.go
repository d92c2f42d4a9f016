// Package reliability classifies upstream model failures into stable kinds
// and client-presentable summaries.
package reliability

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/antoniostano/beacon/internal/summarizer"
)

// Kind is a stable failure category for metrics and logs.
type Kind string

const (
	KindPromptTooLong Kind = "prompt_too_long"
	KindCanceled      Kind = "canceled"
	KindRateLimited   Kind = "rate_limited"
	KindAuth          Kind = "auth"
	KindUpstream      Kind = "upstream"
	KindGeneric       Kind = "generic"
)

// ClassifyLLMError maps a generation failure onto a (kind, client-facing
// summary, cause) triple. The summary is safe to send to clients; the cause
// carries the underlying detail.
func ClassifyLLMError(err error) (Kind, string, string) {
	if err == nil {
		return KindGeneric, "Error while obtaining answer", ""
	}

	var tooLong *summarizer.PromptTooLongError
	if errors.As(err, &tooLong) {
		return KindPromptTooLong, "Prompt is too long", tooLong.Detail
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled, "Request was canceled", err.Error()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return KindAuth, "Model provider rejected credentials", apiErr.Message
		case apiErr.HTTPStatusCode == 429:
			return KindRateLimited, "Model provider is rate limiting requests", apiErr.Message
		case IsRetryableHTTPStatus(apiErr.HTTPStatusCode):
			return KindUpstream, "Model provider is unavailable", apiErr.Message
		default:
			return KindGeneric, "Error while obtaining answer", apiErr.Message
		}
	}

	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "connection refused") {
		return KindUpstream, "Model provider is unavailable", msg
	}
	return KindGeneric, "Error while obtaining answer", msg
}

// IsRetryableHTTPStatus classifies retryable upstream HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StatusCodeFor maps a failure kind to the HTTP status carried in structured
// error frames. Zero means the frame omits the status code.
func StatusCodeFor(kind Kind) int {
	switch kind {
	case KindPromptTooLong:
		return 413
	case KindRateLimited:
		return 429
	case KindUpstream:
		return 502
	default:
		return 0
	}
}
