package summarizer

import "fmt"

// PromptTooLongError reports that the query plus history exceeded the model's
// context budget. User-correctable, surfaced as a distinct error event.
type PromptTooLongError struct {
	Detail string
}

func (e *PromptTooLongError) Error() string {
	return fmt.Sprintf("prompt exceeds model context window: %s", e.Detail)
}
