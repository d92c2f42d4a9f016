package summarizer

import (
	"fmt"
	"strings"
)

// Config controls adapter construction.
type Config struct {
	Mode   string
	APIKey string
	Model  string
}

// New builds the configured summarizer. Auto mode prefers OpenAI when a key
// is present and falls back to the deterministic mock.
func New(cfg Config) (Summarizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAISummarizer(cfg.APIKey, cfg.Model)
		}
		return NewMockSummarizer(), nil
	case "openai":
		return NewOpenAISummarizer(cfg.APIKey, cfg.Model)
	case "mock":
		return NewMockSummarizer(), nil
	default:
		return nil, fmt.Errorf("unsupported summarizer mode %q", cfg.Mode)
	}
}
