package quota

import (
	"context"
	"errors"
)

// AvailableQuotas collects the remaining allowance of every configured
// limiter for the subject. A limiter that is transiently unreachable is
// omitted from the result rather than failing the whole aggregation; the
// call never mutates limiter state.
func AvailableQuotas(ctx context.Context, limiters []Limiter, subjectID string) map[string]int64 {
	out := make(map[string]int64, len(limiters))
	for _, limiter := range limiters {
		available, err := limiter.AvailableQuota(ctx, subjectID)
		if err != nil {
			continue
		}
		out[limiter.Name()] = available
	}
	return out
}

// ConsumeAll meters the finished stream's token counts through every
// configured limiter. All limiters are attempted even when one fails; the
// combined error is returned.
func ConsumeAll(ctx context.Context, limiters []Limiter, inputTokens, outputTokens int64, subjectID string) error {
	var errs []error
	for _, limiter := range limiters {
		if err := limiter.ConsumeTokens(ctx, inputTokens, outputTokens, subjectID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnsureAll gates a request on every configured limiter before generation.
func EnsureAll(ctx context.Context, limiters []Limiter, subjectID string) error {
	for _, limiter := range limiters {
		if err := limiter.EnsureAvailableQuota(ctx, subjectID); err != nil {
			return err
		}
	}
	return nil
}
