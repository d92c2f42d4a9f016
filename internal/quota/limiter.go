// Package quota gates and meters model token usage per subject.
package quota

import (
	"context"
	"errors"
	"fmt"
)

// Scope is the limiting dimension a limiter accounts against.
type Scope string

const (
	// ScopeSubject accounts tokens per individual subject.
	ScopeSubject Scope = "subject"
	// ScopeCluster accounts tokens against one shared pool for the whole
	// deployment; every subject draws from the same counter.
	ScopeCluster Scope = "cluster"
)

// Unlimited is the sentinel returned by AvailableQuota when the limiter does
// not enforce any bound.
const Unlimited int64 = -1

// ErrExceeded reports that a subject has no allowance left. Raised by
// EnsureAvailableQuota before generation begins, never by ConsumeTokens.
var ErrExceeded = errors.New("token quota exceeded")

// Limiter is one quota-accounting policy object.
type Limiter interface {
	// Name identifies the limiter in aggregated quota reports.
	Name() string

	// AvailableQuota returns the remaining allowance for the subject, never
	// negative. Unlimited limiters return the Unlimited sentinel.
	AvailableQuota(ctx context.Context, subjectID string) (int64, error)

	// EnsureAvailableQuota fails with ErrExceeded when the subject cannot
	// afford even a minimal request.
	EnsureAvailableQuota(ctx context.Context, subjectID string) error

	// ConsumeTokens decrements the allowance by inputTokens + outputTokens.
	// Consumption happens after generation already occurred, so overdraft
	// clamps at zero instead of failing.
	ConsumeTokens(ctx context.Context, inputTokens, outputTokens int64, subjectID string) error

	// RevokeQuota zeroes the allowance of the limiter's configured default
	// subject. Administrative operation, not on the streaming path.
	RevokeQuota(ctx context.Context) error

	// IncreaseQuota restores the configured default subject to its full limit.
	IncreaseQuota(ctx context.Context) error
}

func exceededError(name, subjectID string) error {
	return fmt.Errorf("%w: limiter %s, subject %s", ErrExceeded, name, subjectID)
}
