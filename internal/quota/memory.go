package quota

import (
	"context"
	"sync"
)

// MemoryLimiter keeps allowances in process memory. Used for local/dev runs
// without a database; counters reset on restart.
type MemoryLimiter struct {
	mu             sync.Mutex
	scope          Scope
	limit          int64
	defaultSubject string
	available      map[string]int64
}

func NewMemoryLimiter(scope Scope, limit int64, defaultSubject string) *MemoryLimiter {
	return &MemoryLimiter{
		scope:          scope,
		limit:          limit,
		defaultSubject: defaultSubject,
		available:      make(map[string]int64),
	}
}

func (l *MemoryLimiter) Name() string { return string(l.scope) }

func (l *MemoryLimiter) key(subjectID string) string {
	if l.scope == ScopeCluster {
		return l.defaultSubject
	}
	return subjectID
}

func (l *MemoryLimiter) AvailableQuota(_ context.Context, subjectID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(l.key(subjectID)), nil
}

func (l *MemoryLimiter) availableLocked(key string) int64 {
	if v, ok := l.available[key]; ok {
		return v
	}
	return l.limit
}

func (l *MemoryLimiter) EnsureAvailableQuota(_ context.Context, subjectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.key(subjectID)
	if l.availableLocked(key) <= 0 {
		return exceededError(l.Name(), key)
	}
	return nil
}

func (l *MemoryLimiter) ConsumeTokens(_ context.Context, inputTokens, outputTokens int64, subjectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.key(subjectID)
	remaining := l.availableLocked(key) - (inputTokens + outputTokens)
	if remaining < 0 {
		remaining = 0
	}
	l.available[key] = remaining
	return nil
}

func (l *MemoryLimiter) RevokeQuota(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available[l.key(l.defaultSubject)] = 0
	return nil
}

func (l *MemoryLimiter) IncreaseQuota(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available[l.key(l.defaultSubject)] = l.limit
	return nil
}
