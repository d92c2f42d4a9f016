package quota

import "context"

// NoopLimiter never limits anything. AvailableQuota reports the Unlimited
// sentinel so clients can distinguish "no bound" from "zero left".
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter { return &NoopLimiter{} }

func (*NoopLimiter) Name() string { return "unlimited" }

func (*NoopLimiter) AvailableQuota(context.Context, string) (int64, error) {
	return Unlimited, nil
}

func (*NoopLimiter) EnsureAvailableQuota(context.Context, string) error { return nil }

func (*NoopLimiter) ConsumeTokens(context.Context, int64, int64, string) error { return nil }

func (*NoopLimiter) RevokeQuota(context.Context) error { return nil }

func (*NoopLimiter) IncreaseQuota(context.Context) error { return nil }
