package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited throttles an inner Completer to a fixed request rate.
type Limited struct {
	inner   Completer
	limiter *rate.Limiter
}

// NewLimited allows perMinute requests per minute with a burst of one.
func NewLimited(inner Completer, perMinute int) *Limited {
	return &Limited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *Limited) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.inner.Complete(ctx, system, prompt)
}
