package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/stargazer-relay/internal/domain"
)

// ScopeLimiters holds one token bucket per OneBot scope.
// QQ throttles accounts that post to many groups in a burst, so sends to
// groups, private chats and discussions are paced independently.
type ScopeLimiters struct {
	limiters map[domain.Scope]*rate.Limiter
}

// New creates ScopeLimiters with ratePerSec tokens per second per scope.
// A rate of 0 disables limiting.
func New(ratePerSec int) *ScopeLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec
	if ratePerSec <= 0 {
		r = rate.Inf
		burst = 1
	}

	return &ScopeLimiters{
		limiters: map[domain.Scope]*rate.Limiter{
			domain.ScopeGroup:   rate.NewLimiter(r, burst),
			domain.ScopePrivate: rate.NewLimiter(r, burst),
			domain.ScopeDiscuss: rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the scope's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled or its deadline would be
// exceeded while waiting.
func (sl *ScopeLimiters) Wait(ctx context.Context, scope domain.Scope) error {
	l, ok := sl.limiters[scope]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
