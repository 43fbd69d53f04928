// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying Client. Each Complete or
// Stream call takes one token before it reaches the backend.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter allowing perSecond calls with the
// given burst. A non-positive perSecond returns next unchanged.
func NewRateLimited(next Client, perSecond float64, burst int) Client {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Complete waits for a token and forwards the prompt.
func (r *RateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", Wrap("ratelimit", "complete", err)
	}
	return r.next.Complete(ctx, prompt)
}

// Stream waits for a token and forwards the stream request.
func (r *RateLimited) Stream(ctx context.Context, messages []Message, fn FragmentFunc) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return Wrap("ratelimit", "stream", err)
	}
	return r.next.Stream(ctx, messages, fn)
}
