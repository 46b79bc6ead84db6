// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often an operation is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy tries twice, 250ms apart: some mobile runtimes reject
// the first play() even after unlocking.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Delay: 250 * time.Millisecond}
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx ends.
// The last error is returned, annotated with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
