package resilience

import (
	"context"
	"fmt"
	"time"
)

// Retry calls fn up to attempts times, sleeping backoff between attempts and
// doubling it each time. It returns nil on the first success. Once ctx is
// done no further attempt is made and the context error is returned. When
// every attempt fails the last error is returned, wrapped with the attempt
// count. attempts below 1 is treated as 1.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			backoff *= 2
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	if attempts == 1 {
		return err
	}
	return fmt.Errorf("resilience: %d attempts: %w", attempts, err)
}
