package store

import (
	"context"
	"time"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// AwaitChild re-checks for a child of parentID at a fixed interval until
// one appears or maxAttempts is exhausted, then fails with ErrPollTimeout.
// The store has no subscriber mechanism, so this is a deliberate bounded
// polling loop rather than a condition variable; the hard cap keeps a
// waiting caller from hanging indefinitely.
func AwaitChild(ctx context.Context, s MessageStore, parentID int64, interval time.Duration, maxAttempts int) (*models.Message, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		child, err := s.FindChild(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if child != nil {
			return child, nil
		}
	}

	return nil, ErrPollTimeout
}
