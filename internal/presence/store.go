package presence

import (
	"context"
	"time"
)

const DefaultTTL = 5 * time.Minute

// Store holds the short-lived "currently online" marker per user. A missing
// or expired marker means offline, so a process that dies without cleaning
// up stops reporting its users within one TTL.
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineMany(ctx context.Context, userIDs []string) (map[string]bool, error)
}
