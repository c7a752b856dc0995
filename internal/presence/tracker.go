package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

// Directory is the user store holding the persisted last-activity timestamp.
type Directory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error)
	TouchActivity(ctx context.Context, userID string, at time.Time) error
}

type Status struct {
	UserID              string     `json:"user_id"`
	IsOnline            bool       `json:"is_online"`
	Status              string     `json:"status"`
	LastActivity        *time.Time `json:"last_activity"`
	LastActivityDisplay *string    `json:"last_activity_display"`
}

// Tracker combines the TTL marker with the persisted last activity. The
// marker answers "online now" and the timestamp answers "last seen".
type Tracker struct {
	store  Store
	dir    Directory
	logger *zap.SugaredLogger
	now    func() time.Time

	activityEvery time.Duration
	mu            sync.Mutex
	written       map[string]time.Time
}

// DefaultActivityInterval bounds how often Touch persists last activity per user.
const DefaultActivityInterval = 30 * time.Second

func NewTracker(store Store, dir Directory, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{
		store:         store,
		dir:           dir,
		logger:        logger,
		now:           time.Now,
		activityEvery: DefaultActivityInterval,
		written:       make(map[string]time.Time),
	}
}

// SetActivityInterval changes how often Touch writes last activity for a
// user. Zero or less writes on every touch.
func (t *Tracker) SetActivityInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activityEvery = d
}

// Touch refreshes the online marker on every call and records activity at
// most once per activity interval.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	errOnline := t.store.SetOnline(ctx, userID)
	now := t.now().UTC()
	if !t.activityDue(userID, now) {
		return errOnline
	}
	errActivity := t.dir.TouchActivity(ctx, userID, now)
	if errors.Is(errActivity, domain.ErrNotFound) {
		errActivity = nil
	}
	if errActivity == nil {
		t.mu.Lock()
		t.written[userID] = now
		t.mu.Unlock()
	}
	return errors.Join(errOnline, errActivity)
}

func (t *Tracker) activityDue(userID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.written[userID]
	return !ok || t.activityEvery <= 0 || now.Sub(last) >= t.activityEvery
}

func (t *Tracker) Leave(ctx context.Context, userID string) error {
	t.mu.Lock()
	delete(t.written, userID)
	t.mu.Unlock()
	return t.store.SetOffline(ctx, userID)
}

// Online is best effort: a store failure reads as offline.
func (t *Tracker) Online(ctx context.Context, userID string) bool {
	ok, err := t.store.IsOnline(ctx, userID)
	if err != nil {
		t.logger.Warnw("presence lookup failed", "user_id", userID, "error", err)
		return false
	}
	return ok
}

func (t *Tracker) OnlineMany(ctx context.Context, userIDs []string) map[string]bool {
	out, err := t.store.OnlineMany(ctx, userIDs)
	if err != nil {
		t.logger.Warnw("presence batch lookup failed", "count", len(userIDs), "error", err)
		return map[string]bool{}
	}
	return out
}

func (t *Tracker) Status(ctx context.Context, userID string) (Status, error) {
	u, err := t.dir.GetUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return t.build(u, t.Online(ctx, userID), LastSeen), nil
}

// Statuses returns the short-form status of every known user in userIDs.
func (t *Tracker) Statuses(ctx context.Context, userIDs []string) (map[string]Status, error) {
	users, err := t.dir.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	online := t.OnlineMany(ctx, ids)
	out := make(map[string]Status, len(users))
	for id, u := range users {
		out[id] = t.build(u, online[id], LastSeenShort)
	}
	return out, nil
}

func (t *Tracker) build(u domain.User, online bool, render func(at, now time.Time) string) Status {
	st := Status{UserID: u.ID, IsOnline: online, Status: "offline", LastActivity: u.LastActivity}
	if online {
		st.Status = "online"
	}
	if u.LastActivity != nil {
		d := render(*u.LastActivity, t.now())
		st.LastActivityDisplay = &d
	}
	return st
}
