package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultGuardScope = "stripe-webhook"

// EventStore is the subset of the Redis client the guard needs.
type EventStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// GuardParams configure an EventGuard. Window <= 0 keeps marks until deleted.
type GuardParams struct {
	Store  EventStore
	Window time.Duration
	Scope  string
	Now    func() time.Time
}

// EventGuard remembers Stripe event ids so redelivered events are acknowledged without being applied twice.
type EventGuard struct {
	store  EventStore
	window time.Duration
	scope  string
	now    func() time.Time
}

func NewEventGuard(params GuardParams) (*EventGuard, error) {
	if params.Store == nil {
		return nil, errors.New("event store is required")
	}
	scope := strings.TrimSpace(params.Scope)
	if scope == "" {
		scope = defaultGuardScope
	}
	window := params.Window
	if window < 0 {
		window = 0
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &EventGuard{store: params.Store, window: window, scope: scope, now: now}, nil
}

// CheckAndMark records eventID and reports whether it had already been recorded.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	stored, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.window)
	if err != nil {
		return false, fmt.Errorf("mark stripe event %s: %w", eventID, err)
	}
	return !stored, nil
}

// Delete forgets eventID so a later delivery of the same event is processed.
func (g *EventGuard) Delete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("clear stripe event %s: %w", eventID, err)
	}
	return nil
}

func (g *EventGuard) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
