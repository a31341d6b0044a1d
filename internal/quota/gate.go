package quota

import (
	"context"
	"fmt"
	"time"
)

// Store performs the check-and-increment as one indivisible operation on
// shared state. It returns the new count and allowed=true when the
// increment was applied, or allowed=false with state untouched when the
// user already reached limit for day.
type Store interface {
	Consume(ctx context.Context, userID string, day time.Time, limit int) (count int, allowed bool, err error)
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetsAt  time.Time
}

// Gate enforces a fixed number of transform invocations per user per
// calendar day in loc.
type Gate struct {
	store Store
	limit int
	loc   *time.Location
	now   func() time.Time
}

func NewGate(store Store, limit int, loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{store: store, limit: limit, loc: loc, now: time.Now}
}

func (g *Gate) Limit() int {
	return g.limit
}

// Today returns the current quota day.
func (g *Gate) Today() time.Time {
	return Day(g.now(), g.loc)
}

// TryConsume spends one slot of userID's allowance for today.
func (g *Gate) TryConsume(ctx context.Context, userID string, today time.Time) (Decision, error) {
	count, allowed, err := g.store.Consume(ctx, userID, today, g.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("consume quota: %w", err)
	}

	d := Decision{
		Allowed:  allowed,
		Limit:    g.limit,
		ResetsAt: time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, g.loc),
	}
	if allowed {
		d.Remaining = max(g.limit-count, 0)
	}
	return d, nil
}

// Day truncates t to its calendar date in loc. The result is expressed in
// UTC so it round-trips through a DATE column unchanged.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
