// Package throttle enforces the per-caller submission cooldown: after a
// caller creates a ticket, further submissions from the same key are denied
// until the cooldown has elapsed.
package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of an admission check. RetryAfter is only set
// when the request was denied.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Gate admits or denies a submission for a caller key. Admission and
// timestamping are a single step: an allowed call has already consumed the
// caller's slot.
type Gate interface {
	Admit(ctx context.Context, key string) (Decision, error)
}

// MemoryGate keeps last-admission stamps in process memory. Entries lock
// individually so a sweep never stalls a concurrent admit.
type MemoryGate struct {
	cooldown time.Duration
	now      func() time.Time
	entries  sync.Map // key -> *entry
}

type entry struct {
	mu   sync.Mutex
	last time.Time
}

func NewMemoryGate(cooldown time.Duration) *MemoryGate {
	return &MemoryGate{
		cooldown: cooldown,
		now:      time.Now,
	}
}

func (g *MemoryGate) Admit(ctx context.Context, key string) (Decision, error) {
	if g.cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}

	value, _ := g.entries.LoadOrStore(key, &entry{})
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := g.now()
	if !e.last.IsZero() {
		if elapsed := now.Sub(e.last); elapsed < g.cooldown {
			return Decision{RetryAfter: g.cooldown - elapsed}, nil
		}
	}
	e.last = now
	return Decision{Allowed: true}, nil
}

// Sweep drops entries idle for more than twice the cooldown. Anything that
// old can no longer affect an admission decision, so racing a concurrent
// admit (which re-creates the entry) is harmless.
func (g *MemoryGate) Sweep() {
	if g.cooldown <= 0 {
		return
	}
	cutoff := g.now().Add(-2 * g.cooldown)
	g.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		stale := !e.last.IsZero() && e.last.Before(cutoff)
		e.mu.Unlock()
		if stale {
			g.entries.Delete(key)
		}
		return true
	})
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds for the
// Retry-After response header.
func RetryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// WaitText renders the remaining wait for humans, e.g. "42 seconds" or
// "2 minutes 3 seconds".
func WaitText(d time.Duration) string {
	seconds := RetryAfterSeconds(d)
	if seconds < 60 {
		return fmt.Sprintf("%d %s", seconds, plural(seconds, "second"))
	}
	minutes := seconds / 60
	seconds = seconds % 60
	return fmt.Sprintf("%d %s %d %s", minutes, plural(minutes, "minute"), seconds, plural(seconds, "second"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
