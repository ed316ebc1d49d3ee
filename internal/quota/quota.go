// Package quota enforces per-user daily question limits. Standard-tier
// users get a fixed number of questions per UTC calendar day; elevated
// users bypass the limit entirely.
package quota

import (
	"time"

	"github.com/askgopher/askgopher/internal/ttlstore"
)

// Tier is a user's capability class.
type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

// Capability is the single permission lookup consumed by admission.
type Capability struct {
	Tier          Tier
	BypassesQuota bool
}

// window is one user's usage inside the current UTC day.
type window struct {
	count int
	start time.Time
}

// Enforcer tracks per-user usage windows. Reads never mutate state;
// TryAcquire and Refund perform their read-modify-writes atomically
// per user.
type Enforcer struct {
	windows  *ttlstore.Table[window]
	dailyCap int
	elevated map[string]struct{}
	now      func() time.Time
}

// New creates an Enforcer with the given daily cap for standard users.
// Users listed in elevatedUsers bypass the quota.
func New(dailyCap int, elevatedUsers []string) *Enforcer {
	if dailyCap <= 0 {
		dailyCap = 5
	}
	elevated := make(map[string]struct{}, len(elevatedUsers))
	for _, u := range elevatedUsers {
		elevated[u] = struct{}{}
	}
	return &Enforcer{
		// Windows only matter for the current day; keep them for two
		// so a window spanning a sweep is never dropped early.
		windows:  ttlstore.New[window](ttlstore.Options{TTL: 48 * time.Hour, TouchOnGet: true}),
		dailyCap: dailyCap,
		elevated: elevated,
		now:      time.Now,
	}
}

// Classify returns the capability for a user.
func (e *Enforcer) Classify(userID string) Capability {
	if _, ok := e.elevated[userID]; ok {
		return Capability{Tier: TierElevated, BypassesQuota: true}
	}
	return Capability{Tier: TierStandard, BypassesQuota: false}
}

// dayStart returns the UTC midnight containing ts.
func dayStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}

// usedToday returns the effective count for a user right now. A window
// from a previous day reads as zero without being written back.
func (e *Enforcer) usedToday(userID string) int {
	w, ok := e.windows.Get(userID)
	if !ok || w.start.Before(dayStart(e.now())) {
		return 0
	}
	return w.count
}

// TryAcquire consumes one quota slot for the user if any remain,
// reporting whether the slot was granted. Check and increment happen
// inside one atomic update, so concurrent callers racing for the last
// slot see exactly one winner. The window rolls over when a new day
// has started. Elevated users always succeed and are not tracked.
func (e *Enforcer) TryAcquire(userID string) bool {
	if e.Classify(userID).BypassesQuota {
		return true
	}
	today := dayStart(e.now())
	acquired := false
	e.windows.Update(userID, func(w window, ok bool) (window, bool) {
		if !ok || w.start.Before(today) {
			acquired = true
			return window{count: 1, start: today}, true
		}
		if w.count < e.dailyCap {
			w.count++
			acquired = true
		}
		return w, true
	})
	return acquired
}

// Refund returns a previously acquired slot, for callers that reserve
// quota up front and then fail to produce a response. Refunding an
// empty or stale window is a no-op, as is refunding an elevated user.
func (e *Enforcer) Refund(userID string) {
	if e.Classify(userID).BypassesQuota {
		return
	}
	today := dayStart(e.now())
	e.windows.Update(userID, func(w window, ok bool) (window, bool) {
		if !ok || w.start.Before(today) || w.count == 0 {
			return w, ok
		}
		w.count--
		return w, true
	})
}

// Remaining returns the user's remaining quota for the current day.
// unlimited is true for elevated users, in which case the count is
// meaningless.
func (e *Enforcer) Remaining(userID string) (remaining int, unlimited bool) {
	if e.Classify(userID).BypassesQuota {
		return 0, true
	}
	left := e.dailyCap - e.usedToday(userID)
	if left < 0 {
		left = 0
	}
	return left, false
}

// Used returns the user's consumed slots and the daily cap.
func (e *Enforcer) Used(userID string) (used, limit int) {
	return e.usedToday(userID), e.dailyCap
}
