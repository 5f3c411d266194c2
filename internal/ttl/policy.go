// Package ttl computes session expiration deadlines.
package ttl

import (
	"time"

	"github.com/faultmaven/session-service/internal/model"
)

// Policy derives expiration deadlines from activity timestamps. All values
// are minutes. The zero Policy is unusable; construct via New.
type Policy struct {
	DefaultMinutes int
	MinMinutes     int
	MaxMinutes     int
}

func New(defaultMinutes, minMinutes, maxMinutes int) Policy {
	return Policy{DefaultMinutes: defaultMinutes, MinMinutes: minMinutes, MaxMinutes: maxMinutes}
}

// Deadline returns the moment the session becomes eligible for eviction.
// A zero time means no deadline: archived sessions are exempt from
// TTL-driven expiration until explicitly restored or deleted.
//
// Out-of-range overrides are clamped to the nearest bound, never rejected,
// so heartbeat calls stay non-failing under misconfiguration.
func (p Policy) Deadline(status model.Status, lastActivityAt time.Time, overrideMinutes *int) time.Time {
	if status == model.StatusArchived {
		return time.Time{}
	}
	minutes := p.DefaultMinutes
	if overrideMinutes != nil {
		minutes = *overrideMinutes
	}
	if minutes < p.MinMinutes {
		minutes = p.MinMinutes
	}
	if minutes > p.MaxMinutes {
		minutes = p.MaxMinutes
	}
	return lastActivityAt.Add(time.Duration(minutes) * time.Minute)
}
