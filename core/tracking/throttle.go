package tracking

import (
	"time"

	"github.com/kilianp07/driverlink/core/model"
)

// Throttle decides whether a reading is worth a network send.
type Throttle struct {
	Idle   time.Duration
	Active time.Duration
}

// DefaultThrottle returns the 30s idle / 5s active cadence.
func DefaultThrottle() Throttle {
	return Throttle{Idle: DefaultIdleInterval, Active: DefaultActiveInterval}
}

// MinInterval returns the cadence in effect.
func (t Throttle) MinInterval(activeAssignment bool) time.Duration {
	if activeAssignment {
		return t.Active
	}
	return t.Idle
}

// Allow reports whether a reading captured at capturedAt may be sent. The
// comparison is against the last successful send; a session that never sent
// anything always allows.
func (t Throttle) Allow(s model.TrackingSession, capturedAt time.Time) bool {
	if s.LastSentAt.IsZero() {
		return true
	}
	return capturedAt.Sub(s.LastSentAt) >= t.MinInterval(s.HasAssignment())
}
