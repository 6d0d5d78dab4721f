// Package scheduler provides the reference time.AfterFunc-backed Scheduler
// used to drive each subscription's publishing-interval timer.
package scheduler

import (
	"time"

	"github.com/nexus-edge/opcua-subscription-engine/internal/subscription"
)

// Scheduler arms publishing-interval timers using the standard library's
// runtime timer wheel. Each ScheduleAfter call fires callback on its own
// goroutine, so a subscription's OnTimer is never invoked re-entrantly from
// the goroutine that armed it.
type Scheduler struct{}

// New constructs a Scheduler.
func New() *Scheduler { return &Scheduler{} }

// ScheduleAfter implements subscription.Scheduler.
func (s *Scheduler) ScheduleAfter(interval time.Duration, callback func()) subscription.CancelFunc {
	timer := time.AfterFunc(interval, callback)
	return func() { timer.Stop() }
}
