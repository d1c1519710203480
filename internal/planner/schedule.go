package planner

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule tracks whether the planner interval has elapsed since the last
// evaluation. MaybeRefill consults it only after its pending-count threshold
// check passes, so the timer never triggers an evaluation on its own.
type Schedule struct {
	cronRunner *cron.Cron
	due        atomic.Bool
}

// NewSchedule starts a cron job that flips Due() true every interval. A
// zero or negative interval disables the timer entirely (demand-driven
// refill remains the only trigger).
func NewSchedule(interval time.Duration) *Schedule {
	s := &Schedule{}
	if interval <= 0 {
		return s
	}

	s.cronRunner = cron.New(cron.WithSeconds())
	spec := "@every " + interval.String()
	_, _ = s.cronRunner.AddFunc(spec, func() { s.due.Store(true) })
	s.cronRunner.Start()
	return s
}

// Due reports and clears whether the interval has elapsed since it was last
// consumed. With the timer disabled it always reports true.
func (s *Schedule) Due() bool {
	if s.cronRunner == nil {
		return true
	}
	return s.due.Swap(false)
}

// Stop shuts the underlying cron scheduler down.
func (s *Schedule) Stop() {
	if s.cronRunner != nil {
		s.cronRunner.Stop()
	}
}
