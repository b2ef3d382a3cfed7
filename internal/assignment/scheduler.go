package assignment

import "time"

// Handle cancels a scheduled action.
type Handle interface {
	// Stop prevents the action from running. It reports false if the action
	// already ran or was stopped.
	Stop() bool
}

// Scheduler runs deferred actions.
type Scheduler interface {
	After(d time.Duration, fn func()) Handle
}

// TimerScheduler schedules actions on runtime timers.
type TimerScheduler struct{}

// After runs fn in its own goroutine once d has elapsed.
func (TimerScheduler) After(d time.Duration, fn func()) Handle {
	return time.AfterFunc(d, fn)
}
