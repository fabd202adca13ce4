// Package system provides the wall clock used to timestamp run reports.
package system

import "time"

// Clock implements pipeline.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to milliseconds so report
// timestamps stay compact.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
