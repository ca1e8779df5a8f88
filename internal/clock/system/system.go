// Package system provides the wall clock used for screening timestamps.
package system

import "time"

// Clock returns UTC time truncated to the millisecond so timestamps survive
// JSON and Postgres round-trips unchanged.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at millisecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
