// Package system provides the wall clock used to stamp job documents.
package system

import "time"

// Clock implements pipeline.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the
// resolution Postgres keeps for timestamptz columns.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Fixed always returns the same instant. Tests use it to assert timestamps.
type Fixed struct {
	At time.Time
}

// Now returns f.At.
func (f Fixed) Now() time.Time {
	return f.At
}
