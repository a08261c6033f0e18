// Package clock abstracts time for deterministic tests of phase deadlines.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// DefaultClock implements the Clock interface using the system clock.
type DefaultClock struct{}

// Now returns the current time.
func (c *DefaultClock) Now() time.Time {
	return time.Now()
}
