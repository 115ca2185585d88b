// Package timeutils is a wrapper around the go standard time library.
package timeutils

import (
	"time"
)

// Since returns the duration since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

// Now returns the current local time.
func Now() time.Time {
	return time.Now()
}

// NowUnixMilli returns the current local time as Unix milliseconds.
// Wire timestamps across the swarm are expressed in this unit.
func NowUnixMilli() int64 {
	return Now().UnixNano() / int64(time.Millisecond)
}
