// Package testutil defines common unit test helpers.
package testutil

import (
	"sync"
	"time"
)

// WaitTimeout waits for a WaitGroup with the specified max timeout.
// Returns true if waiting timed out.
func WaitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}

// WaitForChannel waits for a signal on the given channel up to the timeout.
// Returns true if waiting timed out.
func WaitForChannel(c <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
