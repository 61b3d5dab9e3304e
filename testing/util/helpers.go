// Package util holds small helpers shared by tests.
package util

import (
	"sync"
	"time"
)

// WaitTimeout waits for a WaitGroup to resolve within a timeout interval.
// Returns true if the WaitGroup exceeded the timeout.
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
