// Package testutil holds small helpers shared by package tests.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every interval until it returns true or timeout expires.
// Returns true if the condition was met.
func WaitFor(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline.C:
			return condition()
		case <-ticker.C:
		}
	}
}
