// Package globaltime is the process-wide clock. Production code reads time
// through it so tests can pin "now" and make window arithmetic and decay
// scores reproducible.
package globaltime

import (
	"sync"
	"time"
)

var (
	nowMu   sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current clock reading, mocked or real.
func Now() time.Time {
	nowMu.RLock()
	defer nowMu.RUnlock()
	return nowFunc()
}

// UTC is Now normalized to UTC, the zone all persisted timestamps use.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime freezes the clock at t until ResetTime is called. Tests that
// use it must not run in parallel.
func SetMockTime(t time.Time) {
	nowMu.Lock()
	defer nowMu.Unlock()
	nowFunc = func() time.Time { return t }
}

// ResetTime restores the real clock.
func ResetTime() {
	nowMu.Lock()
	defer nowMu.Unlock()
	nowFunc = time.Now
}
