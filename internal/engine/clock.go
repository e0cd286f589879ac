package engine

import "time"

// Clock supplies the wall-clock time used for leases and audit timestamps.
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// now reads the engine clock at the store's millisecond resolution, so a
// value returned to the caller equals the value persisted.
func (e *Engine) now() time.Time {
	return truncate(e.clock.Now())
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
