package undocked

import "time"

// Clock abstracts time.Now so timestamp-driven logic (stats, eviction,
// snapshots) can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
