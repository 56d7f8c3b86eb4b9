package monitor

import "time"

// Clock supplies "now" for window and cooldown arithmetic.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
