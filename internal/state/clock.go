package state

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall time to the room engine. Production uses SystemClock;
// tests pass a clock they can advance.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time from the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// newStrokeID returns a fresh stroke identifier, unique across rooms.
func newStrokeID() string {
	return uuid.NewString()
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
