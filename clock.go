package bucketd

import "time"

// Clock supplies timestamps for metadata records. The master uses it to
// stamp the creation time of the well-known users bucket.
type Clock interface {
	Now() time.Time
}

// systemClock reads the wall clock.
type systemClock struct{}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
