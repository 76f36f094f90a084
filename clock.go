package graphstore

import "time"

// Now returns the current UTC time. Tests replace it to pin time-windowed scans.
var Now = func() time.Time {
	return time.Now().UTC()
}
