package encoding

import "time"

// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01 UTC.
const ticksAtUnixEpoch = 621355968000000000

// TimeToTicks converts t into 100ns ticks since 0001-01-01 UTC, the on-disk time format.
func TimeToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	t = t.UTC()
	return ticksAtUnixEpoch + t.Unix()*10_000_000 + int64(t.Nanosecond()/100)
}

// TicksToTime converts on-disk ticks back to a UTC time. Zero ticks map to the zero time.
func TicksToTime(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	t := ticks - ticksAtUnixEpoch
	return time.Unix(t/10_000_000, (t%10_000_000)*100).UTC()
}
