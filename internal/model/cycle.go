package model

import (
	"strconv"
	"time"
)

// CycleIDFromTime derives a monotonic cycle id from the start of the time bucket containing t,
// formatted as YYYYMMDDhhmm in UTC.
func CycleIDFromTime(t time.Time, bucket time.Duration) int64 {
	if bucket <= 0 {
		bucket = time.Minute
	}
	start := t.UTC().Truncate(bucket)
	id, _ := strconv.ParseInt(start.Format("200601021504"), 10, 64)
	return id
}
