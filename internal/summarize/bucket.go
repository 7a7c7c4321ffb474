package summarize

import (
	"fmt"
	"time"
)

// Rollup scopes. Scope names double as the vector record type for the
// embedded rollup.
const (
	ScopeThread = "thread"
	ScopeDay    = "thread_day"
	ScopeWeek   = "thread_week"
	ScopeMonth  = "thread_month"
)

// DayBucket returns the YYYY-MM-DD bucket of an epoch, in UTC.
func DayBucket(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01-02")
}

// WeekBucket returns the ISO-week bucket YYYY-Www of an epoch, in UTC.
// ISO rules apply: weeks start Monday and the week-year follows the
// Thursday rule, so early January may fall into the previous week-year.
func WeekBucket(epoch int64) string {
	year, week := time.Unix(epoch, 0).UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthBucket returns the YYYY-MM bucket of an epoch, in UTC.
func MonthBucket(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01")
}

// BucketFor returns the bucket key of an epoch for a scope. Thread scope has
// no temporal bucket; the thread id itself is the key and "" is returned.
func BucketFor(scope string, epoch int64) string {
	switch scope {
	case ScopeDay:
		return DayBucket(epoch)
	case ScopeWeek:
		return WeekBucket(epoch)
	case ScopeMonth:
		return MonthBucket(epoch)
	default:
		return ""
	}
}
