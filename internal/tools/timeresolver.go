package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voxmail/internal/vecstore"
)

// Day clamp for "last N days" phrases.
const (
	MinRelativeDays = 1
	MaxRelativeDays = 365
)

// TimeRange is a resolved relative-time window in epoch seconds, with the
// human-readable label surfaced via progress events.
type TimeRange struct {
	Gte   int64
	Lte   int64
	Label string
}

// ApplyTo merges the range into a filter's date field as {$gte, $lte}.
func (r *TimeRange) ApplyTo(f vecstore.Filter) vecstore.Filter {
	if r == nil {
		return f
	}
	if f == nil {
		f = vecstore.Filter{}
	}
	f["date"] = vecstore.Range(r.Gte, r.Lte)
	return f
}

var lastNDaysRe = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+days?\b`)

// TimeResolver turns relative-time phrases in user utterances into date
// ranges. It remembers the last resolved week so "the week before that"
// shifts it back.
type TimeResolver struct {
	now           func() time.Time
	lastWeekStart *time.Time
}

// NewTimeResolver builds a resolver; now may be nil for wall-clock time.
func NewTimeResolver(now func() time.Time) *TimeResolver {
	if now == nil {
		now = time.Now
	}
	return &TimeResolver{now: now}
}

// Resolve inspects the utterance and returns a range, or nil when no
// relative-time phrase is present.
func (tr *TimeResolver) Resolve(utterance string) *TimeRange {
	lc := strings.ToLower(utterance)

	if m := lastNDaysRe.FindStringSubmatch(lc); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = MinRelativeDays
		}
		if n < MinRelativeDays {
			n = MinRelativeDays
		}
		if n > MaxRelativeDays {
			n = MaxRelativeDays
		}
		now := tr.now().UTC()
		return &TimeRange{
			Gte:   now.Add(-time.Duration(n) * 24 * time.Hour).Unix(),
			Lte:   now.Unix(),
			Label: fmt.Sprintf("last %d days", n),
		}
	}

	switch {
	case strings.Contains(lc, "week before that"):
		if tr.lastWeekStart == nil {
			return nil
		}
		start := tr.lastWeekStart.AddDate(0, 0, -7)
		return tr.weekRange(start)
	case strings.Contains(lc, "this week"):
		return tr.weekRange(isoWeekStart(tr.now().UTC()))
	case strings.Contains(lc, "last week"):
		return tr.weekRange(isoWeekStart(tr.now().UTC()).AddDate(0, 0, -7))
	}
	return nil
}

func (tr *TimeResolver) weekRange(start time.Time) *TimeRange {
	tr.lastWeekStart = &start
	end := start.AddDate(0, 0, 7).Add(-time.Second)
	year, week := start.ISOWeek()
	return &TimeRange{
		Gte:   start.Unix(),
		Lte:   end.Unix(),
		Label: fmt.Sprintf("week %04d-W%02d", year, week),
	}
}

// isoWeekStart returns the Monday 00:00 UTC of the ISO week containing t.
func isoWeekStart(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return t.AddDate(0, 0, -(wd - 1))
}
