package resample

import (
	"time"
)

// TimestampLayout is the accepted format of explicit range bounds.
const TimestampLayout = "2006-01-02 15:04:05"

// RangeOptions are the mutually exclusive ways to name a range: a trailing
// number of hours or days, or explicit From/To timestamps in local time.
type RangeOptions struct {
	Hours int
	Days  int
	From  string
	To    string
}

func (o RangeOptions) modes() int {
	n := 0
	if o.Hours != 0 {
		n++
	}
	if o.Days != 0 {
		n++
	}
	if o.From != "" || o.To != "" {
		n++
	}
	return n
}

// ParseRange resolves opts against now into [start, end). Trailing ranges end
// at now. Explicit bounds are parsed in now's location.
func ParseRange(opts RangeOptions, now time.Time) (time.Time, time.Time, error) {
	switch opts.modes() {
	case 0:
		return time.Time{}, time.Time{}, invalid("range", "one of hours, days or an explicit range is required")
	case 1:
	default:
		return time.Time{}, time.Time{}, invalid("range", "hours, days and an explicit range are mutually exclusive")
	}

	var start, end time.Time
	switch {
	case opts.Hours != 0:
		if opts.Hours < 0 {
			return time.Time{}, time.Time{}, invalid("hours", "must be positive, got %d", opts.Hours)
		}
		start, end = now.Add(-time.Duration(opts.Hours)*time.Hour), now
	case opts.Days != 0:
		if opts.Days < 0 {
			return time.Time{}, time.Time{}, invalid("days", "must be positive, got %d", opts.Days)
		}
		start, end = now.AddDate(0, 0, -opts.Days), now
	default:
		var err error
		if start, err = parseTimestamp("start", opts.From, now.Location()); err != nil {
			return time.Time{}, time.Time{}, err
		}
		if end, err = parseTimestamp("end", opts.To, now.Location()); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, invalid("range", "start %s is not before end %s",
			start.Format(TimestampLayout), end.Format(TimestampLayout))
	}
	return start, end, nil
}

func parseTimestamp(field, value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, invalid(field, "missing timestamp")
	}
	t, err := time.ParseInLocation(TimestampLayout, value, loc)
	if err != nil {
		return time.Time{}, invalid(field, "%q does not match %s", value, "YYYY-MM-DD HH:MM:SS")
	}
	return t, nil
}
