package core

import "time"

// NextOccurrence returns the first occurrence of the rule strictly after its
// current NextDue cursor. Month and year steps clamp to the last day of the
// target month using the anchor's day, never the previously clamped day, so a
// rule anchored on the 31st lands on Feb 28/29 and returns to the 31st in
// March.
func NextOccurrence(r RecurringRule) Date {
	from := r.NextDue
	switch r.Frequency {
	case Weekly:
		return addDays(from, 7*r.Interval)
	case Monthly:
		return addMonthsClamped(from, r.Interval, r.AnchorDate.Day())
	case Yearly:
		return addMonthsClamped(from, 12*r.Interval, r.AnchorDate.Day())
	default: // Daily
		return addDays(from, r.Interval)
	}
}

// DueOccurrences lists the rule's occurrences from its cursor up to and
// including asOf, in chronological order, capped at max. It never mutates the
// rule; the materializer commits each occurrence before asking for the next.
func DueOccurrences(r RecurringRule, asOf Date, max int) []Date {
	var out []Date
	cur := r.NextDue
	for len(out) < max && !cur.After(asOf.Time) {
		out = append(out, cur)
		r.NextDue = cur
		cur = NextOccurrence(r)
	}
	return out
}

func addDays(d Date, n int) Date {
	return Date{Time: d.AddDate(0, 0, n)}
}

func addMonthsClamped(d Date, months, anchorDay int) Date {
	y := d.Time.Year()
	m := int(d.Time.Month()) - 1 + months
	y += m / 12
	m = m % 12
	day := anchorDay
	if last := daysIn(y, m+1); day > last {
		day = last
	}
	return NewDate(y, m+1, day)
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
