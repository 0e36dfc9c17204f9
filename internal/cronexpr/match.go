package cronexpr

import "time"

// maxSearchYears bounds Next for expressions that never (or very rarely) fire.
const maxSearchYears = 5

func has(bits uint64, v int) bool { return bits&(1<<uint(v)) != 0 }

// Matches reports whether t (at one-second granularity, in t's location)
// satisfies every field of e.
func (e *Expr) Matches(t time.Time) bool {
	return has(e.bits[fieldSecond], t.Second()) &&
		has(e.bits[fieldMinute], t.Minute()) &&
		has(e.bits[fieldHour], t.Hour()) &&
		has(e.bits[fieldMonth], int(t.Month())) &&
		e.dayMatches(t)
}

// dayMatches requires both day-of-month and day-of-week to match. A field
// written as "*" matches every day, so in practice only a restricted field
// constrains the result.
func (e *Expr) dayMatches(t time.Time) bool {
	return has(e.bits[fieldDom], t.Day()) && has(e.bits[fieldDow], int(t.Weekday()))
}

// Next returns the first matching second strictly after t, in t's location.
// It returns the zero time if nothing matches within five years.
func (e *Expr) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Truncate(time.Second).Add(time.Second)
	limit := t.Year() + maxSearchYears

	for t.Year() <= limit {
		if !has(e.bits[fieldMonth], int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !has(e.bits[fieldHour], t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !has(e.bits[fieldMinute], t.Minute()) {
			t = t.Truncate(time.Minute).Add(time.Minute)
			continue
		}
		if !has(e.bits[fieldSecond], t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t
	}
	return time.Time{}
}
