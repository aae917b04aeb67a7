// Package hours evaluates the facility's daily service and break
// windows. A Policy is a pure predicate over wall-clock time; it holds
// no state beyond its configured windows.
package hours

import "time"

type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

type Policy struct {
	OpenFrom   TimeOfDay
	OpenUntil  TimeOfDay
	BreakFrom  TimeOfDay
	BreakUntil TimeOfDay
}

// IsOpen reports whether tokens may be generated at the instant: inside
// the service window and not inside the break window.
func (p Policy) IsOpen(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	if minute < p.OpenFrom.minutes() || minute > p.OpenUntil.minutes() {
		return false
	}
	return !p.IsBreakWindow(now)
}

// IsBreakWindow reports whether the instant falls in the internal break
// window. Both bounds are inclusive.
func (p Policy) IsBreakWindow(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	return minute >= p.BreakFrom.minutes() && minute <= p.BreakUntil.minutes()
}
