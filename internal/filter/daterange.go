package filter

import (
	"fmt"
	"time"
)

// Date-range presets accepted in State.DateRange.
const (
	RangeAll      = "all"
	RangeToday    = "today"
	RangeTomorrow = "tomorrow"
	RangeWeekend  = "weekend"
	RangeWeek     = "week"
)

// Window is a resolved half-open time interval [Start, End).
// The zero Window is unbounded and matches everything.
type Window struct {
	Start time.Time
	End   time.Time
}

// Unbounded reports whether the window matches all dates.
func (w Window) Unbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Overlaps reports whether a sale running [start, end] overlaps the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if w.Unbounded() {
		return true
	}
	return start.Before(w.End) && end.After(w.Start)
}

// ResolveDateRange resolves a preset name to a concrete window relative to
// now. Unknown presets are an error; "all" resolves to the zero window.
func ResolveDateRange(preset string, now time.Time) (Window, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch preset {
	case RangeAll, "":
		return Window{}, nil
	case RangeToday:
		return Window{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}, nil
	case RangeTomorrow:
		start := dayStart.AddDate(0, 0, 1)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}, nil
	case RangeWeekend:
		// Saturday 00:00 through Monday 00:00. During a weekend the window
		// starts today so in-progress sales still match.
		daysUntilSat := (int(time.Saturday) - int(now.Weekday()) + 7) % 7
		start := dayStart.AddDate(0, 0, daysUntilSat)
		if now.Weekday() == time.Sunday {
			start = dayStart
		}
		end := start.AddDate(0, 0, 2)
		if now.Weekday() == time.Sunday {
			end = start.AddDate(0, 0, 1)
		}
		return Window{Start: start, End: end}, nil
	case RangeWeek:
		return Window{Start: dayStart, End: dayStart.AddDate(0, 0, 7)}, nil
	default:
		return Window{}, fmt.Errorf("unknown date range preset: %s", preset)
	}
}
