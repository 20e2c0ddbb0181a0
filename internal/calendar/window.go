package calendar

import (
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Window is a parsed ScheduleWindow. Days are ISO weekdays, 1 = Monday.
type Window struct {
	Hour, Minute int
	days         [8]bool
	Recurring    bool
}

func ParseWindow(w model.ScheduleWindow) (Window, error) {
	t, err := time.Parse("15:04", w.StartTime)
	if err != nil {
		return Window{}, appErrors.NewConfigError("windows", "bad start time %q", w.StartTime)
	}
	pw := Window{Hour: t.Hour(), Minute: t.Minute(), Recurring: w.IsRecurring}
	for _, d := range w.DaysOfWeek {
		if d < 1 || d > 7 {
			return Window{}, appErrors.NewConfigError("windows", "day %d out of range 1-7", d)
		}
		pw.days[d] = true
	}
	return pw, nil
}

func ValidateWindows(ws []model.ScheduleWindow) error {
	for _, w := range ws {
		if _, err := ParseWindow(w); err != nil {
			return err
		}
	}
	return nil
}

// isoWeekday maps time.Weekday (0 = Sunday) onto 1..7 with 1 = Monday.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// AllowsDay reports whether the window is open on the weekday of t. A window
// with no days listed is open every day.
func (w Window) AllowsDay(t time.Time) bool {
	restricted := false
	for _, b := range w.days {
		restricted = restricted || b
	}
	return !restricted || w.days[isoWeekday(t.Weekday())]
}

// LatestStart returns the most recent window start at or before now, looking
// back at most a week. ok is false when no start has occurred in that range.
func (w Window) LatestStart(now time.Time, loc *time.Location) (time.Time, bool) {
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		start := time.Date(local.Year(), local.Month(), local.Day()-i, w.Hour, w.Minute, 0, 0, loc)
		if start.After(now) || !w.AllowsDay(start) {
			continue
		}
		return start, true
	}
	return time.Time{}, false
}
