package service

import (
	"sort"
	"time"

	"github.com/ai-workout-scheduler/agent/internal/config"
	"github.com/ai-workout-scheduler/agent/internal/model"
)

// Interval is a half-open [Start, End) time span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlap reports whether two half-open intervals intersect.
func Overlap(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// BusyIntervals extracts the occupied spans from calendar events.
func BusyIntervals(events []*model.CalendarEvent) []Interval {
	busy := make([]Interval, 0, len(events))
	for _, e := range events {
		busy = append(busy, Interval{Start: e.StartTime, End: e.EndTime})
	}
	return busy
}

// FindFreeSlot returns the earliest start time within the preferred hour
// window of the given local day that leaves room for duration against the
// busy intervals. When the preferred window is full and alternate is non-nil
// (flexible policy), the alternate window is searched next. The second return
// is false when neither window has a gap.
//
// day must be midnight in the user timezone; busy intervals are clipped to
// the day, sorted and merged before the gap walk.
func FindFreeSlot(day time.Time, duration time.Duration, preferred config.HourWindow, alternate *config.HourWindow, busy []Interval) (time.Time, bool) {
	if duration <= 0 {
		return time.Time{}, false
	}

	merged := mergeBusy(day, busy)

	if start, ok := searchWindow(day, duration, preferred, merged); ok {
		return start, true
	}
	if alternate != nil {
		if start, ok := searchWindow(day, duration, *alternate, merged); ok {
			return start, true
		}
	}
	return time.Time{}, false
}

// mergeBusy clips intervals to the day, drops empty ones, sorts by start and
// merges overlapping or touching spans.
func mergeBusy(day time.Time, busy []Interval) []Interval {
	dayEnd := day.AddDate(0, 0, 1)

	clipped := make([]Interval, 0, len(busy))
	for _, iv := range busy {
		start, end := iv.Start, iv.End
		if start.Before(day) {
			start = day
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if start.Before(end) {
			clipped = append(clipped, Interval{Start: start, End: end})
		}
	}

	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})

	merged := clipped[:0]
	for _, iv := range clipped {
		if n := len(merged); n > 0 && !merged[n-1].End.Before(iv.Start) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// searchWindow walks one hour window front to back and returns the start of
// the first gap of at least duration. Earliest start wins.
func searchWindow(day time.Time, duration time.Duration, window config.HourWindow, merged []Interval) (time.Time, bool) {
	if !window.Valid() {
		return time.Time{}, false
	}

	cursor := day.Add(time.Duration(window.Start) * time.Hour)
	windowEnd := day.Add(time.Duration(window.End) * time.Hour)

	for _, iv := range merged {
		if !iv.End.After(cursor) {
			continue
		}
		if !iv.Start.Before(windowEnd) {
			break
		}
		if iv.Start.Sub(cursor) >= duration {
			break
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}

	if windowEnd.Sub(cursor) >= duration {
		return cursor, true
	}
	return time.Time{}, false
}
