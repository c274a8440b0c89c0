package scheduler

import (
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
)

const (
	fireWindow  = utils.ScheduledFireWindow
	refireGuard = utils.ScheduledMinGap
)

// scheduledDue reports whether a scheduled trigger should fire now.
func scheduledDue(t Scheduled, lastSent *time.Time, now time.Time) bool {
	d := now.Sub(t.At)
	if d < -fireWindow || d > fireWindow {
		return false
	}
	return lastSent == nil || now.Sub(*lastSent) > refireGuard
}

// nextOccurrence advances a scheduled trigger after it fired. ok is false when
// the schedule is finished: a one-off, or the next run falls after EndDate.
func nextOccurrence(t Scheduled) (Scheduled, bool) {
	var next time.Time
	switch t.Frequency {
	case models.FrequencyDaily:
		next = t.At.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		next = t.At.AddDate(0, 0, 7)
	case models.FrequencyMonthly:
		next = addMonth(t.At)
	default:
		return t, false
	}
	if t.EndDate != nil && next.After(endOfDay(*t.EndDate)) {
		return t, false
	}
	t.At = next
	return t, true
}

// skipMissed advances t past every occurrence whose fire window closed before
// now. ok is false when no occurrence is left.
func skipMissed(t Scheduled, now time.Time) (Scheduled, bool) {
	cutoff := now.Add(-fireWindow)
	for t.At.Before(cutoff) {
		next, ok := nextOccurrence(t)
		if !ok {
			return t, false
		}
		t = next
	}
	return t, true
}

// addMonth moves to the same day next month, clamped to that month's last day.
func addMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// endOfDay makes an end date inclusive of its whole day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
