// Package progression holds the pure leveling and streak rules.
package progression

import (
	"time"

	"github.com/jghoshh/fitquest/backend/models"
)

// XPPerLevel is the width of every level on the current flat curve.
// Level and XPToNext must share this modulus.
const XPPerLevel int64 = 1000

// Level maps cumulative XP to a level, starting at 1.
func Level(xpTotal int64) int {
	if xpTotal < 0 {
		xpTotal = 0
	}
	return int(xpTotal/XPPerLevel) + 1
}

// XPToNext returns the XP still needed to reach the next level, in [1, XPPerLevel].
func XPToNext(xpTotal int64) int64 {
	if xpTotal < 0 {
		xpTotal = 0
	}
	return XPPerLevel - xpTotal%XPPerLevel
}

// ForTotal returns the progress fields derived from xpTotal.
func ForTotal(xpTotal int64, questsCompleted int64) models.Progress {
	return models.Progress{
		Level:                Level(xpTotal),
		XPTotal:              xpTotal,
		XPToNextLevel:        XPToNext(xpTotal),
		QuestsCompletedCount: questsCompleted,
	}
}

// Today returns the UTC calendar date of t in models.DateLayout.
func Today(t time.Time) string {
	return t.UTC().Format(models.DateLayout)
}

// Checkin applies one daily check-in on the given calendar date.
// changed is false when the user already checked in that day.
func Checkin(s models.Streak, today string) (next models.Streak, changed bool) {
	if s.LastCheckinDate == today {
		return s, false
	}

	next = s
	if s.LastCheckinDate != "" && isDayBefore(s.LastCheckinDate, today) {
		next.Current = s.Current + 1
	} else {
		next.Current = 1
	}
	if next.Current > next.Best {
		next.Best = next.Current
	}
	next.LastCheckinDate = today
	return next, true
}

func isDayBefore(last, today string) bool {
	l, err := time.Parse(models.DateLayout, last)
	if err != nil {
		return false
	}
	t, err := time.Parse(models.DateLayout, today)
	if err != nil {
		return false
	}
	return l.AddDate(0, 0, 1).Equal(t)
}
