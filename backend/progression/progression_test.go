package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jghoshh/fitquest/backend/models"
)

func TestLevelCurve(t *testing.T) {
	cases := []struct {
		xp     int64
		level  int
		toNext int64
	}{
		{0, 1, 1000},
		{150, 1, 850},
		{999, 1, 1},
		{1000, 2, 1000},
		{1050, 2, 950},
		{2999, 3, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.level, Level(c.xp), "level(%d)", c.xp)
		assert.Equal(t, c.toNext, XPToNext(c.xp), "xp_to_next(%d)", c.xp)
	}
}

func TestLevelStableUntilNextThreshold(t *testing.T) {
	for xp := int64(0); xp < 5000; xp += 37 {
		toNext := XPToNext(xp)
		assert.GreaterOrEqual(t, toNext, int64(1))
		assert.LessOrEqual(t, toNext, XPPerLevel)
		assert.Equal(t, Level(xp), Level(xp+toNext-1))
		assert.Equal(t, Level(xp)+1, Level(xp+toNext))
	}
}

func TestCheckinTransitions(t *testing.T) {
	s, changed := Checkin(models.Streak{}, "2026-10-14")
	assert.True(t, changed)
	assert.Equal(t, models.Streak{Current: 1, Best: 1, LastCheckinDate: "2026-10-14"}, s)

	same, changed := Checkin(s, "2026-10-14")
	assert.False(t, changed)
	assert.Equal(t, s, same)

	s, _ = Checkin(s, "2026-10-15")
	s, _ = Checkin(s, "2026-10-16")
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 3, s.Best)

	s, _ = Checkin(s, "2026-10-18")
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 3, s.Best)
	assert.Equal(t, "2026-10-18", s.LastCheckinDate)
}

func TestCheckinAcrossMonthBoundary(t *testing.T) {
	s, _ := Checkin(models.Streak{Current: 4, Best: 9, LastCheckinDate: "2026-02-28"}, "2026-03-01")
	assert.Equal(t, 5, s.Current)
	assert.Equal(t, 9, s.Best)
}

func TestBestNeverDecreases(t *testing.T) {
	days := []string{"2026-01-01", "2026-01-02", "2026-01-05", "2026-01-06", "2026-01-06", "2026-01-20"}
	s := models.Streak{}
	best := 0
	for _, d := range days {
		s, _ = Checkin(s, d)
		assert.GreaterOrEqual(t, s.Best, best)
		assert.GreaterOrEqual(t, s.Best, s.Current)
		best = s.Best
	}
}

func TestTodayUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	ts := time.Date(2026, 10, 14, 20, 0, 0, 0, loc)
	assert.Equal(t, "2026-10-15", Today(ts))
}
