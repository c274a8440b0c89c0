package scheduler

import (
	"testing"
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/stretchr/testify/assert"
)

func TestWithinBand(t *testing.T) {
	tests := []struct {
		minutes float64
		target  float64
		want    bool
	}{
		{119, 120, true},
		{122.5, 120, false},
		{117.5, 120, false},
		{122.4, 120, true},
		{58.8, 60, true},
		{61.2, 60, true},
		{58.7, 60, false},
		{61.3, 60, false},
		{0.8, 1, true},
		{1.2, 1, true},
		{0.79, 1, false},
		{1.21, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WithinBand(tt.minutes, tt.target), "minutes=%v target=%v", tt.minutes, tt.target)
	}
	assert.InDelta(t, 2.4, Band(120), 1e-9)
	assert.InDelta(t, 0.2, Band(1), 1e-9)
}

func TestInactivityHintAges(t *testing.T) {
	reported := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	h := InactivityHint{PSID: "u", InactivityMinutes: 100, UpdatedAt: reported}

	assert.InDelta(t, 100, h.MinutesAt(reported), 1e-9)
	assert.InDelta(t, 130, h.MinutesAt(reported.Add(30*time.Minute)), 1e-9)
	assert.InDelta(t, 100, h.MinutesAt(reported.Add(-time.Minute)), 1e-9)
}

func TestInactivityTableStale(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	table := NewInactivityTable()
	assert.True(t, table.Stale("P1", now, time.Minute))

	table.Update("P1", []InactivityHint{{PSID: "u", InactivityMinutes: 5}, {PSID: ""}}, now)
	assert.False(t, table.Stale("P1", now.Add(30*time.Second), time.Minute))
	assert.True(t, table.Stale("P1", now.Add(2*time.Minute), time.Minute))
	assert.Equal(t, []string{"u"}, table.Matching("P1", 5*time.Minute, now))
}

func TestScheduledDue(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	s := Scheduled{At: at, Frequency: models.FrequencyDaily}

	assert.True(t, scheduledDue(s, nil, at.Add(15*time.Second)))
	assert.True(t, scheduledDue(s, nil, at.Add(-30*time.Second)))
	assert.False(t, scheduledDue(s, nil, at.Add(31*time.Second)))
	assert.False(t, scheduledDue(s, nil, at.Add(-31*time.Second)))
	assert.False(t, scheduledDue(s, utils.ToPtr(at.Add(-30*time.Minute)), at))
	assert.True(t, scheduledDue(s, utils.ToPtr(at.Add(-2*time.Hour)), at))
}

func TestNextOccurrence(t *testing.T) {
	at := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frequency models.Frequency
		end       *time.Time
		want      time.Time
		ok        bool
	}{
		{"once", models.FrequencyOnce, nil, at, false},
		{"daily", models.FrequencyDaily, nil, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), true},
		{"weekly", models.FrequencyWeekly, nil, time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC), true},
		{"monthly clamps", models.FrequencyMonthly, nil, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), true},
		{"end date inclusive", models.FrequencyDaily, utils.ToPtr(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), true},
		{"past end date", models.FrequencyDaily, utils.ToPtr(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)), at, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := nextOccurrence(Scheduled{At: at, Frequency: tt.frequency, EndDate: tt.end})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, next.At)
		})
	}

	mid := Scheduled{At: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), Frequency: models.FrequencyMonthly}
	next, ok := nextOccurrence(mid)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC), next.At)
}

func TestSkipMissed(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frequency models.Frequency
		end       *time.Time
		now       time.Time
		want      time.Time
		ok        bool
	}{
		{"window still open", models.FrequencyDaily, nil, at.Add(30 * time.Second), at, true},
		{"just missed", models.FrequencyDaily, nil, at.Add(45 * time.Second), at.AddDate(0, 0, 1), true},
		{"several days down", models.FrequencyDaily, nil, at.AddDate(0, 0, 3).Add(time.Hour), at.AddDate(0, 0, 4), true},
		{"lands inside the next window", models.FrequencyWeekly, nil, at.AddDate(0, 0, 7).Add(10 * time.Second), at.AddDate(0, 0, 7), true},
		{"once", models.FrequencyOnce, nil, at.Add(time.Minute), at, false},
		{"runs past end date", models.FrequencyDaily, utils.ToPtr(at.AddDate(0, 0, 1)), at.AddDate(0, 0, 2), at.AddDate(0, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := skipMissed(Scheduled{At: at, Frequency: tt.frequency, EndDate: tt.end}, tt.now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, next.At)
		})
	}
}

func TestScheduleCohort(t *testing.T) {
	user := Schedule{Groups: []GroupRef{{Kind: models.GroupKindCustom, ID: 1}}}
	mixed := Schedule{Groups: []GroupRef{{Kind: models.GroupKindCustom, ID: 1}, {Kind: models.GroupKindKnowledge, ID: 7}}}

	assert.Equal(t, CohortUser, user.Cohort())
	assert.Equal(t, CohortUser, Schedule{}.Cohort())
	assert.Equal(t, CohortKnowledge, mixed.Cohort())
	assert.Equal(t, []uint{7}, mixed.KnowledgeIDs())
	assert.True(t, mixed.References(7))
	assert.False(t, mixed.References(1))
	assert.Equal(t, "knowledge_7", mixed.Groups[1].String())
}
