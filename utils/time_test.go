package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFacebookTime(t *testing.T) {
	want := time.Date(2025, 1, 15, 10, 0, 15, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"zulu suffix", "2025-01-15T10:00:15Z"},
		{"compact offset", "2025-01-15T10:00:15+0000"},
		{"colon offset", "2025-01-15T10:00:15+00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFacebookTime(tt.input)
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseFacebookTime_NonUTCOffset(t *testing.T) {
	got, err := ParseFacebookTime("2025-01-15T17:00:15+0700")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 15, 0, time.UTC), got)
}

func TestParseFacebookTime_Invalid(t *testing.T) {
	_, err := ParseFacebookTime("")
	assert.Error(t, err)

	_, err = ParseFacebookTime("yesterday")
	assert.Error(t, err)
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysSince(now.Add(-23*time.Hour), now))
	assert.Equal(t, 1, DaysSince(now.Add(-25*time.Hour), now))
	assert.Equal(t, 30, DaysSince(now.Add(-30*24*time.Hour), now))
	assert.Equal(t, 0, DaysSince(now.Add(time.Hour), now))
}

func TestShortPSID(t *testing.T) {
	assert.Equal(t, "abc", ShortPSID("abc"))
	assert.Equal(t, "45678901", ShortPSID("12345678901"))
}
