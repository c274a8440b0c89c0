package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceTypeFor(t *testing.T) {
	installed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, SourceTypeImported, SourceTypeFor(installed.Add(-time.Second), installed))
	assert.Equal(t, SourceTypeNew, SourceTypeFor(installed, installed))
	assert.Equal(t, SourceTypeNew, SourceTypeFor(installed.Add(time.Hour), installed))
}

func TestMiningStateValue(t *testing.T) {
	v, err := MiningStateMined.Value()
	assert.NoError(t, err)
	assert.Equal(t, "ขุดแล้ว", v)

	_, err = MiningState("mined").Value()
	assert.Error(t, err)

	var s MiningState
	assert.NoError(t, s.Scan([]byte("มีการตอบกลับ")))
	assert.Equal(t, MiningStateResponded, s)
}

func TestCustomerTypeMessageValidate(t *testing.T) {
	id := uint(3)

	tests := []struct {
		name    string
		msg     CustomerTypeMessage
		wantErr error
	}{
		{"custom only", CustomerTypeMessage{CustomGroupID: &id, Kind: StepKindText}, nil},
		{"knowledge only", CustomerTypeMessage{KnowledgeBindingID: &id, Kind: StepKindImage}, nil},
		{"both", CustomerTypeMessage{CustomGroupID: &id, KnowledgeBindingID: &id, Kind: StepKindText}, ErrAmbiguousGroupReference},
		{"neither", CustomerTypeMessage{Kind: StepKindText}, ErrAmbiguousGroupReference},
		{"bad kind", CustomerTypeMessage{CustomGroupID: &id, Kind: "audio"}, ErrInvalidStepKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.msg.Validate())
		})
	}
}

func TestMessageScheduleValidate(t *testing.T) {
	at := time.Now()
	minutes := 60
	zero := 0

	tests := []struct {
		name  string
		s     MessageSchedule
		valid bool
	}{
		{"immediate", MessageSchedule{SendType: SendTypeImmediate}, true},
		{"immediate with time", MessageSchedule{SendType: SendTypeImmediate, ScheduledAt: &at}, false},
		{"scheduled", MessageSchedule{SendType: SendTypeScheduled, ScheduledAt: &at, Frequency: FrequencyDaily}, true},
		{"scheduled without time", MessageSchedule{SendType: SendTypeScheduled, Frequency: FrequencyOnce}, false},
		{"after inactive", MessageSchedule{SendType: SendTypeAfterInactive, SendAfterInactiveMinutes: &minutes}, true},
		{"after inactive zero", MessageSchedule{SendType: SendTypeAfterInactive, SendAfterInactiveMinutes: &zero}, false},
		{"unknown", MessageSchedule{SendType: "later"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidScheduleFields)
			}
		})
	}
}
