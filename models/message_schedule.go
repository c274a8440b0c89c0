package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// SendType selects the trigger of a schedule
type SendType string

const (
	SendTypeImmediate     SendType = "immediate"
	SendTypeScheduled     SendType = "scheduled"
	SendTypeAfterInactive SendType = "after_inactive"
)

func (s SendType) Valid() bool {
	switch s {
	case SendTypeImmediate, SendTypeScheduled, SendTypeAfterInactive:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for SendType
func (s *SendType) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = ""
	case string:
		*s = SendType(v)
	case []byte:
		*s = SendType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SendType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for SendType
func (s SendType) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SendType: %s", s)
	}
	return string(s), nil
}

// Frequency is the repeat cadence of a scheduled send
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// MessageSchedule is the admin-authored definition of when a step is sent.
type MessageSchedule struct {
	ID                       uint           `gorm:"primaryKey" json:"id"`
	PageID                   uint           `gorm:"not null;index:idx_message_schedules_page_id" json:"page_id"`
	CustomerTypeMessageID    uint           `gorm:"not null;index:idx_message_schedules_message_id" json:"customer_type_message_id"`
	SendType                 SendType       `gorm:"size:32;not null" json:"send_type"`
	ScheduledAt              *time.Time     `json:"scheduled_at,omitempty"`
	SendAfterInactiveMinutes *int           `json:"send_after_inactive_minutes,omitempty"`
	Frequency                Frequency      `gorm:"size:16;not null;default:'once'" json:"frequency"`
	EndDate                  *time.Time     `json:"end_date,omitempty"`
	Definition               datatypes.JSON `gorm:"type:jsonb" json:"definition,omitempty"`
	CreatedAt                time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt                time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	CustomerTypeMessage *CustomerTypeMessage `gorm:"foreignKey:CustomerTypeMessageID;references:ID" json:"customer_type_message,omitempty"`
}

func (MessageSchedule) TableName() string { return "message_schedules" }

// Validate checks the per-send-type field requirements.
func (s MessageSchedule) Validate() error {
	switch s.SendType {
	case SendTypeImmediate:
		if s.ScheduledAt != nil || s.SendAfterInactiveMinutes != nil {
			return ErrInvalidScheduleFields
		}
	case SendTypeScheduled:
		if s.ScheduledAt == nil || !s.Frequency.Valid() {
			return ErrInvalidScheduleFields
		}
	case SendTypeAfterInactive:
		if s.SendAfterInactiveMinutes == nil || *s.SendAfterInactiveMinutes <= 0 {
			return ErrInvalidScheduleFields
		}
	default:
		return ErrInvalidScheduleFields
	}
	return nil
}

// MessageScheduleFilter represents filter criteria for schedule queries
type MessageScheduleFilter struct {
	ID                    *uint
	PageID                *uint
	CustomerTypeMessageID *uint
	SendType              *SendType
}
