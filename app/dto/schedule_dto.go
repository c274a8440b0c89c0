package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FlexibleID accepts a JSON number or string; the frontend sends both
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string { return string(f) }

// ScheduleMessageRequest is one step of a campaign as sent by the admin UI
type ScheduleMessageRequest struct {
	Type    string `json:"type" validate:"required,oneof=text image video"`
	Content string `json:"content" validate:"required,max=2000"`
	Order   int    `json:"order" validate:"min=0"`
}

// ScheduleRequest is the schedule body inside an activation request
type ScheduleRequest struct {
	ID               FlexibleID               `json:"id" validate:"required"`
	Type             string                   `json:"type" validate:"required,oneof=immediate scheduled user-inactive after_inactive"`
	Date             string                   `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Time             string                   `json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	Frequency        string                   `json:"frequency,omitempty" validate:"omitempty,oneof=once daily weekly monthly"`
	EndDate          string                   `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	InactivityPeriod float64                  `json:"inactivityPeriod,omitempty" validate:"omitempty,gt=0"`
	InactivityUnit   string                   `json:"inactivityUnit,omitempty" validate:"omitempty,oneof=minutes hours days weeks months"`
	Groups           []FlexibleID             `json:"groups" validate:"required,min=1"`
	Messages         []ScheduleMessageRequest `json:"messages" validate:"omitempty,dive"`
}

// ActivateScheduleRequest registers an in-memory schedule for a page
type ActivateScheduleRequest struct {
	PageID   string          `json:"page_id" validate:"required"`
	Schedule ScheduleRequest `json:"schedule" validate:"required"`
}

// ActivateScheduleResponse reports where the schedule landed
type ActivateScheduleResponse struct {
	Message    string `json:"message"`
	ScheduleID string `json:"schedule_id"`
	Cohort     string `json:"cohort"`
	Steps      int    `json:"steps"`
}

// DeactivateScheduleRequest removes an in-memory schedule
type DeactivateScheduleRequest struct {
	PageID     string     `json:"page_id" validate:"required"`
	ScheduleID FlexibleID `json:"schedule_id" validate:"required"`
}

type DeactivateScheduleResponse struct {
	Message string `json:"message"`
}

// KnowledgeGroupToggleRequest is shared by the deactivate/reactivate knowledge group cascade
type KnowledgeGroupToggleRequest struct {
	PageID      string     `json:"page_id" validate:"required"`
	KnowledgeID FlexibleID `json:"knowledge_id" validate:"required"`
}

type KnowledgeGroupToggleResponse struct {
	Message           string `json:"message"`
	KnowledgeID       uint   `json:"knowledge_id"`
	Enabled           bool   `json:"enabled"`
	AffectedSchedules int    `json:"affected_schedules"`
}

// ReloadSchedulesResponse reports schedules rebuilt from stored definitions
type ReloadSchedulesResponse struct {
	Message   string   `json:"message"`
	Activated []string `json:"activated"`
	Skipped   []string `json:"skipped,omitempty"`
}

// ScheduleSnapshot is one in-memory schedule as reported by the listing endpoint
type ScheduleSnapshot struct {
	ScheduleID string  `json:"schedule_id"`
	Cohort     string  `json:"cohort"`
	Type       string  `json:"type"`
	State      string  `json:"state"`
	SentCount  int     `json:"sent_count"`
	LastSent   *string `json:"last_sent,omitempty"`
	NextRun    *string `json:"next_run,omitempty"`
	Suspended  bool    `json:"suspended"`
}

type ListActiveSchedulesResponse struct {
	PageID    string             `json:"page_id"`
	Schedules []ScheduleSnapshot `json:"schedules"`
}

// UserInactivityEntry is a frontend-computed inactivity hint for one PSID
type UserInactivityEntry struct {
	UserID            string  `json:"user_id" validate:"required"`
	LastMessageTime   string  `json:"last_message_time,omitempty"`
	InactivityMinutes float64 `json:"inactivity_minutes" validate:"min=0"`
}

type UpdateUserInactivityRequest struct {
	PageID string                `json:"-"`
	Users  []UserInactivityEntry `json:"users" validate:"required,dive"`
}

type UpdateUserInactivityResponse struct {
	Message  string `json:"message"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
}
