package models

import (
	"time"

	"github.com/lib/pq"
)

// CustomGroup is a page-authored segment matched by keywords.
type CustomGroup struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	PageID          uint           `gorm:"not null;uniqueIndex:uk_custom_groups_page_name,priority:1" json:"page_id"`
	Name            string         `gorm:"size:255;not null;uniqueIndex:uk_custom_groups_page_name,priority:2" json:"name"`
	Keywords        pq.StringArray `gorm:"type:text[]" json:"keywords"`
	RuleDescription string         `gorm:"type:text" json:"rule_description"`
	Examples        pq.StringArray `gorm:"type:text[]" json:"examples"`
	IsActive        bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (CustomGroup) TableName() string { return "custom_groups" }

// CustomGroupFilter represents filter criteria for custom group queries
type CustomGroupFilter struct {
	ID       *uint
	IDs      []uint
	PageID   *uint
	Name     *string
	IsActive *bool
}
