package models

import "time"

// Retarget tier names
const (
	RetargetTierGone         = "หาย"
	RetargetTierGoneLong     = "หายนาน"
	RetargetTierGoneVeryLong = "หายนานมากๆ"
)

// RetargetTier is a per-page threshold on days since last contact.
type RetargetTier struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	PageID               uint      `gorm:"not null;uniqueIndex:uk_retarget_tiers_page_name,priority:1" json:"page_id"`
	TierName             string    `gorm:"size:64;not null;uniqueIndex:uk_retarget_tiers_page_name,priority:2" json:"tier_name"`
	DaysSinceLastContact int       `gorm:"not null;check:days_since_last_contact > 0" json:"days_since_last_contact"`
	CreatedAt            time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt            time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (RetargetTier) TableName() string { return "retarget_tiers" }

// RetargetTierFilter represents filter criteria for tier queries
type RetargetTierFilter struct {
	ID       *uint
	PageID   *uint
	TierName *string
}
