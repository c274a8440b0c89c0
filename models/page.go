// Package models contains domain entities for the messenger automation backend
package models

import "time"

// Page is a connected Facebook Page.
type Page struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PageID    string    `gorm:"size:64;not null;uniqueIndex:uk_pages_page_id" json:"page_id"`
	Name      string    `gorm:"size:255" json:"name"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Page) TableName() string { return "facebook_pages" }

// InstalledAt returns the moment the page was connected, in UTC.
func (p Page) InstalledAt() time.Time {
	return p.CreatedAt.UTC()
}

// PageFilter represents filter criteria for page queries
type PageFilter struct {
	ID     *uint
	PageID *string
}
