package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SourceType tells whether a customer first wrote after the page was connected
type SourceType string

const (
	SourceTypeNew      SourceType = "new"
	SourceTypeImported SourceType = "imported"
)

func (s SourceType) String() string { return string(s) }

func (s SourceType) Valid() bool {
	return s == SourceTypeNew || s == SourceTypeImported
}

// Scan implements the sql.Scanner interface for SourceType
func (s *SourceType) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = ""
	case string:
		*s = SourceType(v)
	case []byte:
		*s = SourceType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SourceType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for SourceType
func (s SourceType) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SourceType: %s", s)
	}
	return string(s), nil
}

// SourceTypeFor classifies a first interaction against the page install time.
// The boundary instant counts as new.
func SourceTypeFor(firstInteraction, installedAt time.Time) SourceType {
	if firstInteraction.Before(installedAt) {
		return SourceTypeImported
	}
	return SourceTypeNew
}

// Customer is one PSID talking to one page.
type Customer struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	PageID                  uint       `gorm:"not null;uniqueIndex:uk_customers_page_psid,priority:1;index:idx_customers_page_id" json:"page_id"`
	PSID                    string     `gorm:"column:psid;size:64;not null;uniqueIndex:uk_customers_page_psid,priority:2" json:"psid"`
	Name                    string     `gorm:"size:255" json:"name"`
	FirstInteractionAt      *time.Time `json:"first_interaction_at,omitempty"`
	LastInteractionAt       *time.Time `gorm:"index:idx_customers_last_interaction_at" json:"last_interaction_at,omitempty"`
	SourceType              SourceType `gorm:"size:16;not null;default:'new'" json:"source_type"`
	CurrentCustomGroupID    *uint      `gorm:"column:current_custom_group;index:idx_customers_custom_group" json:"current_custom_group,omitempty"`
	CurrentKnowledgeGroupID *uint      `gorm:"column:current_knowledge_group;index:idx_customers_knowledge_group" json:"current_knowledge_group,omitempty"`
	CurrentRetargetTier     *string    `gorm:"size:64" json:"current_retarget_tier,omitempty"`
	CreatedAt               time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	Page *Page `gorm:"foreignKey:PageID;references:ID" json:"-"`
}

func (Customer) TableName() string {
	return "fb_customers"
}

// CustomerFilter represents filter criteria for customer queries
type CustomerFilter struct {
	ID                *uint
	IDs               []uint
	PageID            *uint
	PSID              *string
	PSIDs             []string
	SourceType        *SourceType
	KnowledgeGroupIDs []uint
	CustomGroupIDs    []uint
	InteractedAfter   *time.Time
	InteractedBefore  *time.Time
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
}
