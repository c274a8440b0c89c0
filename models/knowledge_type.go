package models

import (
	"time"

	"github.com/lib/pq"
)

// KnowledgeType is an entry in the global classification catalog.
type KnowledgeType struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"size:255;not null;uniqueIndex:uk_knowledge_types_name" json:"name"`
	RuleDescription string         `gorm:"type:text" json:"rule_description"`
	Examples        pq.StringArray `gorm:"type:text[]" json:"examples"`
	Keywords        pq.StringArray `gorm:"type:text[]" json:"keywords"`
	SupportsImage   bool           `gorm:"default:false" json:"supports_image"`
	CreatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (KnowledgeType) TableName() string { return "knowledge_types" }

// PageKnowledgeBinding enables a catalog entry for one page.
type PageKnowledgeBinding struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PageID          uint      `gorm:"not null;uniqueIndex:uk_page_knowledge,priority:1" json:"page_id"`
	KnowledgeTypeID uint      `gorm:"not null;uniqueIndex:uk_page_knowledge,priority:2" json:"knowledge_type_id"`
	IsEnabled       bool      `gorm:"not null;default:true" json:"is_enabled"`
	CreatedAt       time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt       time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	KnowledgeType *KnowledgeType `gorm:"foreignKey:KnowledgeTypeID;references:ID" json:"knowledge_type,omitempty"`
}

func (PageKnowledgeBinding) TableName() string { return "page_knowledge_bindings" }

// PageKnowledgeBindingFilter represents filter criteria for binding queries
type PageKnowledgeBindingFilter struct {
	ID               *uint
	PageID           *uint
	KnowledgeTypeID  *uint
	KnowledgeTypeIDs []uint
	IsEnabled        *bool
}

// KnowledgeTypeFilter represents filter criteria for catalog queries
type KnowledgeTypeFilter struct {
	ID   *uint
	IDs  []uint
	Name *string
}
