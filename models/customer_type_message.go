package models

import "time"

// StepKind is the payload kind of one campaign step
type StepKind string

const (
	StepKindText  StepKind = "text"
	StepKindImage StepKind = "image"
	StepKindVideo StepKind = "video"
)

func (k StepKind) Valid() bool {
	switch k {
	case StepKindText, StepKindImage, StepKindVideo:
		return true
	default:
		return false
	}
}

// CustomerTypeMessage is one step of a campaign aimed at exactly one group.
type CustomerTypeMessage struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	PageID             uint      `gorm:"not null;index:idx_customer_type_messages_page_id" json:"page_id"`
	CustomGroupID      *uint     `gorm:"index:idx_customer_type_messages_custom_group" json:"custom_group_id,omitempty"`
	KnowledgeBindingID *uint     `gorm:"index:idx_customer_type_messages_knowledge_binding" json:"knowledge_binding_id,omitempty"`
	Kind               StepKind  `gorm:"column:message_type;size:16;not null" json:"message_type"`
	Content            string    `gorm:"type:text;not null" json:"content"`
	DisplayOrder       int       `gorm:"not null;default:0" json:"display_order"`
	CreatedAt          time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt          time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (CustomerTypeMessage) TableName() string { return "customer_type_messages" }

// Validate checks that exactly one group reference is set.
func (m CustomerTypeMessage) Validate() error {
	if (m.CustomGroupID == nil) == (m.KnowledgeBindingID == nil) {
		return ErrAmbiguousGroupReference
	}
	if !m.Kind.Valid() {
		return ErrInvalidStepKind
	}
	return nil
}

// CustomerTypeMessageFilter represents filter criteria for campaign step queries
type CustomerTypeMessageFilter struct {
	ID                  *uint
	PageID              *uint
	CustomGroupIDs      []uint
	KnowledgeBindingIDs []uint
	Kind                *StepKind
}
