package models

import "time"

// GroupKind distinguishes the two segmentations a customer can belong to
type GroupKind string

const (
	GroupKindKnowledge GroupKind = "knowledge"
	GroupKindCustom    GroupKind = "custom"
)

func (k GroupKind) Valid() bool {
	return k == GroupKindKnowledge || k == GroupKindCustom
}

// ClassificationSource records which stage of the pipeline produced a decision
type ClassificationSource string

const (
	ClassificationSourceKeyword  ClassificationSource = "keyword"
	ClassificationSourceLLM      ClassificationSource = "llm"
	ClassificationSourceVision   ClassificationSource = "vision"
	ClassificationSourceDispatch ClassificationSource = "dispatch"
)

// Classification is one append-only group assignment of a customer.
type Classification struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	CustomerID   uint                 `gorm:"not null;index:idx_classifications_customer_time,priority:1" json:"customer_id"`
	GroupKind    GroupKind            `gorm:"size:16;not null;default:'knowledge'" json:"group_kind"`
	OldGroupID   *uint                `gorm:"column:old_group" json:"old_group,omitempty"`
	NewGroupID   uint                 `gorm:"column:new_group;not null" json:"new_group"`
	Source       ClassificationSource `gorm:"size:16" json:"source"`
	ClassifierID string               `gorm:"size:64" json:"classifier_id"`
	ClassifiedAt time.Time            `gorm:"not null;index:idx_classifications_customer_time,priority:2" json:"classified_at"`
}

func (Classification) TableName() string { return "customer_classifications" }

// ClassificationFilter represents filter criteria for classification queries
type ClassificationFilter struct {
	ID               *uint
	CustomerID       *uint
	GroupKind        *GroupKind
	ClassifiedAfter  *time.Time
	ClassifiedBefore *time.Time
}
