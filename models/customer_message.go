package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageKind is the shape of an inbound Messenger message
type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindAttachment MessageKind = "attachment"
	MessageKindUnknown    MessageKind = "unknown"
)

// CustomerMessage is an append-only copy of one message seen on Graph.
type CustomerMessage struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PageID         uint           `gorm:"not null;index:idx_customer_messages_page_id" json:"page_id"`
	CustomerID     *uint          `gorm:"index:idx_customer_messages_customer_id" json:"customer_id,omitempty"`
	ConversationID string         `gorm:"size:128;not null;uniqueIndex:uk_customer_messages_dedup,priority:1" json:"conversation_id"`
	SenderID       string         `gorm:"size:64;not null;uniqueIndex:uk_customer_messages_dedup,priority:2" json:"sender_id"`
	SenderName     string         `gorm:"size:255" json:"sender_name"`
	MessageID      string         `gorm:"size:128;index:idx_customer_messages_message_id" json:"message_id"`
	Text           string         `gorm:"type:text" json:"text"`
	Kind           MessageKind    `gorm:"column:message_type;size:16;not null;default:'unknown'" json:"message_type"`
	AttachmentURL  *string        `gorm:"type:text" json:"attachment_url,omitempty"`
	Attachments    datatypes.JSON `gorm:"type:jsonb" json:"attachments,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;uniqueIndex:uk_customer_messages_dedup,priority:3" json:"created_at"`
}

func (CustomerMessage) TableName() string { return "customer_messages" }

// CustomerMessageFilter represents filter criteria for message queries
type CustomerMessageFilter struct {
	ID             *uint
	PageID         *uint
	CustomerID     *uint
	ConversationID *string
	SenderID       *string
	Kind           *MessageKind
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
