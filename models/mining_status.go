package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MiningState is the sales follow-up state of a customer
type MiningState string

const (
	MiningStateNotMined  MiningState = "ยังไม่ขุด"
	MiningStateMined     MiningState = "ขุดแล้ว"
	MiningStateResponded MiningState = "มีการตอบกลับ"
)

func (s MiningState) String() string { return string(s) }

func (s MiningState) Valid() bool {
	switch s {
	case MiningStateNotMined, MiningStateMined, MiningStateResponded:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for MiningState
func (s *MiningState) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = ""
	case string:
		*s = MiningState(v)
	case []byte:
		*s = MiningState(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MiningState", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for MiningState
func (s MiningState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid MiningState: %s", s)
	}
	return string(s), nil
}

// MiningStatus is one append-only history row; the newest row is current.
type MiningStatus struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	CustomerID uint        `gorm:"not null;index:idx_mining_status_customer_time,priority:1" json:"customer_id"`
	Status     MiningState `gorm:"size:32;not null" json:"status"`
	Note       *string     `gorm:"type:text" json:"note,omitempty"`
	CreatedAt  time.Time   `gorm:"not null;index:idx_mining_status_customer_time,priority:2" json:"created_at"`
}

func (MiningStatus) TableName() string { return "fb_customer_mining_status" }

// MiningStatusFilter represents filter criteria for mining status queries
type MiningStatusFilter struct {
	ID            *uint
	CustomerID    *uint
	CustomerIDs   []uint
	Status        *MiningState
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
