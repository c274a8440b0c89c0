package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerMessageRepositoryImpl implements the CustomerMessageRepository interface
type CustomerMessageRepositoryImpl struct {
	*BaseRepository[models.CustomerMessage, models.CustomerMessageFilter]
}

// NewCustomerMessageRepository creates a new customer message repository
func NewCustomerMessageRepository(db *gorm.DB) CustomerMessageRepository {
	return &CustomerMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CustomerMessage, models.CustomerMessageFilter](db, applyCustomerMessageFilter),
	}
}

// SaveIgnoringDuplicates inserts messages, skipping rows that collide on (conversation_id, sender_id, created_at)
func (r *CustomerMessageRepositoryImpl) SaveIgnoringDuplicates(ctx context.Context, messages []*models.CustomerMessage) (int64, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&messages)
		if res.Error != nil {
			return fmt.Errorf("failed to save messages: %w", res.Error)
		}
		inserted = res.RowsAffected
		return nil
	})
	return inserted, err
}

// LatestFromCustomer returns the newest message written by the customer, optionally after a point in time
func (r *CustomerMessageRepositoryImpl) LatestFromCustomer(ctx context.Context, customerID uint, after *time.Time) (*models.CustomerMessage, error) {
	db := r.getDB(ctx)

	query := db.Where("customer_id = ?", customerID)
	if after != nil {
		query = query.Where("created_at > ?", *after)
	}

	var msg models.CustomerMessage
	err := query.Order("created_at DESC").First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func applyCustomerMessageFilter(db *gorm.DB, filter models.CustomerMessageFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.ConversationID != nil {
		db = db.Where("conversation_id = ?", *filter.ConversationID)
	}
	if filter.SenderID != nil {
		db = db.Where("sender_id = ?", *filter.SenderID)
	}
	if filter.Kind != nil {
		db = db.Where("message_type = ?", *filter.Kind)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
