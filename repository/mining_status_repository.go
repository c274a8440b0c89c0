package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
)

// MiningStatusRepositoryImpl implements the MiningStatusRepository interface
type MiningStatusRepositoryImpl struct {
	*BaseRepository[models.MiningStatus, models.MiningStatusFilter]
}

// NewMiningStatusRepository creates a new mining status repository
func NewMiningStatusRepository(db *gorm.DB) MiningStatusRepository {
	return &MiningStatusRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MiningStatus, models.MiningStatusFilter](db, applyMiningStatusFilter),
	}
}

// LatestByCustomer returns the current (newest) status row of a customer
func (r *MiningStatusRepositoryImpl) LatestByCustomer(ctx context.Context, customerID uint) (*models.MiningStatus, error) {
	db := r.getDB(ctx)

	var status models.MiningStatus
	err := db.Where("customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// LatestByCustomers returns the current status row per customer id
func (r *MiningStatusRepositoryImpl) LatestByCustomers(ctx context.Context, customerIDs []uint) (map[uint]*models.MiningStatus, error) {
	out := make(map[uint]*models.MiningStatus, len(customerIDs))
	if len(customerIDs) == 0 {
		return out, nil
	}

	var rows []*models.MiningStatus
	err := r.getDB(ctx).
		Raw(`SELECT DISTINCT ON (customer_id) * FROM fb_customer_mining_status
			WHERE customer_id IN ? ORDER BY customer_id, created_at DESC, id DESC`, customerIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest mining statuses: %w", err)
	}

	for _, row := range rows {
		out[row.CustomerID] = row
	}
	return out, nil
}

// Compact deletes every history row except the newest per customer
func (r *MiningStatusRepositoryImpl) Compact(ctx context.Context) (int64, error) {
	var deleted int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Exec(`DELETE FROM fb_customer_mining_status m
			WHERE EXISTS (
				SELECT 1 FROM fb_customer_mining_status n
				WHERE n.customer_id = m.customer_id
				AND (n.created_at > m.created_at OR (n.created_at = m.created_at AND n.id > m.id))
			)`)
		if res.Error != nil {
			return fmt.Errorf("failed to compact mining status: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

func applyMiningStatusFilter(db *gorm.DB, filter models.MiningStatusFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if len(filter.CustomerIDs) > 0 {
		db = db.Where("customer_id IN ?", filter.CustomerIDs)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
