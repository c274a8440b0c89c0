package repository

import (
	"context"
	"errors"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
)

// ClassificationRepositoryImpl implements the ClassificationRepository interface
type ClassificationRepositoryImpl struct {
	*BaseRepository[models.Classification, models.ClassificationFilter]
}

// NewClassificationRepository creates a new classification repository
func NewClassificationRepository(db *gorm.DB) ClassificationRepository {
	return &ClassificationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Classification, models.ClassificationFilter](db, applyClassificationFilter),
	}
}

// LatestByCustomer returns the newest classification of the given kind
func (r *ClassificationRepositoryImpl) LatestByCustomer(ctx context.Context, customerID uint, kind models.GroupKind) (*models.Classification, error) {
	db := r.getDB(ctx)

	var c models.Classification
	err := db.Where("customer_id = ? AND group_kind = ?", customerID, kind).
		Order("classified_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func applyClassificationFilter(db *gorm.DB, filter models.ClassificationFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CustomerID != nil {
		db = db.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.GroupKind != nil {
		db = db.Where("group_kind = ?", *filter.GroupKind)
	}
	if filter.ClassifiedAfter != nil {
		db = db.Where("classified_at > ?", *filter.ClassifiedAfter)
	}
	if filter.ClassifiedBefore != nil {
		db = db.Where("classified_at < ?", *filter.ClassifiedBefore)
	}
	return db
}
