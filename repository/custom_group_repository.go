package repository

import (
	"context"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
)

// CustomGroupRepositoryImpl implements the CustomGroupRepository interface
type CustomGroupRepositoryImpl struct {
	*BaseRepository[models.CustomGroup, models.CustomGroupFilter]
}

// NewCustomGroupRepository creates a new custom group repository
func NewCustomGroupRepository(db *gorm.DB) CustomGroupRepository {
	return &CustomGroupRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CustomGroup, models.CustomGroupFilter](db, applyCustomGroupFilter),
	}
}

// ActiveByPage retrieves the active custom groups of a page
func (r *CustomGroupRepositoryImpl) ActiveByPage(ctx context.Context, pageID uint) ([]*models.CustomGroup, error) {
	active := true
	return r.ByFilter(ctx, models.CustomGroupFilter{PageID: &pageID, IsActive: &active}, "id ASC", 0, 0)
}

func applyCustomGroupFilter(db *gorm.DB, filter models.CustomGroupFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		db = db.Where("id IN ?", filter.IDs)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.Name != nil {
		db = db.Where("name = ?", *filter.Name)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	return db
}
