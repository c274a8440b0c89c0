package repository

import (
	"context"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
)

// PageRepositoryImpl implements the PageRepository interface
type PageRepositoryImpl struct {
	*BaseRepository[models.Page, models.PageFilter]
}

// NewPageRepository creates a new page repository
func NewPageRepository(db *gorm.DB) PageRepository {
	return &PageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Page, models.PageFilter](db, applyPageFilter),
	}
}

// ByPageID retrieves a page by its Facebook page id
func (r *PageRepositoryImpl) ByPageID(ctx context.Context, pageID string) (*models.Page, error) {
	pages, err := r.ByFilter(ctx, models.PageFilter{PageID: &pageID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return pages[0], nil
}

// ListAll retrieves all connected pages
func (r *PageRepositoryImpl) ListAll(ctx context.Context) ([]*models.Page, error) {
	return r.ByFilter(ctx, models.PageFilter{}, "id ASC", 0, 0)
}

func applyPageFilter(db *gorm.DB, filter models.PageFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	return db
}
