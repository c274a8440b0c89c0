package repository

import (
	"context"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KnowledgeTypeRepositoryImpl implements the KnowledgeTypeRepository interface
type KnowledgeTypeRepositoryImpl struct {
	*BaseRepository[models.KnowledgeType, models.KnowledgeTypeFilter]
}

// NewKnowledgeTypeRepository creates a new knowledge type repository
func NewKnowledgeTypeRepository(db *gorm.DB) KnowledgeTypeRepository {
	return &KnowledgeTypeRepositoryImpl{
		BaseRepository: NewBaseRepository[models.KnowledgeType, models.KnowledgeTypeFilter](db, applyKnowledgeTypeFilter),
	}
}

// ByName retrieves a catalog entry by name
func (r *KnowledgeTypeRepositoryImpl) ByName(ctx context.Context, name string) (*models.KnowledgeType, error) {
	kts, err := r.ByFilter(ctx, models.KnowledgeTypeFilter{Name: &name}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(kts) == 0 {
		return nil, nil
	}
	return kts[0], nil
}

// UpsertByName inserts a catalog entry or refreshes the one with the same name
func (r *KnowledgeTypeRepositoryImpl) UpsertByName(ctx context.Context, kt *models.KnowledgeType) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"rule_description": kt.RuleDescription,
				"examples":         kt.Examples,
				"keywords":         kt.Keywords,
				"supports_image":   kt.SupportsImage,
				"updated_at":       utils.UTCNow(),
			}),
		}).Create(kt).Error
	})
}

func applyKnowledgeTypeFilter(db *gorm.DB, filter models.KnowledgeTypeFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		db = db.Where("id IN ?", filter.IDs)
	}
	if filter.Name != nil {
		db = db.Where("name = ?", *filter.Name)
	}
	return db
}

// PageKnowledgeBindingRepositoryImpl implements the PageKnowledgeBindingRepository interface
type PageKnowledgeBindingRepositoryImpl struct {
	*BaseRepository[models.PageKnowledgeBinding, models.PageKnowledgeBindingFilter]
}

// NewPageKnowledgeBindingRepository creates a new binding repository
func NewPageKnowledgeBindingRepository(db *gorm.DB) PageKnowledgeBindingRepository {
	return &PageKnowledgeBindingRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PageKnowledgeBinding, models.PageKnowledgeBindingFilter](db, applyBindingFilter),
	}
}

// EnabledByPage retrieves the enabled bindings of a page with their catalog entries
func (r *PageKnowledgeBindingRepositoryImpl) EnabledByPage(ctx context.Context, pageID uint) ([]*models.PageKnowledgeBinding, error) {
	enabled := true
	query := applyBindingFilter(r.getDB(ctx), models.PageKnowledgeBindingFilter{PageID: &pageID, IsEnabled: &enabled})

	var bindings []*models.PageKnowledgeBinding
	if err := query.Preload("KnowledgeType").Order("knowledge_type_id ASC").Find(&bindings).Error; err != nil {
		return nil, err
	}
	return bindings, nil
}

// ByPageAndType retrieves a single binding
func (r *PageKnowledgeBindingRepositoryImpl) ByPageAndType(ctx context.Context, pageID, knowledgeTypeID uint) (*models.PageKnowledgeBinding, error) {
	bindings, err := r.ByFilter(ctx, models.PageKnowledgeBindingFilter{PageID: &pageID, KnowledgeTypeID: &knowledgeTypeID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, nil
	}
	return bindings[0], nil
}

// SetEnabled toggles a binding, creating it when missing
func (r *PageKnowledgeBindingRepositoryImpl) SetEnabled(ctx context.Context, pageID, knowledgeTypeID uint, enabled bool) error {
	binding := &models.PageKnowledgeBinding{PageID: pageID, KnowledgeTypeID: knowledgeTypeID, IsEnabled: enabled}
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "page_id"}, {Name: "knowledge_type_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_enabled": enabled,
				"updated_at": utils.UTCNow(),
			}),
		}).Create(binding).Error
	})
}

func applyBindingFilter(db *gorm.DB, filter models.PageKnowledgeBindingFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.KnowledgeTypeID != nil {
		db = db.Where("knowledge_type_id = ?", *filter.KnowledgeTypeID)
	}
	if len(filter.KnowledgeTypeIDs) > 0 {
		db = db.Where("knowledge_type_id IN ?", filter.KnowledgeTypeIDs)
	}
	if filter.IsEnabled != nil {
		db = db.Where("is_enabled = ?", *filter.IsEnabled)
	}
	return db
}
