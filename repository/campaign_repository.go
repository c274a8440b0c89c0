package repository

import (
	"context"

	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/gorm"
)

// CustomerTypeMessageRepositoryImpl implements the CustomerTypeMessageRepository interface
type CustomerTypeMessageRepositoryImpl struct {
	*BaseRepository[models.CustomerTypeMessage, models.CustomerTypeMessageFilter]
}

// NewCustomerTypeMessageRepository creates a new campaign step repository
func NewCustomerTypeMessageRepository(db *gorm.DB) CustomerTypeMessageRepository {
	return &CustomerTypeMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CustomerTypeMessage, models.CustomerTypeMessageFilter](db, applyCustomerTypeMessageFilter),
	}
}

// ByGroups retrieves the steps aimed at any of the given groups, in display order
func (r *CustomerTypeMessageRepositoryImpl) ByGroups(ctx context.Context, pageID uint, customGroupIDs, knowledgeBindingIDs []uint) ([]*models.CustomerTypeMessage, error) {
	if len(customGroupIDs) == 0 && len(knowledgeBindingIDs) == 0 {
		return nil, nil
	}

	query := r.getDB(ctx).Where("page_id = ?", pageID)
	switch {
	case len(customGroupIDs) > 0 && len(knowledgeBindingIDs) > 0:
		query = query.Where("custom_group_id IN ? OR knowledge_binding_id IN ?", customGroupIDs, knowledgeBindingIDs)
	case len(customGroupIDs) > 0:
		query = query.Where("custom_group_id IN ?", customGroupIDs)
	default:
		query = query.Where("knowledge_binding_id IN ?", knowledgeBindingIDs)
	}

	var steps []*models.CustomerTypeMessage
	if err := query.Order("display_order ASC, id ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func applyCustomerTypeMessageFilter(db *gorm.DB, filter models.CustomerTypeMessageFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if len(filter.CustomGroupIDs) > 0 {
		db = db.Where("custom_group_id IN ?", filter.CustomGroupIDs)
	}
	if len(filter.KnowledgeBindingIDs) > 0 {
		db = db.Where("knowledge_binding_id IN ?", filter.KnowledgeBindingIDs)
	}
	if filter.Kind != nil {
		db = db.Where("message_type = ?", *filter.Kind)
	}
	return db
}

// MessageScheduleRepositoryImpl implements the MessageScheduleRepository interface
type MessageScheduleRepositoryImpl struct {
	*BaseRepository[models.MessageSchedule, models.MessageScheduleFilter]
}

// NewMessageScheduleRepository creates a new schedule repository
func NewMessageScheduleRepository(db *gorm.DB) MessageScheduleRepository {
	return &MessageScheduleRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MessageSchedule, models.MessageScheduleFilter](db, applyMessageScheduleFilter),
	}
}

// ByPage retrieves the schedule definitions of a page with their steps
func (r *MessageScheduleRepositoryImpl) ByPage(ctx context.Context, pageID uint) ([]*models.MessageSchedule, error) {
	var schedules []*models.MessageSchedule
	err := r.getDB(ctx).
		Where("page_id = ?", pageID).
		Preload("CustomerTypeMessage").
		Order("id ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func applyMessageScheduleFilter(db *gorm.DB, filter models.MessageScheduleFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.CustomerTypeMessageID != nil {
		db = db.Where("customer_type_message_id = ?", *filter.CustomerTypeMessageID)
	}
	if filter.SendType != nil {
		db = db.Where("send_type = ?", *filter.SendType)
	}
	return db
}

// RetargetTierRepositoryImpl implements the RetargetTierRepository interface
type RetargetTierRepositoryImpl struct {
	*BaseRepository[models.RetargetTier, models.RetargetTierFilter]
}

// NewRetargetTierRepository creates a new retarget tier repository
func NewRetargetTierRepository(db *gorm.DB) RetargetTierRepository {
	return &RetargetTierRepositoryImpl{
		BaseRepository: NewBaseRepository[models.RetargetTier, models.RetargetTierFilter](db, applyRetargetTierFilter),
	}
}

// ByPage retrieves the tiers of a page ordered by threshold
func (r *RetargetTierRepositoryImpl) ByPage(ctx context.Context, pageID uint) ([]*models.RetargetTier, error) {
	return r.ByFilter(ctx, models.RetargetTierFilter{PageID: &pageID}, "days_since_last_contact ASC", 0, 0)
}

func applyRetargetTierFilter(db *gorm.DB, filter models.RetargetTierFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.TierName != nil {
		db = db.Where("tier_name = ?", *filter.TierName)
	}
	return db
}
