package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerRepositoryImpl implements the CustomerRepository interface
type CustomerRepositoryImpl struct {
	*BaseRepository[models.Customer, models.CustomerFilter]
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &CustomerRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Customer, models.CustomerFilter](db, applyCustomerFilter),
	}
}

// ByPageAndPSID retrieves a customer by page surrogate id and PSID
func (r *CustomerRepositoryImpl) ByPageAndPSID(ctx context.Context, pageID uint, psid string) (*models.Customer, error) {
	customers, err := r.ByFilter(ctx, models.CustomerFilter{PageID: &pageID, PSID: &psid}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, nil
	}
	return customers[0], nil
}

// ListByPage retrieves every customer of a page
func (r *CustomerRepositoryImpl) ListByPage(ctx context.Context, pageID uint) ([]*models.Customer, error) {
	return r.ByFilter(ctx, models.CustomerFilter{PageID: &pageID}, "id ASC", 0, 0)
}

// ListByKnowledgeGroups retrieves the customers currently assigned to any of the given knowledge types
func (r *CustomerRepositoryImpl) ListByKnowledgeGroups(ctx context.Context, pageID uint, knowledgeTypeIDs []uint) ([]*models.Customer, error) {
	if len(knowledgeTypeIDs) == 0 {
		return nil, nil
	}
	return r.ByFilter(ctx, models.CustomerFilter{PageID: &pageID, KnowledgeGroupIDs: knowledgeTypeIDs}, "id ASC", 0, 0)
}

// ApplyLastInteraction bumps last_interaction_at for each (page, psid), never moving it backwards.
// Duplicate keys collapse to their latest time.
func (r *CustomerRepositoryImpl) ApplyLastInteraction(ctx context.Context, updates []LastInteractionUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	type key struct {
		pageID uint
		psid   string
	}
	latest := make(map[key]LastInteractionUpdate, len(updates))
	for _, u := range updates {
		k := key{u.PageID, u.PSID}
		if cur, ok := latest[k]; !ok || u.LastInteractionAt.After(cur.LastInteractionAt) {
			latest[k] = u
		}
	}

	collapsed := make([]LastInteractionUpdate, 0, len(latest))
	for _, u := range latest {
		collapsed = append(collapsed, u)
	}
	sort.Slice(collapsed, func(i, j int) bool {
		if collapsed[i].PageID != collapsed[j].PageID {
			return collapsed[i].PageID < collapsed[j].PageID
		}
		return collapsed[i].PSID < collapsed[j].PSID
	})

	var affected int64
	err := r.write(ctx, func(db *gorm.DB) error {
		now := utils.UTCNow()
		for _, u := range collapsed {
			res := db.Model(&models.Customer{}).
				Where("page_id = ? AND psid = ?", u.PageID, u.PSID).
				Where("last_interaction_at IS NULL OR last_interaction_at < ?", u.LastInteractionAt).
				Updates(map[string]any{
					"last_interaction_at": u.LastInteractionAt,
					"updated_at":          now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to update last interaction for %s: %w", u.PSID, res.Error)
			}
			affected += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// UpsertImported inserts customers or widens the interaction window of existing ones
func (r *CustomerRepositoryImpl) UpsertImported(ctx context.Context, customers []*models.Customer) error {
	if len(customers) == 0 {
		return nil
	}

	return r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "page_id"}, {Name: "psid"}},
			DoUpdates: clause.Assignments(map[string]any{
				"name":                 gorm.Expr("COALESCE(NULLIF(EXCLUDED.name, ''), fb_customers.name)"),
				"first_interaction_at": gorm.Expr("LEAST(fb_customers.first_interaction_at, EXCLUDED.first_interaction_at)"),
				"last_interaction_at":  gorm.Expr("GREATEST(fb_customers.last_interaction_at, EXCLUDED.last_interaction_at)"),
				"updated_at":           utils.UTCNow(),
			}),
		}).CreateInBatches(customers, 100).Error
	})
}

// AssignGroup writes the current custom or knowledge group of a customer
func (r *CustomerRepositoryImpl) AssignGroup(ctx context.Context, customerID uint, kind models.GroupKind, groupID uint) error {
	column := "current_knowledge_group"
	if kind == models.GroupKindCustom {
		column = "current_custom_group"
	}

	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Customer{}).
			Where("id = ?", customerID).
			Updates(map[string]any{
				column:       groupID,
				"updated_at": utils.UTCNow(),
			}).Error
	})
}

// UpdateRetargetTier persists the computed retarget tier (nil clears it)
func (r *CustomerRepositoryImpl) UpdateRetargetTier(ctx context.Context, customerID uint, tier *string) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Customer{}).
			Where("id = ?", customerID).
			Update("current_retarget_tier", tier).Error
	})
}

func applyCustomerFilter(db *gorm.DB, filter models.CustomerFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		db = db.Where("id IN ?", filter.IDs)
	}
	if filter.PageID != nil {
		db = db.Where("page_id = ?", *filter.PageID)
	}
	if filter.PSID != nil {
		db = db.Where("psid = ?", *filter.PSID)
	}
	if len(filter.PSIDs) > 0 {
		db = db.Where("psid IN ?", filter.PSIDs)
	}
	if filter.SourceType != nil {
		db = db.Where("source_type = ?", *filter.SourceType)
	}
	if len(filter.KnowledgeGroupIDs) > 0 {
		db = db.Where("current_knowledge_group IN ?", filter.KnowledgeGroupIDs)
	}
	if len(filter.CustomGroupIDs) > 0 {
		db = db.Where("current_custom_group IN ?", filter.CustomGroupIDs)
	}
	if filter.InteractedAfter != nil {
		db = db.Where("last_interaction_at >= ?", *filter.InteractedAfter)
	}
	if filter.InteractedBefore != nil {
		db = db.Where("last_interaction_at < ?", *filter.InteractedBefore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}
	return db
}
