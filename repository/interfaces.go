// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/ReZill392/Thesit-sub000/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// PageRepository defines operations for connected pages
type PageRepository interface {
	Repository[models.Page, models.PageFilter]
	ByPageID(ctx context.Context, pageID string) (*models.Page, error)
	ListAll(ctx context.Context) ([]*models.Page, error)
}

// LastInteractionUpdate is one queued last_interaction_at bump
type LastInteractionUpdate struct {
	PageID            uint
	PSID              string
	LastInteractionAt time.Time
}

// CustomerRepository defines operations for page customers
type CustomerRepository interface {
	Repository[models.Customer, models.CustomerFilter]
	ByPageAndPSID(ctx context.Context, pageID uint, psid string) (*models.Customer, error)
	ListByPage(ctx context.Context, pageID uint) ([]*models.Customer, error)
	ListByKnowledgeGroups(ctx context.Context, pageID uint, knowledgeTypeIDs []uint) ([]*models.Customer, error)
	ApplyLastInteraction(ctx context.Context, updates []LastInteractionUpdate) (int64, error)
	UpsertImported(ctx context.Context, customers []*models.Customer) error
	AssignGroup(ctx context.Context, customerID uint, kind models.GroupKind, groupID uint) error
	UpdateRetargetTier(ctx context.Context, customerID uint, tier *string) error
}

// CustomerMessageRepository defines operations for stored messages
type CustomerMessageRepository interface {
	Repository[models.CustomerMessage, models.CustomerMessageFilter]
	SaveIgnoringDuplicates(ctx context.Context, messages []*models.CustomerMessage) (int64, error)
	LatestFromCustomer(ctx context.Context, customerID uint, after *time.Time) (*models.CustomerMessage, error)
}

// KnowledgeTypeRepository defines operations for the global catalog
type KnowledgeTypeRepository interface {
	Repository[models.KnowledgeType, models.KnowledgeTypeFilter]
	ByName(ctx context.Context, name string) (*models.KnowledgeType, error)
	UpsertByName(ctx context.Context, kt *models.KnowledgeType) error
}

// PageKnowledgeBindingRepository defines operations for per-page catalog bindings
type PageKnowledgeBindingRepository interface {
	Repository[models.PageKnowledgeBinding, models.PageKnowledgeBindingFilter]
	EnabledByPage(ctx context.Context, pageID uint) ([]*models.PageKnowledgeBinding, error)
	ByPageAndType(ctx context.Context, pageID, knowledgeTypeID uint) (*models.PageKnowledgeBinding, error)
	SetEnabled(ctx context.Context, pageID, knowledgeTypeID uint, enabled bool) error
}

// CustomGroupRepository defines operations for page-authored groups
type CustomGroupRepository interface {
	Repository[models.CustomGroup, models.CustomGroupFilter]
	ActiveByPage(ctx context.Context, pageID uint) ([]*models.CustomGroup, error)
}

// ClassificationRepository defines operations for classification history
type ClassificationRepository interface {
	Repository[models.Classification, models.ClassificationFilter]
	LatestByCustomer(ctx context.Context, customerID uint, kind models.GroupKind) (*models.Classification, error)
}

// MiningStatusRepository defines operations for mining status history
type MiningStatusRepository interface {
	Repository[models.MiningStatus, models.MiningStatusFilter]
	LatestByCustomer(ctx context.Context, customerID uint) (*models.MiningStatus, error)
	LatestByCustomers(ctx context.Context, customerIDs []uint) (map[uint]*models.MiningStatus, error)
	Compact(ctx context.Context) (int64, error)
}

// CustomerTypeMessageRepository defines operations for campaign steps
type CustomerTypeMessageRepository interface {
	Repository[models.CustomerTypeMessage, models.CustomerTypeMessageFilter]
	ByGroups(ctx context.Context, pageID uint, customGroupIDs, knowledgeBindingIDs []uint) ([]*models.CustomerTypeMessage, error)
}

// MessageScheduleRepository defines operations for schedule definitions
type MessageScheduleRepository interface {
	Repository[models.MessageSchedule, models.MessageScheduleFilter]
	ByPage(ctx context.Context, pageID uint) ([]*models.MessageSchedule, error)
}

// RetargetTierRepository defines operations for retarget tier thresholds
type RetargetTierRepository interface {
	Repository[models.RetargetTier, models.RetargetTierFilter]
	ByPage(ctx context.Context, pageID uint) ([]*models.RetargetTier, error)
}
