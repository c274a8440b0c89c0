package businessflow

import (
	"context"
	"fmt"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/services"
	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/ReZill392/Thesit-sub000/utils"
	"github.com/sirupsen/logrus"
)

// MiningFlow owns the ยังไม่ขุด → ขุดแล้ว → มีการตอบกลับ state machine
type MiningFlow interface {
	UpdateIfNeeded(ctx context.Context, customerID uint, target models.MiningState, note *string) (bool, error)
	MarkReplied(ctx context.Context, customerID uint) (bool, error)
	MineBatch(ctx context.Context, req *dto.MineCustomersRequest) (*dto.MiningStatusResponse, error)
	ResetBatch(ctx context.Context, req *dto.ResetMiningStatusRequest) (*dto.MiningStatusResponse, error)
	Compact(ctx context.Context) (int64, error)
}

// MiningFlowImpl implements the mining status business flow
type MiningFlowImpl struct {
	pageRepo     repository.PageRepository
	customerRepo repository.CustomerRepository
	statusRepo   repository.MiningStatusRepository
	bus          services.ChangePublisher
	log          *logrus.Logger
}

func NewMiningFlow(
	pageRepo repository.PageRepository,
	customerRepo repository.CustomerRepository,
	statusRepo repository.MiningStatusRepository,
	bus services.ChangePublisher,
	log *logrus.Logger,
) MiningFlow {
	return &MiningFlowImpl{
		pageRepo:     pageRepo,
		customerRepo: customerRepo,
		statusRepo:   statusRepo,
		bus:          bus,
		log:          log,
	}
}

// canTransition encodes the allowed edges; a customer with no history counts as ยังไม่ขุด
func canTransition(from, to models.MiningState) bool {
	switch to {
	case models.MiningStateNotMined:
		return true
	case models.MiningStateMined:
		return from == models.MiningStateNotMined
	case models.MiningStateResponded:
		return from == models.MiningStateMined
	default:
		return false
	}
}

// UpdateIfNeeded appends target when it differs from the current state.
// It reports whether a row was written; a disallowed edge returns ErrInvalidTransition.
func (f *MiningFlowImpl) UpdateIfNeeded(ctx context.Context, customerID uint, target models.MiningState, note *string) (bool, error) {
	latest, err := f.statusRepo.LatestByCustomer(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to load mining status of customer %d: %w", customerID, err)
	}

	current := models.MiningStateNotMined
	if latest != nil {
		current = latest.Status
		if current == target {
			return false, nil
		}
	}
	if !canTransition(current, target) {
		return false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, target)
	}

	row := &models.MiningStatus{
		CustomerID: customerID,
		Status:     target,
		Note:       note,
		CreatedAt:  utils.UTCNow(),
	}
	if err := f.statusRepo.Save(ctx, row); err != nil {
		return false, fmt.Errorf("failed to append mining status of customer %d: %w", customerID, err)
	}
	return true, nil
}

// MarkReplied moves ขุดแล้ว to มีการตอบกลับ and is a no-op from any other state
func (f *MiningFlowImpl) MarkReplied(ctx context.Context, customerID uint) (bool, error) {
	latest, err := f.statusRepo.LatestByCustomer(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to load mining status of customer %d: %w", customerID, err)
	}
	if latest == nil || latest.Status != models.MiningStateMined {
		return false, nil
	}
	return f.UpdateIfNeeded(ctx, customerID, models.MiningStateResponded, nil)
}

func (f *MiningFlowImpl) MineBatch(ctx context.Context, req *dto.MineCustomersRequest) (*dto.MiningStatusResponse, error) {
	var note *string
	if req.Note != "" {
		note = &req.Note
	}
	return f.applyBatch(ctx, req.PageID, req.CustomerIDs, models.MiningStateMined, note)
}

func (f *MiningFlowImpl) ResetBatch(ctx context.Context, req *dto.ResetMiningStatusRequest) (*dto.MiningStatusResponse, error) {
	return f.applyBatch(ctx, req.PageID, req.CustomerIDs, models.MiningStateNotMined, nil)
}

func (f *MiningFlowImpl) applyBatch(ctx context.Context, pageID string, ids []uint, target models.MiningState, note *string) (*dto.MiningStatusResponse, error) {
	page, err := getPage(ctx, f.pageRepo, pageID)
	if err != nil {
		return nil, NewBusinessError("PAGE_LOOKUP_FAILED", "Failed to lookup page", err)
	}

	customers, err := f.customerRepo.ByFilter(ctx, models.CustomerFilter{PageID: &page.ID, IDs: ids}, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customers", err)
	}
	byID := make(map[uint]*models.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}

	resp := &dto.MiningStatusResponse{
		Status:  string(target),
		Changed: []uint{},
	}
	for _, id := range ids {
		customer, ok := byID[id]
		if !ok {
			resp.Rejected = append(resp.Rejected, id)
			continue
		}

		changed, err := f.UpdateIfNeeded(ctx, id, target, note)
		switch {
		case IsInvalidTransition(err):
			resp.Rejected = append(resp.Rejected, id)
		case err != nil:
			return nil, NewBusinessError("MINING_STATUS_UPDATE_FAILED", "Failed to update mining status", err)
		case changed:
			resp.Changed = append(resp.Changed, id)
			f.bus.Publish(services.ChangeEvent{
				Kind:       services.ChangeMiningStatus,
				PageID:     page.PageID,
				CustomerID: id,
				PSID:       customer.PSID,
				Name:       customer.Name,
				Status:     string(target),
			})
		default:
			resp.Unchanged = append(resp.Unchanged, id)
		}
	}

	resp.Message = fmt.Sprintf("%d customers moved to %s", len(resp.Changed), target)
	return resp, nil
}

// Compact trims every history row except the newest per customer
func (f *MiningFlowImpl) Compact(ctx context.Context) (int64, error) {
	deleted, err := f.statusRepo.Compact(ctx)
	if err != nil {
		return 0, err
	}
	f.log.WithField("deleted", deleted).Info("mining status history compacted")
	return deleted, nil
}
