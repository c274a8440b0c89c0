package businessflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/ReZill392/Thesit-sub000/app/ingestor"
	"github.com/sirupsen/logrus"
)

// PageSyncer is the part of the ingestor the admin surface can drive
type PageSyncer interface {
	ImportCustomers(ctx context.Context, pageID string, mode ingestor.ImportMode) (*ingestor.ImportResult, error)
	SyncPage(ctx context.Context, pageID string) (*ingestor.CycleResult, error)
}

// SyncFlow handles customer imports and manual ingest cycles
type SyncFlow interface {
	ImportCustomers(ctx context.Context, req *dto.ImportCustomersRequest) (*dto.ImportCustomersResponse, error)
	SyncPage(ctx context.Context, pageID string) (*dto.SyncPageResponse, error)
}

type SyncFlowImpl struct {
	syncer PageSyncer
	log    *logrus.Logger
}

func NewSyncFlow(syncer PageSyncer, log *logrus.Logger) SyncFlow {
	return &SyncFlowImpl{syncer: syncer, log: log}
}

func (f *SyncFlowImpl) ImportCustomers(ctx context.Context, req *dto.ImportCustomersRequest) (*dto.ImportCustomersResponse, error) {
	mode := ingestor.ImportMode(req.Mode)
	if mode != ingestor.ImportRecent && mode != ingestor.ImportHistorical {
		return nil, NewBusinessError("INVALID_IMPORT_MODE", "Invalid import mode", ErrInvalidImportMode)
	}

	res, err := f.syncer.ImportCustomers(ctx, req.PageID, mode)
	if err != nil {
		return nil, syncError("Failed to import customers", err)
	}

	f.log.WithFields(logrus.Fields{
		"page_id":  req.PageID,
		"mode":     mode,
		"imported": res.Imported,
		"filtered": res.Filtered,
	}).Info("customers imported")

	return &dto.ImportCustomersResponse{
		Message:  fmt.Sprintf("%d customers imported", res.Imported),
		Mode:     string(res.Mode),
		Imported: res.Imported,
		Filtered: res.Filtered,
	}, nil
}

// SyncPage runs one ingest cycle for the page right away
func (f *SyncFlowImpl) SyncPage(ctx context.Context, pageID string) (*dto.SyncPageResponse, error) {
	res, err := f.syncer.SyncPage(ctx, pageID)
	if err != nil {
		return nil, syncError("Failed to sync page", err)
	}

	return &dto.SyncPageResponse{
		Message:       fmt.Sprintf("%s sync finished", res.Mode),
		Mode:          string(res.Mode),
		Conversations: res.Conversations,
		NewCustomers:  res.NewCustomers,
		Updates:       res.Updates,
	}, nil
}

func syncError(message string, err error) error {
	switch {
	case errors.Is(err, ingestor.ErrPageNotFound):
		return NewBusinessError("PAGE_NOT_FOUND", message, ErrPageNotFound)
	case errors.Is(err, ingestor.ErrTokenMissing):
		return NewBusinessError("TOKEN_MISSING", message, ErrTokenMissing)
	case errors.Is(err, ingestor.ErrCycleRunning):
		return NewBusinessError("SYNC_IN_PROGRESS", message, ErrSyncInProgress)
	default:
		return NewBusinessError("SYNC_FAILED", message, err)
	}
}
