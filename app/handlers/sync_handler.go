package handlers

import (
	"context"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// syncTimeout bounds a manual import; historical imports walk every conversation
const syncTimeout = 5 * time.Minute

type SyncHandlerInterface interface {
	ImportCustomers(c fiber.Ctx) error
	SyncPage(c fiber.Ctx) error
}

type SyncHandler struct {
	base
	flow businessflow.SyncFlow
}

func NewSyncHandler(flow businessflow.SyncFlow, log *logrus.Logger) SyncHandlerInterface {
	return &SyncHandler{base: newBase(log), flow: flow}
}

// ImportCustomers builds customers from the page conversations
// @Router /sync/customers/{page_id} [post]
func (h *SyncHandler) ImportCustomers(c fiber.Ctx) error {
	req := dto.ImportCustomersRequest{
		PageID: c.Params("page_id"),
		Mode:   c.Query("mode", "recent"),
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), syncTimeout)
	defer cancel()
	res, err := h.flow.ImportCustomers(ctx, &req)
	if err != nil {
		return h.businessError(c, "import customers", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// SyncPage runs one ingest cycle now
// @Router /sync/page/{page_id} [post]
func (h *SyncHandler) SyncPage(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), syncTimeout)
	defer cancel()
	res, err := h.flow.SyncPage(ctx, c.Params("page_id"))
	if err != nil {
		return h.businessError(c, "sync page", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}
