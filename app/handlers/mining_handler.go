package handlers

import (
	"github.com/ReZill392/Thesit-sub000/app/dto"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

type MiningHandlerInterface interface {
	Mine(c fiber.Ctx) error
	Reset(c fiber.Ctx) error
}

// MiningHandler exposes the admin side of the mining status state machine
type MiningHandler struct {
	base
	flow businessflow.MiningFlow
}

func NewMiningHandler(flow businessflow.MiningFlow, log *logrus.Logger) MiningHandlerInterface {
	return &MiningHandler{base: newBase(log), flow: flow}
}

// Mine moves customers to ขุดแล้ว
// @Router /mining-status/mine/{page_id} [post]
func (h *MiningHandler) Mine(c fiber.Ctx) error {
	var req dto.MineCustomersRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.PageID = c.Params("page_id")
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.MineBatch(ctx, &req)
	if err != nil {
		return h.businessError(c, "mine customers", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// Reset moves customers back to ยังไม่ขุด
// @Router /mining-status/reset/{page_id} [post]
func (h *MiningHandler) Reset(c fiber.Ctx) error {
	var req dto.ResetMiningStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.PageID = c.Params("page_id")
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.ResetBatch(ctx, &req)
	if err != nil {
		return h.businessError(c, "reset mining status", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}
