package handlers

import (
	"github.com/ReZill392/Thesit-sub000/app/dto"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// ScheduleHandlerInterface defines the contract for campaign schedule handlers
type ScheduleHandlerInterface interface {
	Activate(c fiber.Ctx) error
	Deactivate(c fiber.Ctx) error
	DeactivateKnowledgeGroup(c fiber.Ctx) error
	ReactivateKnowledgeGroup(c fiber.Ctx) error
	ListActive(c fiber.Ctx) error
	Reload(c fiber.Ctx) error
	UpdateUserInactivity(c fiber.Ctx) error
}

// ScheduleHandler handles the in-memory campaign scheduler endpoints
type ScheduleHandler struct {
	base
	flow businessflow.ScheduleFlow
}

func NewScheduleHandler(flow businessflow.ScheduleFlow, log *logrus.Logger) ScheduleHandlerInterface {
	return &ScheduleHandler{base: newBase(log), flow: flow}
}

// Activate registers a schedule
// @Router /schedule/activate [post]
func (h *ScheduleHandler) Activate(c fiber.Ctx) error {
	var req dto.ActivateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.Activate(ctx, &req)
	if err != nil {
		return h.businessError(c, "activate schedule", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// Deactivate removes a schedule
// @Router /schedule/deactivate [post]
func (h *ScheduleHandler) Deactivate(c fiber.Ctx) error {
	var req dto.DeactivateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.Deactivate(ctx, &req)
	if err != nil {
		return h.businessError(c, "deactivate schedule", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// DeactivateKnowledgeGroup parks the schedules of a knowledge group
// @Router /schedule/deactivate-knowledge-group [post]
func (h *ScheduleHandler) DeactivateKnowledgeGroup(c fiber.Ctx) error {
	return h.toggleKnowledge(c, false)
}

// ReactivateKnowledgeGroup restores the schedules of a knowledge group
// @Router /schedule/reactivate-knowledge-group [post]
func (h *ScheduleHandler) ReactivateKnowledgeGroup(c fiber.Ctx) error {
	return h.toggleKnowledge(c, true)
}

func (h *ScheduleHandler) toggleKnowledge(c fiber.Ctx, enable bool) error {
	var req dto.KnowledgeGroupToggleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var (
		res *dto.KnowledgeGroupToggleResponse
		err error
	)
	if enable {
		res, err = h.flow.ReactivateKnowledgeGroup(ctx, &req)
	} else {
		res, err = h.flow.DeactivateKnowledgeGroup(ctx, &req)
	}
	if err != nil {
		return h.businessError(c, "toggle knowledge group", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// ListActive returns the in-memory schedules of a page
// @Router /schedule/active/{page_id} [get]
func (h *ScheduleHandler) ListActive(c fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.ListActive(ctx, c.Params("page_id"))
	if err != nil {
		return h.businessError(c, "list schedules", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Active schedules retrieved", res)
}

// Reload activates the stored schedule definitions of a page
// @Router /schedule/reload/{page_id} [post]
func (h *ScheduleHandler) Reload(c fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.Reload(ctx, c.Params("page_id"))
	if err != nil {
		return h.businessError(c, "reload schedules", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}

// UpdateUserInactivity feeds frontend inactivity hints
// @Router /update-user-inactivity/{page_id} [post]
func (h *ScheduleHandler) UpdateUserInactivity(c fiber.Ctx) error {
	var req dto.UpdateUserInactivityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.PageID = c.Params("page_id")
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.flow.UpdateInactivity(ctx, &req)
	if err != nil {
		return h.businessError(c, "update user inactivity", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, res.Message, res)
}
