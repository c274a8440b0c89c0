// Package handlers contains HTTP request handlers and presentation layer logic for the admin API
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	businessflow "github.com/ReZill392/Thesit-sub000/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// base carries the response envelope helpers shared by every handler
type base struct {
	validator *validator.Validate
	log       *logrus.Logger
}

func newBase(log *logrus.Logger) base {
	return base{validator: validator.New(), log: log}
}

func (h base) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h base) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response on failure.
// It returns true when the request may proceed.
func (h base) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// businessError maps a flow error onto a status code and writes the response
func (h base) businessError(c fiber.Ctx, op string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case businessflow.IsValidationError(err):
		status = fiber.StatusBadRequest
	case businessflow.IsPageNotFound(err),
		businessflow.IsScheduleNotFound(err),
		businessflow.IsKnowledgeBindingAbsent(err),
		businessflow.IsKnowledgeTypeNotFound(err),
		businessflow.IsCustomerNotFound(err):
		status = fiber.StatusNotFound
	case businessflow.IsSyncInProgress(err):
		status = fiber.StatusConflict
	case businessflow.IsInvalidTransition(err):
		status = fiber.StatusUnprocessableEntity
	case businessflow.IsTokenMissing(err), businessflow.IsSchedulerUnavailable(err):
		status = fiber.StatusServiceUnavailable
	}

	code := "INTERNAL_ERROR"
	message := fmt.Sprintf("Failed to %s", op)
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		code = be.Code
		message = be.Message
	}

	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"op":         op,
		"status":     status,
		"request_id": c.Get(businessflow.RequestIDKey),
	})
	if status >= fiber.StatusInternalServerError {
		entry.Error("admin request failed")
	} else {
		entry.Warn("admin request rejected")
	}

	var details any
	if inner := errors.Unwrap(err); inner != nil && status < fiber.StatusInternalServerError {
		details = inner.Error()
	}
	return h.ErrorResponse(c, status, message, code, details)
}

// requestContext derives a bounded context for one admin call
func requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), requestTimeout)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "gt":
		return err.Field() + " must be greater than " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "datetime":
		return err.Field() + " must match the layout " + err.Param()
	default:
		return err.Field() + " is invalid"
	}
}
