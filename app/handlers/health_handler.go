package handlers

import (
	"context"
	"time"

	"github.com/ReZill392/Thesit-sub000/app/dto"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	base
	database HealthCheck
	redis    HealthCheck
}

func NewHealthHandler(database, redis HealthCheck, log *logrus.Logger) *HealthHandler {
	return &HealthHandler{base: newBase(log), database: database, redis: redis}
}

// Health reports database and redis reachability; 503 when either is down
// @Router /health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	res := dto.HealthResponse{
		Status:   "ok",
		Database: h.probe(ctx, "database", h.database),
		Redis:    h.probe(ctx, "redis", h.redis),
	}
	if res.Database == "down" || res.Redis == "down" {
		res.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: "Service is degraded",
			Data:    res,
		})
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Service is healthy", res)
}

func (h *HealthHandler) probe(ctx context.Context, name string, check HealthCheck) string {
	if check == nil {
		return "disabled"
	}
	if err := check(ctx); err != nil {
		h.log.WithError(err).WithField("dependency", name).Warn("health check failed")
		return "down"
	}
	return "ok"
}
