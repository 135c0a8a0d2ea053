package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"secretsanta/internal/repository"
)

type HealthHandler struct {
	repo repository.GameRepository
}

func NewHealthHandler(repo repository.GameRepository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Healthy reports whether the service and its database are reachable.
func (h *HealthHandler) Healthy(c *fiber.Ctx) error {
	if err := h.repo.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
