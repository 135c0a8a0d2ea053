// Package api exposes the game over HTTP. Handlers stay thin: decode and
// validate the payload, derive the caller's credential, call the service and
// translate its error kind into a status code.
package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"secretsanta/internal/monitoring"
	"secretsanta/internal/projection"
	"secretsanta/internal/service"
	"secretsanta/internal/validator"
)

type GameHandler struct {
	service   *service.GameService
	limiter   *service.RateLimiter
	validate  *validator.Validator
	telemetry monitoring.Telemetry
}

// NewGameHandler wires the HTTP surface. limiter may be nil when no redis is
// configured; throttling is then disabled.
func NewGameHandler(svc *service.GameService, limiter *service.RateLimiter, tel monitoring.Telemetry) GameHandler {
	return GameHandler{
		service:   svc,
		limiter:   limiter,
		validate:  validator.New(),
		telemetry: tel,
	}
}

func (h *GameHandler) RegisterRoutes(app *fiber.App) {
	games := app.Group("/api/games")
	games.Post("/", h.CreateGame)
	games.Get("/:code", h.GetGame)
	games.Patch("/:code", h.ApplyAction)
	games.Delete("/:code", h.DeleteGame)
	games.Post("/:code/join", h.JoinGame)
	games.Post("/:code/recover", h.RecoverOrganizerLink)
}

// credentialFrom derives the strongest credential present on the request.
// Organizer token wins over participant token, which wins over a bare
// participant id.
func credentialFrom(c *fiber.Ctx) projection.Credential {
	if token := headerOrQuery(c, "X-Organizer-Token", "organizer_token"); token != "" {
		return projection.OrganizerToken(token)
	}
	if token := headerOrQuery(c, "X-Participant-Token", "participant_token"); token != "" {
		return projection.ParticipantToken(token)
	}
	if raw := c.Query("participant_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return projection.ParticipantID(id)
		}
	}
	return projection.Anonymous{}
}

func headerOrQuery(c *fiber.Ctx, header, query string) string {
	if v := c.Get(header); v != "" {
		return v
	}
	return c.Query(query)
}

// respondError maps a service error kind onto an HTTP status. Unknown errors
// are treated as internal and their detail hidden from the client.
func (h *GameHandler) respondError(c *fiber.Ctx, err error) error {
	status := statusOf(service.KindOf(err))
	message := service.MessageOf(err)
	if status == fiber.StatusInternalServerError {
		h.telemetry.Logger().ErrorContext(c.Context(), "Request failed", "error", err, "path", c.Path())
		message = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return fiber.StatusBadRequest
	case service.KindUnauthorized:
		return fiber.StatusUnauthorized
	case service.KindForbidden:
		return fiber.StatusForbidden
	case service.KindNotFound:
		return fiber.StatusNotFound
	case service.KindConflict:
		return fiber.StatusConflict
	case service.KindUnprocessable:
		return fiber.StatusUnprocessableEntity
	case service.KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *GameHandler) checkLimit(c *fiber.Ctx, check func(ctx context.Context, ip string) error) error {
	if h.limiter == nil {
		return nil
	}
	err := check(c.Context(), c.IP())
	if err != nil && !errors.Is(err, service.ErrTooManyAttempts) {
		// Redis being down should not take game creation with it.
		h.telemetry.Logger().WarnContext(c.Context(), "Rate limiter unavailable", "error", err)
		return nil
	}
	return err
}

func (h *GameHandler) limiterCheckCreate(ctx context.Context, ip string) error {
	return h.limiter.CheckCreate(ctx, ip)
}

func (h *GameHandler) limiterCheckJoin(ctx context.Context, ip string) error {
	return h.limiter.CheckJoin(ctx, ip)
}

func (h *GameHandler) limiterCheckRecover(ctx context.Context, ip string) error {
	return h.limiter.CheckRecover(ctx, ip)
}
