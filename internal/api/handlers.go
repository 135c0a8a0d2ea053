package api

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"secretsanta/internal/model"
	"secretsanta/internal/projection"
	"secretsanta/internal/validator"
)

// CreateGame creates a game with its initial assignment cycle and returns
// the organizer projection, organizer token included. This response is the
// only time the token is handed out unprompted.
func (h *GameHandler) CreateGame(c *fiber.Ctx) error {
	if err := h.checkLimit(c, h.limiterCheckCreate); err != nil {
		return h.respondError(c, err)
	}

	var req model.CreateGameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := h.validate.Validate(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validator.Message(err),
		})
	}

	game, err := h.service.Create(c.Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}

	view, err := projection.Project(game, projection.OrganizerToken(game.OrganizerToken))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// GetGame returns the credential-scoped view of a game.
func (h *GameHandler) GetGame(c *fiber.Ctx) error {
	view, err := h.service.Get(c.Context(), c.Params("code"), credentialFrom(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(view)
}

// ApplyAction decodes the tagged action envelope and dispatches it. The
// response is the caller's updated view of the game.
func (h *GameHandler) ApplyAction(c *fiber.Ctx) error {
	action, err := h.decodeAction(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := h.validate.Validate(action); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validator.Message(err),
		})
	}

	view, err := h.service.Apply(c.Context(), c.Params("code"), credentialFrom(c), action)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(view)
}

// DeleteGame removes a game. Organizer only.
func (h *GameHandler) DeleteGame(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("code"), credentialFrom(c)); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// JoinGame adds a participant through an invitation link. The response is
// projected with the new participant's own credential so a protected game
// hands them their token exactly once.
func (h *GameHandler) JoinGame(c *fiber.Ctx) error {
	if err := h.checkLimit(c, h.limiterCheckJoin); err != nil {
		return h.respondError(c, err)
	}

	var req model.JoinInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := h.validate.Validate(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validator.Message(err),
		})
	}

	view, err := h.service.Join(c.Context(), c.Params("code"), req)
	if err != nil {
		return h.respondError(c, err)
	}

	if h.limiter != nil {
		if err := h.limiter.ResetAttempts(c.Context(), c.IP(), "join"); err != nil {
			h.telemetry.Logger().WarnContext(c.Context(), "Failed to reset join attempts", "error", err)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// RecoverOrganizerLink mails the organizer link to the given address when it
// matches. The response is identical either way so addresses cannot be probed.
func (h *GameHandler) RecoverOrganizerLink(c *fiber.Ctx) error {
	if err := h.checkLimit(c, h.limiterCheckRecover); err != nil {
		return h.respondError(c, err)
	}

	var req model.RecoverOrganizerLink
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := h.validate.Validate(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validator.Message(err),
		})
	}

	view, err := h.service.RecoverOrganizerLink(c.Context(), c.Params("code"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(view)
}

// decodeAction maps the wire action name onto its concrete payload type and
// unmarshals the remaining fields into it.
func (h *GameHandler) decodeAction(body []byte) (model.GameAction, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}

	switch envelope.Action {
	case "update_details":
		return decodePayload[model.UpdateDetails](body, envelope.Action)
	case "add_participant":
		return decodePayload[model.AddParticipant](body, envelope.Action)
	case "remove_participant":
		return decodePayload[model.RemoveParticipant](body, envelope.Action)
	case "update_participant_name":
		return decodePayload[model.UpdateParticipantName](body, envelope.Action)
	case "update_participant_email":
		return decodePayload[model.UpdateParticipantEmail](body, envelope.Action)
	case "update_wish":
		return decodePayload[model.UpdateWish](body, envelope.Action)
	case "update_desired_gift":
		return decodePayload[model.UpdateDesiredGift](body, envelope.Action)
	case "update_preferred_language":
		return decodePayload[model.UpdatePreferredLanguage](body, envelope.Action)
	case "confirm_assignment":
		return decodePayload[model.ConfirmAssignment](body, envelope.Action)
	case "request_reassignment":
		return decodePayload[model.RequestReassignment](body, envelope.Action)
	case "cancel_reassignment_request":
		return decodePayload[model.CancelReassignmentRequest](body, envelope.Action)
	case "approve_reassignment":
		return decodePayload[model.ApproveReassignment](body, envelope.Action)
	case "approve_all_reassignments":
		return model.ApproveAllReassignments{}, nil
	case "reassign_all":
		return model.ReassignAll{}, nil
	case "rotate_organizer_token":
		return model.RotateOrganizerToken{}, nil
	case "rotate_invitation_token":
		return model.RotateInvitationToken{}, nil
	case "send_reminders":
		return model.SendReminders{}, nil
	case "":
		return nil, fmt.Errorf("missing action")
	default:
		return nil, fmt.Errorf("unknown action %q", envelope.Action)
	}
}

func decodePayload[T model.GameAction](body []byte, name string) (model.GameAction, error) {
	var action T
	if err := json.Unmarshal(body, &action); err != nil {
		return nil, fmt.Errorf("invalid payload for action %q", name)
	}
	return action, nil
}
