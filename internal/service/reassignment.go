package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"secretsanta/internal/model"
	"secretsanta/internal/notifications"
	"secretsanta/internal/projection"
	"secretsanta/internal/util"
)

// ConfirmAssignment marks the participant as having seen and accepted their
// receiver. An unknown participant id is a silent no-op: stale clients
// re-confirming after a removal should not see an error.
func (s *GameService) ConfirmAssignment(ctx context.Context, code string, cred projection.Credential, action model.ConfirmAssignment) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return errNoChange
		}
		participant.HasConfirmedAssignment = true

		if game.AllConfirmed() {
			*events = s.organizerEvent(notifications.KindAllConfirmed, game)
		}
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// RequestReassignment records that the participant wants a different receiver.
// At most one live request per participant.
func (s *GameService) RequestReassignment(ctx context.Context, code string, cred projection.Credential, action model.RequestReassignment) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if !game.AllowReassignment {
			return E(KindForbidden, "reassignment is not allowed in this game")
		}
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		if participant.HasPendingReassignmentRequest {
			return E(KindConflict, "a reassignment request is already pending")
		}

		participant.HasPendingReassignmentRequest = true
		game.ReassignmentRequests = append(game.ReassignmentRequests, model.ReassignmentRequest{
			ParticipantID:   participant.ID,
			ParticipantName: participant.Name,
			RequestedAt:     s.now().UTC(),
		})

		*events = s.organizerEvent(notifications.KindReassignmentRequested, game)
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// CancelReassignmentRequest withdraws a pending request.
func (s *GameService) CancelReassignmentRequest(ctx context.Context, code string, cred projection.Credential, action model.CancelReassignmentRequest) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		if game.PendingRequestFor(action.ParticipantID) == nil {
			return E(KindConflict, "no pending reassignment request")
		}
		game.DropPendingRequestFor(action.ParticipantID)
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// ApproveReassignment resolves one pending request through a single-swap
// repair. When no valid swap exists nothing is mutated and the caller is told
// the request is unsatisfiable; a full reshuffle remains their fallback.
func (s *GameService) ApproveReassignment(ctx context.Context, code string, cred projection.Credential, action model.ApproveReassignment) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		if game.PendingRequestFor(action.ParticipantID) == nil {
			return E(KindConflict, "no pending reassignment request")
		}

		repaired := s.engine.Repair(action.ParticipantID, game.Assignments, game.Participants)
		if repaired == nil {
			s.telemetry.RecordReassignment(ctx, false)
			return E(KindUnprocessable, "no valid swap partner; regenerate all assignments instead")
		}

		partnerID := swapPartner(game.Assignments, repaired, action.ParticipantID)
		game.Assignments = repaired
		game.DropPendingRequestFor(action.ParticipantID)
		s.telemetry.RecordReassignment(ctx, true)

		*events = s.resolvedEvents(game, action.ParticipantID, partnerID)
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// ApproveAllReassignments resolves pending requests in list order. Requests
// without a valid swap stay pending; the action only fails when none could be
// approved.
func (s *GameService) ApproveAllReassignments(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		if len(game.ReassignmentRequests) == 0 {
			return E(KindConflict, "no pending reassignment requests")
		}

		pending := append([]model.ReassignmentRequest(nil), game.ReassignmentRequests...)
		approved := 0
		for _, request := range pending {
			repaired := s.engine.Repair(request.ParticipantID, game.Assignments, game.Participants)
			if repaired == nil {
				s.telemetry.RecordReassignment(ctx, false)
				continue
			}
			partnerID := swapPartner(game.Assignments, repaired, request.ParticipantID)
			game.Assignments = repaired
			game.DropPendingRequestFor(request.ParticipantID)
			s.telemetry.RecordReassignment(ctx, true)
			approved++

			*events = append(*events, s.resolvedEvents(game, request.ParticipantID, partnerID)...)
		}

		if approved == 0 {
			return E(KindUnprocessable, "no pending request has a valid swap partner")
		}
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// ReassignAll redraws the whole cycle, wiping every pending request and every
// confirmation.
func (s *GameService) ReassignAll(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		if len(game.Participants) < model.MinParticipants {
			return E(KindValidation, "need at least 3 participants")
		}

		assignments, err := s.engine.Generate(game.Participants)
		if err != nil {
			return Wrap(KindInternal, "failed to regenerate assignments", err)
		}
		game.Assignments = assignments
		game.ClearReassignmentState()
		s.telemetry.RecordFullReshuffle(ctx)

		*events = s.participantEvents(notifications.KindFullReshuffle, game)
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// RotateOrganizerToken replaces the organizer credential. The response is
// projected with the new token, which is the only place it is ever returned.
func (s *GameService) RotateOrganizerToken(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	var newToken string
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		token, err := util.RandomString(tokenBytes)
		if err != nil {
			return Wrap(KindInternal, "failed to generate organizer token", err)
		}
		game.OrganizerToken = token
		newToken = token
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, projection.OrganizerToken(newToken))
}

// RotateInvitationToken invalidates outstanding invitation links.
func (s *GameService) RotateInvitationToken(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		token, err := util.RandomString(tokenBytes)
		if err != nil {
			return Wrap(KindInternal, "failed to generate invitation token", err)
		}
		game.InvitationToken = token
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// SendReminders emails every participant who has not confirmed yet. Read-only.
func (s *GameService) SendReminders(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	game, err := s.load(ctx, code)
	if err != nil {
		return projection.GameView{}, err
	}
	if err := s.requireOrganizer(game, cred); err != nil {
		return projection.GameView{}, err
	}

	var events []notifications.Event
	for _, p := range game.Participants {
		if p.HasConfirmedAssignment || p.Email == "" {
			continue
		}
		events = append(events, notifications.Event{
			Kind:          notifications.KindReminder,
			Game:          *game,
			RecipientName: p.Name,
			Recipient:     p.Email,
			Language:      p.PreferredLanguage,
			Token:         p.Token,
		})
	}
	s.notifier.Dispatch(events...)
	s.logger.InfoContext(ctx, "Reminders dispatched", "game_code", game.Code, "count", len(events))

	return s.project(game, cred)
}

// RecoverOrganizerLink emails the organizer link to the address on file. The
// response is identical whether or not the address matched, so the endpoint
// cannot be used to probe organizer emails.
func (s *GameService) RecoverOrganizerLink(ctx context.Context, code string, action model.RecoverOrganizerLink) (projection.GameView, error) {
	game, err := s.load(ctx, code)
	if err != nil {
		return projection.GameView{}, err
	}

	if game.OrganizerEmail != "" && strings.EqualFold(game.OrganizerEmail, strings.TrimSpace(action.Email)) {
		s.notifier.Dispatch(s.organizerEvent(notifications.KindRecoveryLink, game)...)
	} else {
		s.logger.InfoContext(ctx, "Recovery requested for non-matching email", "game_code", game.Code)
	}

	return s.project(game, projection.Anonymous{})
}

// resolvedEvents notifies both sides of an approved swap.
func (s *GameService) resolvedEvents(game *model.Game, requesterID, partnerID uuid.UUID) []notifications.Event {
	var events []notifications.Event
	for _, id := range []uuid.UUID{requesterID, partnerID} {
		p := game.ParticipantByID(id)
		if p == nil || p.Email == "" {
			continue
		}
		events = append(events, notifications.Event{
			Kind:          notifications.KindReassignmentResolved,
			Game:          *game,
			RecipientName: p.Name,
			Recipient:     p.Email,
			Language:      p.PreferredLanguage,
			Token:         p.Token,
		})
	}
	return events
}

// swapPartner finds the other giver whose receiver changed in the repair.
func swapPartner(before, after []model.Assignment, requesterID uuid.UUID) uuid.UUID {
	for i := range before {
		if before[i].GiverID == requesterID {
			continue
		}
		if before[i].ReceiverID != after[i].ReceiverID {
			return before[i].GiverID
		}
	}
	return uuid.Nil
}
