package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"secretsanta/internal/model"
	"secretsanta/internal/notifications"
	"secretsanta/internal/projection"
)

// UpdateDetails changes game-level fields. Organizer only.
func (s *GameService) UpdateDetails(ctx context.Context, code string, cred projection.Credential, action model.UpdateDetails) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		if action.EventDate != nil && action.EventDate.Before(startOfDay(s.now())) {
			return E(KindValidation, "event date must not be in the past")
		}

		if action.Name != nil {
			name := strings.TrimSpace(*action.Name)
			if name == "" {
				return E(KindValidation, "game name must not be empty")
			}
			game.Name = name
		}
		if action.EventDate != nil {
			game.EventDate = action.EventDate
		}
		if action.Budget != nil {
			game.Budget = *action.Budget
		}
		if action.OrganizerEmail != nil {
			game.OrganizerEmail = strings.TrimSpace(strings.ToLower(*action.OrganizerEmail))
		}
		if action.AllowReassignment != nil {
			game.AllowReassignment = *action.AllowReassignment
		}

		*events = s.participantEvents(notifications.KindDetailsChanged, game)
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// AddParticipant appends a participant and redraws the full cycle: the set
// size changed, so a local swap cannot produce a valid derangement. The redraw
// invalidates earlier confirmations and pending requests.
func (s *GameService) AddParticipant(ctx context.Context, code string, cred projection.Credential, action model.AddParticipant) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		return s.appendParticipant(ctx, game, action.Participant, events)
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// RemoveParticipant drops a participant and their pending request. With 3 or
// more remaining the cycle is redrawn, otherwise assignments are cleared until
// the game grows back.
func (s *GameService) RemoveParticipant(ctx context.Context, code string, cred projection.Credential, action model.RemoveParticipant) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}

		removed := game.ParticipantByID(action.ParticipantID)
		if removed == nil {
			return E(KindNotFound, "participant not found")
		}
		removedCopy := *removed

		game.DropPendingRequestFor(action.ParticipantID)
		kept := game.Participants[:0]
		for _, p := range game.Participants {
			if p.ID != action.ParticipantID {
				kept = append(kept, p)
			}
		}
		game.Participants = kept

		if len(game.Participants) >= model.MinParticipants {
			assignments, err := s.engine.Generate(game.Participants)
			if err != nil {
				return Wrap(KindInternal, "failed to regenerate assignments", err)
			}
			game.Assignments = assignments
			game.ClearReassignmentState()
			s.telemetry.RecordFullReshuffle(ctx)
			*events = s.participantEvents(notifications.KindFullReshuffle, game)
		} else {
			game.Assignments = nil
			game.ClearReassignmentState()
		}

		if removedCopy.Email != "" {
			*events = append(*events, notifications.Event{
				Kind:          notifications.KindRemoval,
				Game:          *game,
				RecipientName: removedCopy.Name,
				Recipient:     removedCopy.Email,
				Language:      removedCopy.PreferredLanguage,
			})
		}
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// UpdateParticipantName renames a participant. Organizer only, since a name is
// the participant's identity towards the rest of the group.
func (s *GameService) UpdateParticipantName(ctx context.Context, code string, cred projection.Credential, action model.UpdateParticipantName) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if err := s.requireOrganizer(game, cred); err != nil {
			return err
		}
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		name := strings.TrimSpace(action.Name)
		if name == "" {
			return E(KindValidation, "participant name must not be empty")
		}
		if !strings.EqualFold(participant.Name, name) && game.HasParticipantNamed(name) {
			return E(KindConflict, fmt.Sprintf("participant name %q already taken", name))
		}
		participant.Name = name
		for i := range game.ReassignmentRequests {
			if game.ReassignmentRequests[i].ParticipantID == action.ParticipantID {
				game.ReassignmentRequests[i].ParticipantName = name
			}
		}
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// UpdateParticipantEmail is self-service: participants manage their own
// delivery address without a token.
func (s *GameService) UpdateParticipantEmail(ctx context.Context, code string, cred projection.Credential, action model.UpdateParticipantEmail) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		email := strings.TrimSpace(strings.ToLower(action.Email))
		if email != "" && !strings.EqualFold(participant.Email, email) && game.HasParticipantEmail(email) {
			return E(KindConflict, fmt.Sprintf("participant email %q already taken", email))
		}
		participant.Email = email
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// UpdateWish is self-service, as above.
func (s *GameService) UpdateWish(ctx context.Context, code string, cred projection.Credential, action model.UpdateWish) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		participant.Wish = action.Wish
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

func (s *GameService) UpdateDesiredGift(ctx context.Context, code string, cred projection.Credential, action model.UpdateDesiredGift) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		participant.DesiredGift = action.DesiredGift
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

func (s *GameService) UpdatePreferredLanguage(ctx context.Context, code string, cred projection.Credential, action model.UpdatePreferredLanguage) (projection.GameView, error) {
	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		participant := game.ParticipantByID(action.ParticipantID)
		if participant == nil {
			return E(KindNotFound, "participant not found")
		}
		participant.PreferredLanguage = action.Language
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// Join lets someone self-register with the game's invitation token. The new
// participant invalidates the existing cycle, so everything is redrawn and all
// confirmations and pending requests reset.
func (s *GameService) Join(ctx context.Context, code string, req model.JoinInvitationRequest) (projection.GameView, error) {
	var joinedID uuid.UUID

	game, err := s.mutate(ctx, code, func(game *model.Game, events *[]notifications.Event) error {
		if game.InvitationToken == "" || req.InvitationToken != game.InvitationToken {
			return E(KindForbidden, "invalid invitation token")
		}
		if err := s.appendParticipant(ctx, game, req.Participant, events); err != nil {
			return err
		}
		joinedID = game.Participants[len(game.Participants)-1].ID
		return nil
	})
	if err != nil {
		return projection.GameView{}, err
	}

	// Project with the new participant's own credential so their token (or
	// id) comes back to them, and nothing else does.
	cred := projection.Credential(projection.ParticipantID(joinedID))
	if game.IsProtected {
		if p := game.ParticipantByID(joinedID); p != nil {
			cred = projection.ParticipantToken(p.Token)
		}
	}
	return s.project(game, cred)
}

// appendParticipant is the shared tail of AddParticipant and Join: validate,
// append, redraw once the game is big enough, and queue the emails.
func (s *GameService) appendParticipant(ctx context.Context, game *model.Game, np model.NewParticipant, events *[]notifications.Event) error {
	participant, err := s.newParticipant(game, np)
	if err != nil {
		return err
	}
	game.Participants = append(game.Participants, *participant)

	if len(game.Participants) >= model.MinParticipants {
		assignments, err := s.engine.Generate(game.Participants)
		if err != nil {
			return Wrap(KindInternal, "failed to regenerate assignments", err)
		}
		game.Assignments = assignments
		game.ClearReassignmentState()
		s.telemetry.RecordFullReshuffle(ctx)
		*events = s.participantEvents(notifications.KindFullReshuffle, game, participant.ID)
	}
	if participant.Email != "" {
		*events = append(*events, notifications.Event{
			Kind:          notifications.KindAssignmentReady,
			Game:          *game,
			RecipientName: participant.Name,
			Recipient:     participant.Email,
			Language:      participant.PreferredLanguage,
			Token:         participant.Token,
		})
	}
	return nil
}
