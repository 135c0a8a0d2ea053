// Package service sequences every game action: validate, mutate the aggregate
// in memory, persist, then hand structured events to the notifier. Validation
// and authorization failures short-circuit before any write.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretsanta/internal/assignment"
	"secretsanta/internal/model"
	"secretsanta/internal/monitoring"
	"secretsanta/internal/notifications"
	"secretsanta/internal/projection"
	"secretsanta/internal/repository"
	"secretsanta/internal/util"
)

// errNoChange is returned by mutation closures that decided nothing needs to
// be written. mutate treats it as success without a store or notifications.
var errNoChange = errors.New("no change")

const (
	gameCodeLength = 6
	tokenBytes     = 24
	// How many times a mutation is replayed after losing a version race.
	maxReplaceRetries = 3
	// How many fresh codes are tried before giving up on creation.
	maxCodeAttempts = 5
)

type GameService struct {
	repo      repository.GameRepository
	engine    *assignment.Engine
	notifier  *notifications.Notifier
	telemetry monitoring.Telemetry
	logger    *slog.Logger
	now       func() time.Time
}

func NewGameService(repo repository.GameRepository, engine *assignment.Engine, notifier *notifications.Notifier, telemetry monitoring.Telemetry) *GameService {
	return &GameService{
		repo:      repo,
		engine:    engine,
		notifier:  notifier,
		telemetry: telemetry,
		logger:    telemetry.Logger(),
		now:       time.Now,
	}
}

// Create builds a new game with its initial assignment cycle and persists it.
// The returned game carries the organizer token; the caller decides how much
// of it to expose.
func (s *GameService) Create(ctx context.Context, req model.CreateGameRequest) (*model.Game, error) {
	if len(req.Participants) < model.MinParticipants {
		return nil, E(KindValidation, "need at least 3 participants")
	}
	if req.EventDate != nil && req.EventDate.Before(startOfDay(s.now())) {
		return nil, E(KindValidation, "event date must not be in the past")
	}

	game := &model.Game{
		ID:                uuid.New(),
		Name:              strings.TrimSpace(req.Name),
		EventDate:         req.EventDate,
		Budget:            req.Budget,
		OrganizerEmail:    strings.TrimSpace(strings.ToLower(req.OrganizerEmail)),
		IsProtected:       req.IsProtected,
		AllowReassignment: req.AllowReassignment,
		CreatedAt:         s.now().UTC(),
	}

	organizerToken, err := util.RandomString(tokenBytes)
	if err != nil {
		return nil, Wrap(KindInternal, "failed to generate organizer token", err)
	}
	game.OrganizerToken = organizerToken

	invitationToken, err := util.RandomString(tokenBytes)
	if err != nil {
		return nil, Wrap(KindInternal, "failed to generate invitation token", err)
	}
	game.InvitationToken = invitationToken

	for _, np := range req.Participants {
		participant, err := s.newParticipant(game, np)
		if err != nil {
			return nil, err
		}
		game.Participants = append(game.Participants, *participant)
	}

	assignments, err := s.engine.Generate(game.Participants)
	if err != nil {
		return nil, Wrap(KindValidation, "need at least 3 participants", err)
	}
	game.Assignments = assignments

	// The code is a shared human-readable key; collisions are rare but real,
	// so regenerate on a unique violation.
	for attempt := 0; ; attempt++ {
		code, err := util.NumericCode(gameCodeLength)
		if err != nil {
			return nil, Wrap(KindInternal, "failed to generate game code", err)
		}
		game.Code = code

		err = s.repo.Create(ctx, game)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrCodeTaken) && attempt < maxCodeAttempts {
			continue
		}
		return nil, storageError("failed to create game", err)
	}

	s.telemetry.RecordGameCreated(ctx, len(game.Participants))
	s.logger.InfoContext(ctx, "Game created",
		"game_code", game.Code, "participants", len(game.Participants), "protected", game.IsProtected)

	s.notifier.Dispatch(s.participantEvents(notifications.KindAssignmentReady, game)...)

	return game, nil
}

// Get returns the credential-scoped view of a game.
func (s *GameService) Get(ctx context.Context, code string, cred projection.Credential) (projection.GameView, error) {
	game, err := s.load(ctx, code)
	if err != nil {
		return projection.GameView{}, err
	}
	return s.project(game, cred)
}

// Apply dispatches a decoded action against the game identified by code. The
// returned view is projected with the caller's own credential.
func (s *GameService) Apply(ctx context.Context, code string, cred projection.Credential, action model.GameAction) (projection.GameView, error) {
	switch a := action.(type) {
	case model.UpdateDetails:
		return s.UpdateDetails(ctx, code, cred, a)
	case model.AddParticipant:
		return s.AddParticipant(ctx, code, cred, a)
	case model.RemoveParticipant:
		return s.RemoveParticipant(ctx, code, cred, a)
	case model.UpdateParticipantName:
		return s.UpdateParticipantName(ctx, code, cred, a)
	case model.UpdateParticipantEmail:
		return s.UpdateParticipantEmail(ctx, code, cred, a)
	case model.UpdateWish:
		return s.UpdateWish(ctx, code, cred, a)
	case model.UpdateDesiredGift:
		return s.UpdateDesiredGift(ctx, code, cred, a)
	case model.UpdatePreferredLanguage:
		return s.UpdatePreferredLanguage(ctx, code, cred, a)
	case model.ConfirmAssignment:
		return s.ConfirmAssignment(ctx, code, cred, a)
	case model.RequestReassignment:
		return s.RequestReassignment(ctx, code, cred, a)
	case model.CancelReassignmentRequest:
		return s.CancelReassignmentRequest(ctx, code, cred, a)
	case model.ApproveReassignment:
		return s.ApproveReassignment(ctx, code, cred, a)
	case model.ApproveAllReassignments:
		return s.ApproveAllReassignments(ctx, code, cred)
	case model.ReassignAll:
		return s.ReassignAll(ctx, code, cred)
	case model.RotateOrganizerToken:
		return s.RotateOrganizerToken(ctx, code, cred)
	case model.RotateInvitationToken:
		return s.RotateInvitationToken(ctx, code, cred)
	case model.SendReminders:
		return s.SendReminders(ctx, code, cred)
	case model.RecoverOrganizerLink:
		return s.RecoverOrganizerLink(ctx, code, a)
	}
	return projection.GameView{}, E(KindValidation, "unknown action")
}

// Delete removes a game and notifies every participant with an address.
func (s *GameService) Delete(ctx context.Context, code string, cred projection.Credential) error {
	game, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	if err := s.requireOrganizer(game, cred); err != nil {
		return err
	}

	events := s.participantEvents(notifications.KindCancellation, game)
	if err := s.repo.Delete(ctx, game.ID); err != nil {
		return storageError("failed to delete game", err)
	}

	s.logger.InfoContext(ctx, "Game deleted", "game_code", game.Code)
	s.notifier.Dispatch(events...)
	return nil
}

// mutate runs a load-mutate-store cycle with compare-and-swap retries. fn may
// append events that are dispatched only after the write succeeded, so losing
// attempts never notify anyone. The stored game is returned for projection.
func (s *GameService) mutate(ctx context.Context, code string, fn func(game *model.Game, events *[]notifications.Event) error) (*model.Game, error) {
	for attempt := 0; ; attempt++ {
		game, err := s.load(ctx, code)
		if err != nil {
			return nil, err
		}

		var events []notifications.Event
		if err := fn(game, &events); err != nil {
			if errors.Is(err, errNoChange) {
				return game, nil
			}
			return nil, err
		}

		err = s.repo.Replace(ctx, game)
		if err == nil {
			s.notifier.Dispatch(events...)
			return game, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) && attempt < maxReplaceRetries {
			s.logger.WarnContext(ctx, "Version conflict, retrying mutation",
				"game_code", code, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, E(KindNotFound, "game not found")
		}
		return nil, storageError("failed to store game", err)
	}
}

func (s *GameService) load(ctx context.Context, code string) (*model.Game, error) {
	game, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, E(KindNotFound, "game not found")
		}
		return nil, storageError("failed to load game", err)
	}
	return game, nil
}

func (s *GameService) project(game *model.Game, cred projection.Credential) (projection.GameView, error) {
	view, err := projection.Project(game, cred)
	if err != nil {
		switch {
		case errors.Is(err, projection.ErrInvalidParticipantToken):
			return projection.GameView{}, E(KindUnauthorized, "invalid participant token")
		case errors.Is(err, projection.ErrParticipantNotFound):
			return projection.GameView{}, E(KindNotFound, "participant not found")
		}
		return projection.GameView{}, Wrap(KindInternal, "failed to project game", err)
	}
	return view, nil
}

// requireOrganizer admits only the matching organizer token. A missing token
// is unauthorized, a wrong one forbidden.
func (s *GameService) requireOrganizer(game *model.Game, cred projection.Credential) error {
	token, ok := cred.(projection.OrganizerToken)
	if !ok || token == "" {
		return E(KindUnauthorized, "organizer token required")
	}
	if string(token) != game.OrganizerToken {
		return E(KindForbidden, "invalid organizer token")
	}
	return nil
}

// newParticipant validates uniqueness within the game and mints a token when
// the game is protected.
func (s *GameService) newParticipant(game *model.Game, np model.NewParticipant) (*model.Participant, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return nil, E(KindValidation, "participant name must not be empty")
	}
	if game.HasParticipantNamed(name) {
		return nil, E(KindConflict, fmt.Sprintf("participant name %q already taken", name))
	}
	email := strings.TrimSpace(strings.ToLower(np.Email))
	if game.HasParticipantEmail(email) {
		return nil, E(KindConflict, fmt.Sprintf("participant email %q already taken", email))
	}

	participant := &model.Participant{
		ID:                uuid.New(),
		Name:              name,
		Email:             email,
		DesiredGift:       np.DesiredGift,
		Wish:              np.Wish,
		PreferredLanguage: np.PreferredLanguage,
	}
	if game.IsProtected {
		token, err := util.RandomString(tokenBytes)
		if err != nil {
			return nil, Wrap(KindInternal, "failed to generate participant token", err)
		}
		participant.Token = token
	}
	return participant, nil
}

// participantEvents builds one event of the given kind per participant with an
// email address, skipping the ids in except.
func (s *GameService) participantEvents(kind notifications.EventKind, game *model.Game, except ...uuid.UUID) []notifications.Event {
	skip := make(map[uuid.UUID]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	var events []notifications.Event
	for _, p := range game.Participants {
		if p.Email == "" || skip[p.ID] {
			continue
		}
		events = append(events, notifications.Event{
			Kind:          kind,
			Game:          *game,
			RecipientName: p.Name,
			Recipient:     p.Email,
			Language:      p.PreferredLanguage,
			Token:         p.Token,
		})
	}
	return events
}

func (s *GameService) organizerEvent(kind notifications.EventKind, game *model.Game) []notifications.Event {
	if game.OrganizerEmail == "" {
		return nil
	}
	return []notifications.Event{{
		Kind:          kind,
		Game:          *game,
		RecipientName: "organizer",
		Recipient:     game.OrganizerEmail,
		Token:         game.OrganizerToken,
	}}
}

func storageError(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
