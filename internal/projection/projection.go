// Package projection derives the requester-scoped view of a game. It is the
// secrecy boundary of the whole service: no credential other than the matching
// organizer token may ever see the organizer token, another participant's
// token, or an assignment edge the requester does not own as giver.
package projection

import (
	"errors"

	"github.com/google/uuid"

	"secretsanta/internal/model"
)

var (
	ErrInvalidParticipantToken = errors.New("invalid participant token")
	ErrParticipantNotFound     = errors.New("participant not found")
)

// Credential identifies the requester. Exactly one of the concrete types below.
type Credential interface {
	isCredential()
}

type OrganizerToken string

type ParticipantToken string

// ParticipantID is only meaningful for non-protected games, where knowing a
// participant id is the whole access model.
type ParticipantID uuid.UUID

type Anonymous struct{}

func (OrganizerToken) isCredential()   {}
func (ParticipantToken) isCredential() {}
func (ParticipantID) isCredential()    {}
func (Anonymous) isCredential()        {}

type ParticipantView struct {
	ID                            uuid.UUID `json:"id"`
	Name                          string    `json:"name"`
	Email                         string    `json:"email,omitempty"`
	DesiredGift                   string    `json:"desired_gift,omitempty"`
	Wish                          string    `json:"wish,omitempty"`
	HasConfirmedAssignment        bool      `json:"has_confirmed_assignment"`
	HasPendingReassignmentRequest bool      `json:"has_pending_reassignment_request"`
	Token                         string    `json:"token,omitempty"`
	PreferredLanguage             string    `json:"preferred_language,omitempty"`
}

// GameView is the outbound shape of a game after redaction.
type GameView struct {
	Code                 string                      `json:"code"`
	Name                 string                      `json:"name"`
	EventDate            *string                     `json:"event_date,omitempty"`
	Budget               string                      `json:"budget,omitempty"`
	Participants         []ParticipantView           `json:"participants,omitempty"`
	Assignments          []model.Assignment          `json:"assignments"`
	ReassignmentRequests []model.ReassignmentRequest `json:"reassignment_requests,omitempty"`
	OrganizerToken       string                      `json:"organizer_token,omitempty"`
	OrganizerEmail       string                      `json:"organizer_email,omitempty"`
	InvitationToken      string                      `json:"invitation_token,omitempty"`
	IsProtected          bool                        `json:"is_protected"`
	AllowReassignment    bool                        `json:"allow_reassignment"`
	RequiresToken        bool                        `json:"requires_token,omitempty"`

	// Set only for participant-scoped views.
	AuthenticatedParticipantID *uuid.UUID `json:"authenticated_participant_id,omitempty"`
	// Whether the (hidden) participant giving to the requester has confirmed.
	GiverHasConfirmed *bool `json:"giver_has_confirmed,omitempty"`
}

// Project computes the view of game visible to the holder of cred.
func Project(game *model.Game, cred Credential) (GameView, error) {
	switch c := cred.(type) {
	case OrganizerToken:
		if string(c) != "" && string(c) == game.OrganizerToken {
			return organizerView(game), nil
		}
		// A wrong organizer token grants no more than an anonymous caller.
		if game.IsProtected {
			return lockedView(game), nil
		}
		return publicView(game), nil

	case ParticipantToken:
		if !game.IsProtected {
			// Tokens only exist on protected games.
			return publicView(game), nil
		}
		p := game.ParticipantByToken(string(c))
		if p == nil {
			return GameView{}, ErrInvalidParticipantToken
		}
		return participantView(game, p), nil

	case ParticipantID:
		if game.IsProtected {
			// Id-based access is not an accepted credential on protected
			// games; hand back the locked shell instead of leaking anything.
			return lockedView(game), nil
		}
		p := game.ParticipantByID(uuid.UUID(c))
		if p == nil {
			return GameView{}, ErrParticipantNotFound
		}
		return participantView(game, p), nil

	case Anonymous:
		if game.IsProtected {
			return lockedView(game), nil
		}
		return publicView(game), nil
	}

	return GameView{}, errors.New("unknown credential")
}

func organizerView(game *model.Game) GameView {
	view := baseView(game)
	view.Participants = participantViews(game, nil)
	view.Assignments = append([]model.Assignment(nil), game.Assignments...)
	view.ReassignmentRequests = append([]model.ReassignmentRequest(nil), game.ReassignmentRequests...)
	view.OrganizerToken = game.OrganizerToken
	view.OrganizerEmail = game.OrganizerEmail
	view.InvitationToken = game.InvitationToken
	return view
}

// participantView exposes the requester's own token and email, everyone's
// names and wishes, and only the requester's outbound assignment edge. It also
// reports whether the requester's own giver confirmed, without naming them.
func participantView(game *model.Game, p *model.Participant) GameView {
	view := baseView(game)
	view.Participants = participantViews(game, p)

	view.Assignments = []model.Assignment{}
	if receiver := game.ReceiverOf(p.ID); receiver != uuid.Nil {
		view.Assignments = []model.Assignment{{GiverID: p.ID, ReceiverID: receiver}}
	}

	id := p.ID
	view.AuthenticatedParticipantID = &id
	if giver := game.GiverOf(p.ID); giver != uuid.Nil {
		if g := game.ParticipantByID(giver); g != nil {
			confirmed := g.HasConfirmedAssignment
			view.GiverHasConfirmed = &confirmed
		}
	}
	return view
}

// publicView is the anonymous projection of a non-protected game: no tokens,
// no organizer email, and no assignment edges at all.
func publicView(game *model.Game) GameView {
	view := baseView(game)
	view.Participants = participantViews(game, nil)
	for i := range view.Participants {
		view.Participants[i].Token = ""
		view.Participants[i].Email = ""
	}
	view.Assignments = []model.Assignment{}
	return view
}

// lockedView is all a protected game shows without a valid token.
func lockedView(game *model.Game) GameView {
	return GameView{
		Code:          game.Code,
		Name:          game.Name,
		IsProtected:   true,
		RequiresToken: true,
		Assignments:   []model.Assignment{},
	}
}

func baseView(game *model.Game) GameView {
	view := GameView{
		Code:              game.Code,
		Name:              game.Name,
		Budget:            game.Budget,
		IsProtected:       game.IsProtected,
		AllowReassignment: game.AllowReassignment,
	}
	if game.EventDate != nil {
		d := game.EventDate.Format("2006-01-02")
		view.EventDate = &d
	}
	return view
}

// participantViews copies the participant list, keeping token and email only
// for self (or for everyone when self is nil, the organizer case).
func participantViews(game *model.Game, self *model.Participant) []ParticipantView {
	views := make([]ParticipantView, len(game.Participants))
	for i, p := range game.Participants {
		views[i] = ParticipantView{
			ID:                            p.ID,
			Name:                          p.Name,
			Email:                         p.Email,
			DesiredGift:                   p.DesiredGift,
			Wish:                          p.Wish,
			HasConfirmedAssignment:        p.HasConfirmedAssignment,
			HasPendingReassignmentRequest: p.HasPendingReassignmentRequest,
			Token:                         p.Token,
			PreferredLanguage:             p.PreferredLanguage,
		}
		if self != nil && p.ID != self.ID {
			views[i].Token = ""
			views[i].Email = ""
		}
	}
	return views
}
