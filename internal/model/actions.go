package model

import (
	"time"

	"github.com/google/uuid"
)

// NewParticipant is the inbound shape for a participant being added to a game,
// either at creation, by the organizer, or through an invitation link.
type NewParticipant struct {
	Name              string `json:"name" validate:"required,max=100"`
	Email             string `json:"email" validate:"omitempty,email"`
	DesiredGift       string `json:"desired_gift" validate:"max=500"`
	Wish              string `json:"wish" validate:"max=500"`
	PreferredLanguage string `json:"preferred_language" validate:"omitempty,oneof=en nl"`
}

type CreateGameRequest struct {
	Name              string           `json:"name" validate:"required,max=100"`
	EventDate         *time.Time       `json:"event_date"`
	Budget            string           `json:"budget" validate:"max=100"`
	OrganizerEmail    string           `json:"organizer_email" validate:"omitempty,email"`
	IsProtected       bool             `json:"is_protected"`
	AllowReassignment bool             `json:"allow_reassignment"`
	Participants      []NewParticipant `json:"participants" validate:"required,min=3,dive"`
}

// GameAction is the closed set of mutations accepted on an existing game.
// The API layer decodes the wire payload into exactly one of these once; the
// orchestrator dispatches on the concrete type.
type GameAction interface {
	isGameAction()
}

type UpdateDetails struct {
	Name              *string    `json:"name" validate:"omitempty,max=100"`
	EventDate         *time.Time `json:"event_date"`
	Budget            *string    `json:"budget" validate:"omitempty,max=100"`
	OrganizerEmail    *string    `json:"organizer_email" validate:"omitempty,email"`
	AllowReassignment *bool      `json:"allow_reassignment"`
}

type AddParticipant struct {
	Participant NewParticipant `json:"participant" validate:"required"`
}

type RemoveParticipant struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
}

type UpdateParticipantName struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
	Name          string    `json:"name" validate:"required,max=100"`
}

type UpdateParticipantEmail struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
	Email         string    `json:"email" validate:"omitempty,email"`
}

type UpdateWish struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
	Wish          string    `json:"wish" validate:"max=500"`
}

type UpdateDesiredGift struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
	DesiredGift   string    `json:"desired_gift" validate:"max=500"`
}

type UpdatePreferredLanguage struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
	Language      string    `json:"language" validate:"required,oneof=en nl"`
}

type ConfirmAssignment struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
}

type RequestReassignment struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
}

type CancelReassignmentRequest struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
}

type ApproveReassignment struct {
	ParticipantID uuid.UUID `json:"participant_id" validate:"required"`
}

type ApproveAllReassignments struct{}

type ReassignAll struct{}

type RotateOrganizerToken struct{}

type RotateInvitationToken struct{}

type SendReminders struct{}

type RecoverOrganizerLink struct {
	Email string `json:"email" validate:"required,email"`
}

func (UpdateDetails) isGameAction()             {}
func (AddParticipant) isGameAction()            {}
func (RemoveParticipant) isGameAction()         {}
func (UpdateParticipantName) isGameAction()     {}
func (UpdateParticipantEmail) isGameAction()    {}
func (UpdateWish) isGameAction()                {}
func (UpdateDesiredGift) isGameAction()         {}
func (UpdatePreferredLanguage) isGameAction()   {}
func (ConfirmAssignment) isGameAction()         {}
func (RequestReassignment) isGameAction()       {}
func (CancelReassignmentRequest) isGameAction() {}
func (ApproveReassignment) isGameAction()       {}
func (ApproveAllReassignments) isGameAction()   {}
func (ReassignAll) isGameAction()               {}
func (RotateOrganizerToken) isGameAction()      {}
func (RotateInvitationToken) isGameAction()     {}
func (SendReminders) isGameAction()             {}
func (RecoverOrganizerLink) isGameAction()      {}

type JoinInvitationRequest struct {
	InvitationToken string         `json:"invitation_token" validate:"required"`
	Participant     NewParticipant `json:"participant" validate:"required"`
}
