package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinParticipants is the smallest participant set for which a valid
// giver/receiver cycle exists.
const MinParticipants = 3

type Participant struct {
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

// Assignment is a directed giver -> receiver edge. For a game with at least
// MinParticipants participants the full edge set is a derangement: every
// participant gives exactly once, receives exactly once, and never to themselves.
type Assignment struct {
	GiverID    uuid.UUID `json:"giver_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
}

type ReassignmentRequest struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	RequestedAt     time.Time `json:"requested_at"`
}

// Game is the aggregate root and the unit of persistence: every mutation reads
// the whole Game, changes it in memory and writes it back. Version is the
// optimistic concurrency stamp checked by the repository on replace.
type Game struct {
	ID                   uuid.UUID             `json:"id"`
	Code                 string                `json:"code"`
	Name                 string                `json:"name"`
	EventDate            *time.Time            `json:"event_date,omitempty"`
	Budget               string                `json:"budget,omitempty"`
	Participants         []Participant         `json:"participants"`
	Assignments          []Assignment          `json:"assignments"`
	ReassignmentRequests []ReassignmentRequest `json:"reassignment_requests"`
	OrganizerToken       string                `json:"organizer_token"`
	OrganizerEmail       string                `json:"organizer_email,omitempty"`
	InvitationToken      string                `json:"invitation_token,omitempty"`
	IsProtected          bool                  `json:"is_protected"`
	AllowReassignment    bool                  `json:"allow_reassignment"`
	CreatedAt            time.Time             `json:"created_at"`
	Version              int64                 `json:"-"`
}

// ParticipantByID returns a pointer into the game's participant slice, or nil.
func (g *Game) ParticipantByID(id uuid.UUID) *Participant {
	for i := range g.Participants {
		if g.Participants[i].ID == id {
			return &g.Participants[i]
		}
	}
	return nil
}

// ParticipantByToken returns a pointer into the game's participant slice, or nil.
func (g *Game) ParticipantByToken(token string) *Participant {
	if token == "" {
		return nil
	}
	for i := range g.Participants {
		if g.Participants[i].Token == token {
			return &g.Participants[i]
		}
	}
	return nil
}

// HasParticipantNamed reports whether a participant with the given name exists,
// compared case-insensitively.
func (g *Game) HasParticipantNamed(name string) bool {
	for _, p := range g.Participants {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// HasParticipantEmail reports whether a participant already uses the given
// email address. Empty emails never collide.
func (g *Game) HasParticipantEmail(email string) bool {
	if email == "" {
		return false
	}
	for _, p := range g.Participants {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			return true
		}
	}
	return false
}

// ReceiverOf returns the receiver assigned to the given giver, or uuid.Nil if
// the giver has no assignment.
func (g *Game) ReceiverOf(giverID uuid.UUID) uuid.UUID {
	for _, a := range g.Assignments {
		if a.GiverID == giverID {
			return a.ReceiverID
		}
	}
	return uuid.Nil
}

// GiverOf returns the participant assigned to give to the given receiver, or
// uuid.Nil if nobody is.
func (g *Game) GiverOf(receiverID uuid.UUID) uuid.UUID {
	for _, a := range g.Assignments {
		if a.ReceiverID == receiverID {
			return a.GiverID
		}
	}
	return uuid.Nil
}

// PendingRequestFor returns the pending reassignment request for the
// participant, or nil.
func (g *Game) PendingRequestFor(participantID uuid.UUID) *ReassignmentRequest {
	for i := range g.ReassignmentRequests {
		if g.ReassignmentRequests[i].ParticipantID == participantID {
			return &g.ReassignmentRequests[i]
		}
	}
	return nil
}

// DropPendingRequestFor removes any pending reassignment request for the
// participant and clears their pending flag.
func (g *Game) DropPendingRequestFor(participantID uuid.UUID) {
	kept := g.ReassignmentRequests[:0]
	for _, r := range g.ReassignmentRequests {
		if r.ParticipantID != participantID {
			kept = append(kept, r)
		}
	}
	g.ReassignmentRequests = kept
	if p := g.ParticipantByID(participantID); p != nil {
		p.HasPendingReassignmentRequest = false
	}
}

// ClearReassignmentState drops all pending requests and confirmation flags.
// Called after any full reshuffle, which invalidates prior confirmations.
func (g *Game) ClearReassignmentState() {
	g.ReassignmentRequests = nil
	for i := range g.Participants {
		g.Participants[i].HasConfirmedAssignment = false
		g.Participants[i].HasPendingReassignmentRequest = false
	}
}

// AllConfirmed reports whether every participant has confirmed their
// assignment. False for games without participants.
func (g *Game) AllConfirmed() bool {
	if len(g.Participants) == 0 {
		return false
	}
	for _, p := range g.Participants {
		if !p.HasConfirmedAssignment {
			return false
		}
	}
	return true
}
