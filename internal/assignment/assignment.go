// Package assignment implements the giver/receiver engine: generating a fresh
// derangement over a participant set and repairing a single edge through a
// constrained two-edge swap.
package assignment

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"

	"github.com/google/uuid"

	"secretsanta/internal/model"
)

var ErrTooFewParticipants = errors.New("need at least 3 participants")

// Engine holds the random source used for shuffling and partner selection.
// The source is injected so tests can seed it deterministically.
type Engine struct {
	rnd *rand.Rand
}

// New returns an engine backed by the given source. Passing nil seeds one from
// crypto-quality entropy.
func New(rnd *rand.Rand) *Engine {
	if rnd == nil {
		var seed [8]byte
		if _, err := crand.Read(seed[:]); err != nil {
			panic(err)
		}
		rnd = rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
	}
	return &Engine{rnd: rnd}
}

// Generate builds a fresh assignment set over the participants: a uniformly
// random single cycle, which is a derangement by construction since
// consecutive elements of a shuffled list of 3 or more are always distinct.
func (e *Engine) Generate(participants []model.Participant) ([]model.Assignment, error) {
	if len(participants) < model.MinParticipants {
		return nil, ErrTooFewParticipants
	}

	ids := make([]uuid.UUID, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	e.rnd.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	assignments := make([]model.Assignment, len(ids))
	for i, id := range ids {
		assignments[i] = model.Assignment{
			GiverID:    id,
			ReceiverID: ids[(i+1)%len(ids)],
		}
	}
	return assignments, nil
}

// Repair gives one participant a new receiver by exchanging receivers with a
// single other giver, leaving every other edge untouched.
//
// If participantID is not a giver in the current set, the input is returned
// unchanged: tolerating stale client state is preferred over a hard error
// here. If no partner satisfies the swap constraints, nil is returned and the
// caller decides between a full reshuffle and rejecting the request. With
// exactly 3 participants this is always the case, since both other edges fail
// the constraints.
//
// Among eligible partners, ones who have not confirmed their assignment are
// strictly preferred, so participants who already saw their receiver are only
// disturbed when unavoidable.
func (e *Engine) Repair(participantID uuid.UUID, assignments []model.Assignment, participants []model.Participant) []model.Assignment {
	requesterIdx := -1
	for i, a := range assignments {
		if a.GiverID == participantID {
			requesterIdx = i
			break
		}
	}
	if requesterIdx == -1 {
		return assignments
	}
	currentReceiver := assignments[requesterIdx].ReceiverID

	confirmed := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		confirmed[p.ID] = p.HasConfirmedAssignment
	}

	// A partner edge partner->D is eligible iff after the swap neither
	// requester->D nor partner->B is a self-loop and the swap actually
	// changes the requester's receiver.
	var eligible, unconfirmed []int
	for i, a := range assignments {
		if a.GiverID == participantID {
			continue
		}
		if a.ReceiverID == participantID {
			continue
		}
		if a.ReceiverID == currentReceiver {
			continue
		}
		if a.GiverID == currentReceiver {
			continue
		}
		eligible = append(eligible, i)
		if !confirmed[a.GiverID] {
			unconfirmed = append(unconfirmed, i)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	pool := eligible
	if len(unconfirmed) > 0 {
		pool = unconfirmed
	}
	partnerIdx := pool[e.rnd.Intn(len(pool))]

	result := make([]model.Assignment, len(assignments))
	copy(result, assignments)
	result[requesterIdx].ReceiverID, result[partnerIdx].ReceiverID =
		result[partnerIdx].ReceiverID, result[requesterIdx].ReceiverID
	return result
}
