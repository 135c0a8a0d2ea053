package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretsanta/internal/assignment"
	"secretsanta/internal/i18n"
	"secretsanta/internal/model"
	"secretsanta/internal/monitoring"
	"secretsanta/internal/notifications"
	"secretsanta/internal/projection"
	"secretsanta/internal/repository"
)

type sentMail struct {
	To      string
	Subject string
}

// recordingSender captures outbound mail for assertions. Dispatch is
// asynchronous, so tests poll via Sent.
type recordingSender struct {
	mu   sync.Mutex
	mail []sentMail
}

func (s *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mail = append(s.mail, sentMail{To: to, Subject: subject})
	return nil
}

func (s *recordingSender) Sent() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMail(nil), s.mail...)
}

func newTestService(t *testing.T) (*GameService, *repository.MemoryRepository, *recordingSender) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	sender := &recordingSender{}

	translator := i18n.New("en")
	translator.Add("en", i18n.Translations{})

	tel := monitoring.NoopTelemetry{}
	notifier := notifications.NewNotifier(tel.Logger(), sender, translator, "http://localhost:3001")
	engine := assignment.New(rand.New(rand.NewSource(21)))

	return NewGameService(repo, engine, notifier, tel), repo, sender
}

func createRequest(protected bool, names ...string) model.CreateGameRequest {
	req := model.CreateGameRequest{
		Name:              "Office 2026",
		OrganizerEmail:    "boss@example.com",
		IsProtected:       protected,
		AllowReassignment: true,
	}
	for _, name := range names {
		req.Participants = append(req.Participants, model.NewParticipant{
			Name:  name,
			Email: name + "@example.com",
		})
	}
	return req
}

func organizer(game *model.Game) projection.Credential {
	return projection.OrganizerToken(game.OrganizerToken)
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err))
}

func TestCreateGameBuildsCycle(t *testing.T) {
	svc, _, _ := newTestService(t)

	game, err := svc.Create(context.Background(), createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	assert.Len(t, game.Code, 6)
	assert.NotEmpty(t, game.OrganizerToken)
	require.Len(t, game.Assignments, 3)

	givers := make(map[uuid.UUID]bool)
	receivers := make(map[uuid.UUID]bool)
	for _, a := range game.Assignments {
		assert.NotEqual(t, a.GiverID, a.ReceiverID)
		givers[a.GiverID] = true
		receivers[a.ReceiverID] = true
	}
	assert.Len(t, givers, 3)
	assert.Len(t, receivers, 3)
}

func TestCreateGameRejectsTooFewParticipants(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), createRequest(false, "Alice", "Bob"))
	requireKind(t, err, KindValidation)
}

func TestCreateGameRejectsPastEventDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := createRequest(false, "Alice", "Bob", "Charlie")
	yesterday := time.Now().Add(-48 * time.Hour)
	req.EventDate = &yesterday

	_, err := svc.Create(context.Background(), req)
	requireKind(t, err, KindValidation)
}

func TestCreateGameRejectsDuplicateNames(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), createRequest(false, "Alice", "alice", "Charlie"))
	requireKind(t, err, KindConflict)
}

func TestCreateProtectedGameMintsTokens(t *testing.T) {
	svc, _, _ := newTestService(t)

	game, err := svc.Create(context.Background(), createRequest(true, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	for _, p := range game.Participants {
		assert.NotEmpty(t, p.Token)
	}
}

func TestReassignmentFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave", "Erin"))
	require.NoError(t, err)

	requester := game.Participants[0]
	oldReceiver := game.ReceiverOf(requester.ID)

	_, err = svc.RequestReassignment(ctx, game.Code, projection.ParticipantID(requester.ID),
		model.RequestReassignment{ParticipantID: requester.ID})
	require.NoError(t, err)

	view, err := svc.ApproveReassignment(ctx, game.Code, organizer(game),
		model.ApproveReassignment{ParticipantID: requester.ID})
	require.NoError(t, err)

	newReceiver := uuid.Nil
	var partnerReceivers []uuid.UUID
	for _, a := range view.Assignments {
		if a.GiverID == requester.ID {
			newReceiver = a.ReceiverID
		} else {
			partnerReceivers = append(partnerReceivers, a.ReceiverID)
		}
	}
	assert.NotEqual(t, oldReceiver, newReceiver, "requester must get a new receiver")
	assert.Contains(t, partnerReceivers, oldReceiver, "partner must inherit the old receiver")

	assert.Empty(t, view.ReassignmentRequests)
	for _, p := range view.Participants {
		assert.False(t, p.HasPendingReassignmentRequest)
	}
}

func TestRequestReassignmentPreconditions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave"))
	require.NoError(t, err)
	pid := game.Participants[0].ID

	t.Run("unknown participant", func(t *testing.T) {
		_, err := svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
			model.RequestReassignment{ParticipantID: uuid.New()})
		requireKind(t, err, KindNotFound)
	})

	t.Run("duplicate request", func(t *testing.T) {
		_, err := svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
			model.RequestReassignment{ParticipantID: pid})
		require.NoError(t, err)

		_, err = svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
			model.RequestReassignment{ParticipantID: pid})
		requireKind(t, err, KindConflict)
	})

	t.Run("disallowed by game", func(t *testing.T) {
		closed, err := svc.Create(ctx, createRequest(false, "Xena", "Yuri", "Zoe"))
		require.NoError(t, err)
		allow := false
		_, err = svc.UpdateDetails(ctx, closed.Code, organizer(closed),
			model.UpdateDetails{AllowReassignment: &allow})
		require.NoError(t, err)

		_, err = svc.RequestReassignment(ctx, closed.Code, projection.Anonymous{},
			model.RequestReassignment{ParticipantID: closed.Participants[0].ID})
		requireKind(t, err, KindForbidden)
	})
}

func TestApproveReassignmentWithoutPendingRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave"))
	require.NoError(t, err)

	_, err = svc.ApproveReassignment(ctx, game.Code, organizer(game),
		model.ApproveReassignment{ParticipantID: game.Participants[0].ID})
	requireKind(t, err, KindConflict)
}

func TestApproveReassignmentInfeasibleLeavesStateIntact(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	// With exactly 3 participants no swap partner can satisfy the
	// constraints, so approval must fail without touching the game.
	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)
	pid := game.Participants[0].ID

	_, err = svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
		model.RequestReassignment{ParticipantID: pid})
	require.NoError(t, err)

	_, err = svc.ApproveReassignment(ctx, game.Code, organizer(game),
		model.ApproveReassignment{ParticipantID: pid})
	requireKind(t, err, KindUnprocessable)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	assert.Equal(t, game.Assignments, stored.Assignments)
	assert.NotNil(t, stored.PendingRequestFor(pid), "request must stay pending")
}

func TestApproveAllReassignmentsPartialSuccess(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave", "Erin", "Finn"))
	require.NoError(t, err)

	for _, p := range game.Participants[:2] {
		_, err := svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
			model.RequestReassignment{ParticipantID: p.ID})
		require.NoError(t, err)
	}

	view, err := svc.ApproveAllReassignments(ctx, game.Code, organizer(game))
	require.NoError(t, err)
	assert.Empty(t, view.ReassignmentRequests)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	require.Len(t, stored.Assignments, 6)
}

func TestAddParticipantRegeneratesAssignments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	view, err := svc.AddParticipant(ctx, game.Code, organizer(game), model.AddParticipant{
		Participant: model.NewParticipant{Name: "Dave", Email: "dave@example.com"},
	})
	require.NoError(t, err)

	require.Len(t, view.Participants, 4)
	require.Len(t, view.Assignments, 4, "full regeneration must cover the new participant")

	givers := make(map[uuid.UUID]bool)
	for _, a := range view.Assignments {
		assert.NotEqual(t, a.GiverID, a.ReceiverID)
		givers[a.GiverID] = true
	}
	assert.Len(t, givers, 4)
}

func TestAddParticipantDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	_, err = svc.AddParticipant(ctx, game.Code, organizer(game), model.AddParticipant{
		Participant: model.NewParticipant{Name: "Alicia", Email: "Alice@example.com"},
	})
	requireKind(t, err, KindConflict)
}

func TestRemoveParticipantBelowThresholdClearsAssignments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	view, err := svc.RemoveParticipant(ctx, game.Code, organizer(game),
		model.RemoveParticipant{ParticipantID: game.Participants[0].ID})
	require.NoError(t, err)

	assert.Len(t, view.Participants, 2)
	assert.Empty(t, view.Assignments)
}

func TestRemoveParticipantDropsTheirPendingRequest(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave"))
	require.NoError(t, err)
	pid := game.Participants[1].ID

	_, err = svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
		model.RequestReassignment{ParticipantID: pid})
	require.NoError(t, err)

	_, err = svc.RemoveParticipant(ctx, game.Code, organizer(game),
		model.RemoveParticipant{ParticipantID: pid})
	require.NoError(t, err)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	assert.Empty(t, stored.ReassignmentRequests)
}

func TestConfirmAssignmentUnknownParticipantIsNoOp(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	_, err = svc.ConfirmAssignment(ctx, game.Code, projection.Anonymous{},
		model.ConfirmAssignment{ParticipantID: uuid.New()})
	require.NoError(t, err)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	assert.Equal(t, game.Version, stored.Version, "no-op must not write")
}

func TestConfirmAllNotifiesOrganizer(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	for _, p := range game.Participants {
		_, err := svc.ConfirmAssignment(ctx, game.Code, projection.Anonymous{},
			model.ConfirmAssignment{ParticipantID: p.ID})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for _, mail := range sender.Sent() {
			if mail.To == "boss@example.com" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "organizer should be mailed once everyone confirmed")
}

func TestJoinInvitation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(true, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	t.Run("wrong token", func(t *testing.T) {
		_, err := svc.Join(ctx, game.Code, model.JoinInvitationRequest{
			InvitationToken: "wrong",
			Participant:     model.NewParticipant{Name: "Dave"},
		})
		requireKind(t, err, KindForbidden)
	})

	t.Run("joins and redraws", func(t *testing.T) {
		view, err := svc.Join(ctx, game.Code, model.JoinInvitationRequest{
			InvitationToken: game.InvitationToken,
			Participant:     model.NewParticipant{Name: "Dave", Email: "dave@example.com"},
		})
		require.NoError(t, err)

		require.NotNil(t, view.AuthenticatedParticipantID)
		require.Len(t, view.Assignments, 1, "joiner sees only their own edge")
		assert.Equal(t, *view.AuthenticatedParticipantID, view.Assignments[0].GiverID)
		assert.Len(t, view.Participants, 4)

		// Own token visible, everyone else's stripped.
		for _, p := range view.Participants {
			if p.ID == *view.AuthenticatedParticipantID {
				assert.NotEmpty(t, p.Token)
			} else {
				assert.Empty(t, p.Token)
			}
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := svc.Join(ctx, game.Code, model.JoinInvitationRequest{
			InvitationToken: game.InvitationToken,
			Participant:     model.NewParticipant{Name: "alice"},
		})
		requireKind(t, err, KindConflict)
	})
}

func TestRotateOrganizerToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	view, err := svc.RotateOrganizerToken(ctx, game.Code, organizer(game))
	require.NoError(t, err)
	require.NotEmpty(t, view.OrganizerToken)
	assert.NotEqual(t, game.OrganizerToken, view.OrganizerToken)

	// The old token no longer authorizes organizer actions.
	_, err = svc.ReassignAll(ctx, game.Code, organizer(game))
	requireKind(t, err, KindForbidden)

	_, err = svc.ReassignAll(ctx, game.Code, projection.OrganizerToken(view.OrganizerToken))
	require.NoError(t, err)
}

func TestReassignAllClearsConfirmationsAndRequests(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie", "Dave"))
	require.NoError(t, err)

	_, err = svc.ConfirmAssignment(ctx, game.Code, projection.Anonymous{},
		model.ConfirmAssignment{ParticipantID: game.Participants[0].ID})
	require.NoError(t, err)
	_, err = svc.RequestReassignment(ctx, game.Code, projection.Anonymous{},
		model.RequestReassignment{ParticipantID: game.Participants[1].ID})
	require.NoError(t, err)

	_, err = svc.ReassignAll(ctx, game.Code, organizer(game))
	require.NoError(t, err)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	assert.Empty(t, stored.ReassignmentRequests)
	for _, p := range stored.Participants {
		assert.False(t, p.HasConfirmedAssignment)
		assert.False(t, p.HasPendingReassignmentRequest)
	}
}

func TestDeleteGame(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	err = svc.Delete(ctx, game.Code, projection.OrganizerToken("wrong"))
	requireKind(t, err, KindForbidden)

	err = svc.Delete(ctx, game.Code, organizer(game))
	require.NoError(t, err)

	_, err = svc.Get(ctx, game.Code, projection.Anonymous{})
	requireKind(t, err, KindNotFound)
}

func TestUpdateWishUnknownParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	_, err = svc.UpdateWish(ctx, game.Code, projection.Anonymous{},
		model.UpdateWish{ParticipantID: uuid.New(), Wish: "a pony"})
	requireKind(t, err, KindNotFound)
}

func TestOrganizerActionsRequireToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	_, err = svc.ReassignAll(ctx, game.Code, projection.Anonymous{})
	requireKind(t, err, KindUnauthorized)

	_, err = svc.AddParticipant(ctx, game.Code, projection.OrganizerToken("wrong"),
		model.AddParticipant{Participant: model.NewParticipant{Name: "Mallory"}})
	requireKind(t, err, KindForbidden)
}

// conflictOnceRepo forces one version conflict to exercise the retry loop.
type conflictOnceRepo struct {
	*repository.MemoryRepository
	mu       sync.Mutex
	conflict bool
}

func (r *conflictOnceRepo) Replace(ctx context.Context, game *model.Game) error {
	r.mu.Lock()
	first := !r.conflict
	r.conflict = true
	r.mu.Unlock()
	if first {
		return repository.ErrVersionConflict
	}
	return r.MemoryRepository.Replace(ctx, game)
}

func TestMutationRetriesOnVersionConflict(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	game, err := svc.Create(ctx, createRequest(false, "Alice", "Bob", "Charlie"))
	require.NoError(t, err)

	retrying := NewGameService(&conflictOnceRepo{MemoryRepository: repo},
		assignment.New(rand.New(rand.NewSource(2))),
		notifications.NewNotifier(monitoring.NoopTelemetry{}.Logger(), &recordingSender{}, i18n.New("en"), ""),
		monitoring.NoopTelemetry{})

	_, err = retrying.ConfirmAssignment(ctx, game.Code, projection.Anonymous{},
		model.ConfirmAssignment{ParticipantID: game.Participants[0].ID})
	require.NoError(t, err)

	stored, err := repo.GetByCode(ctx, game.Code)
	require.NoError(t, err)
	assert.True(t, stored.ParticipantByID(game.Participants[0].ID).HasConfirmedAssignment)
}
