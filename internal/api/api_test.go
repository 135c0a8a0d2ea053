package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretsanta/internal/assignment"
	"secretsanta/internal/i18n"
	"secretsanta/internal/monitoring"
	"secretsanta/internal/notifications"
	"secretsanta/internal/projection"
	"secretsanta/internal/repository"
	"secretsanta/internal/service"
)

func newTestApp(t *testing.T) (*fiber.App, *repository.MemoryRepository) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	tel := monitoring.NoopTelemetry{}
	notifier := notifications.NewNotifier(tel.Logger(), &notifications.LogSender{Logger: tel.Logger()},
		i18n.New("en"), "http://localhost:3001")
	svc := service.NewGameService(repo, assignment.New(rand.New(rand.NewSource(7))), notifier, tel)

	app := fiber.New()
	handler := NewGameHandler(svc, nil, tel)
	handler.RegisterRoutes(app)

	health := NewHealthHandler(repo)
	app.Get("/health", health.Healthy)

	return app, repo
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	if resp.ContentLength != 0 && resp.StatusCode != fiber.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func createGame(t *testing.T, app *fiber.App) map[string]any {
	t.Helper()

	resp, body := doJSON(t, app, "POST", "/api/games/", map[string]any{
		"name": "Office 2026",
		"participants": []map[string]any{
			{"name": "Alice", "email": "alice@example.com"},
			{"name": "Bob", "email": "bob@example.com"},
			{"name": "Charlie", "email": "charlie@example.com"},
		},
		"allow_reassignment": true,
	}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return body
}

func TestCreateGameEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	body := createGame(t, app)
	assert.Len(t, body["code"], 6)
	assert.NotEmpty(t, body["organizer_token"])
	assert.Len(t, body["assignments"], 3)
	assert.Len(t, body["participants"], 3)
}

func TestCreateGameValidation(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/games/", map[string]any{
		"name": "Too small",
		"participants": []map[string]any{
			{"name": "Alice"},
			{"name": "Bob"},
		},
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Participants")
}

func TestGetGameProjections(t *testing.T) {
	app, _ := newTestApp(t)
	game := createGame(t, app)
	code := game["code"].(string)

	t.Run("anonymous sees no assignments", func(t *testing.T) {
		resp, body := doJSON(t, app, "GET", "/api/games/"+code, nil, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, body["assignments"])
		assert.Empty(t, body["organizer_token"])
	})

	t.Run("organizer sees everything", func(t *testing.T) {
		resp, body := doJSON(t, app, "GET", "/api/games/"+code, nil, map[string]string{
			"X-Organizer-Token": game["organizer_token"].(string),
		})
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Len(t, body["assignments"], 3)
	})

	t.Run("participant sees own edge", func(t *testing.T) {
		participants := game["participants"].([]any)
		pid := participants[0].(map[string]any)["id"].(string)

		resp, body := doJSON(t, app, "GET", "/api/games/"+code+"?participant_id="+pid, nil, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		require.Len(t, body["assignments"], 1)
		edge := body["assignments"].([]any)[0].(map[string]any)
		assert.Equal(t, pid, edge["giver_id"])
	})

	t.Run("unknown code", func(t *testing.T) {
		resp, _ := doJSON(t, app, "GET", "/api/games/000000", nil, nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

func TestApplyActionEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	game := createGame(t, app)
	code := game["code"].(string)
	organizerHeader := map[string]string{"X-Organizer-Token": game["organizer_token"].(string)}
	pid := game["participants"].([]any)[0].(map[string]any)["id"].(string)

	t.Run("confirm assignment", func(t *testing.T) {
		resp, _ := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{
			"action":         "confirm_assignment",
			"participant_id": pid,
		}, nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("organizer action without token", func(t *testing.T) {
		resp, _ := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{
			"action": "reassign_all",
		}, nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("organizer action with token", func(t *testing.T) {
		resp, body := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{
			"action": "reassign_all",
		}, organizerHeader)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Len(t, body["assignments"], 3)
	})

	t.Run("unknown action", func(t *testing.T) {
		resp, body := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{
			"action": "explode",
		}, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "explode")
	})

	t.Run("missing action", func(t *testing.T) {
		resp, _ := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{}, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("approve without pending request conflicts", func(t *testing.T) {
		resp, _ := doJSON(t, app, "PATCH", "/api/games/"+code, map[string]any{
			"action":         "approve_reassignment",
			"participant_id": pid,
		}, organizerHeader)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})
}

func TestJoinEndpoint(t *testing.T) {
	app, repo := newTestApp(t)
	game := createGame(t, app)
	code := game["code"].(string)

	stored, err := repo.GetByCode(context.Background(), code)
	require.NoError(t, err)

	resp, body := doJSON(t, app, "POST", fmt.Sprintf("/api/games/%s/join", code), map[string]any{
		"invitation_token": stored.InvitationToken,
		"participant":      map[string]any{"name": "Dave", "email": "dave@example.com"},
	}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["authenticated_participant_id"])
	assert.Len(t, body["participants"], 4)
	assert.Len(t, body["assignments"], 1)

	t.Run("wrong invitation token", func(t *testing.T) {
		resp, _ := doJSON(t, app, "POST", fmt.Sprintf("/api/games/%s/join", code), map[string]any{
			"invitation_token": "nope",
			"participant":      map[string]any{"name": "Erin"},
		}, nil)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})
}

func TestRecoverEndpointHidesMatches(t *testing.T) {
	app, _ := newTestApp(t)
	game := createGame(t, app)
	code := game["code"].(string)

	// Matching and non-matching addresses must be indistinguishable.
	for _, email := range []string{"boss@example.com", "stranger@example.com"} {
		resp, body := doJSON(t, app, "POST", fmt.Sprintf("/api/games/%s/recover", code), map[string]any{
			"email": email,
		}, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, body["organizer_token"])
	}
}

func TestDeleteEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	game := createGame(t, app)
	code := game["code"].(string)

	resp, _ := doJSON(t, app, "DELETE", "/api/games/"+code, nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, app, "DELETE", "/api/games/"+code, nil, map[string]string{
		"X-Organizer-Token": game["organizer_token"].(string),
	})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, "GET", "/api/games/"+code, nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "GET", "/health", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, fiber.StatusBadRequest, statusOf(service.KindValidation))
	assert.Equal(t, fiber.StatusUnprocessableEntity, statusOf(service.KindUnprocessable))
	assert.Equal(t, fiber.StatusInternalServerError, statusOf(service.KindInternal))
}

func TestCredentialPrecedence(t *testing.T) {
	app := fiber.New()
	var cred projection.Credential
	app.Get("/probe", func(c *fiber.Ctx) error {
		cred = credentialFrom(c)
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/probe?participant_token=pt", nil)
	req.Header.Set("X-Organizer-Token", "ot")
	_, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, projection.OrganizerToken("ot"), cred)

	req = httptest.NewRequest("GET", "/probe?participant_token=pt", nil)
	_, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, projection.ParticipantToken("pt"), cred)
}
