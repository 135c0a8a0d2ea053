// Seeds a local database with demo games so the API can be exercised by hand.
// Run with: go run scripts/create_test_data.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"secretsanta/internal/assignment"
	"secretsanta/internal/config"
	"secretsanta/internal/i18n"
	"secretsanta/internal/model"
	"secretsanta/internal/monitoring"
	"secretsanta/internal/notifications"
	"secretsanta/internal/repository"
	"secretsanta/internal/service"
)

func main() {
	cfg := config.NewConfig()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Failed to close database connection: %v", err)
		}
	}()

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Mail goes to the log only; seeding must never send anything.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	notifier := notifications.NewNotifier(logger,
		&notifications.LogSender{Logger: logger}, i18n.New("en"), cfg.Server.BaseURL)
	svc := service.NewGameService(repo, assignment.New(nil), notifier, monitoring.NoopTelemetry{})

	ctx := context.Background()
	eventDate := time.Now().Add(30 * 24 * time.Hour)

	games := []model.CreateGameRequest{
		{
			Name:              "Office Christmas 2026",
			EventDate:         &eventDate,
			Budget:            "EUR 15",
			OrganizerEmail:    "organizer@example.com",
			AllowReassignment: true,
			Participants: []model.NewParticipant{
				{Name: "Alice", Email: "alice@example.com"},
				{Name: "Bob", Email: "bob@example.com"},
				{Name: "Charlie", Email: "charlie@example.com"},
				{Name: "Dave", Email: "dave@example.com"},
				{Name: "Erin", Email: "erin@example.com"},
			},
		},
		{
			Name:              "Family exchange (protected)",
			OrganizerEmail:    "mom@example.com",
			IsProtected:       true,
			AllowReassignment: false,
			Participants: []model.NewParticipant{
				{Name: "Mom", Email: "mom@example.com", PreferredLanguage: "nl"},
				{Name: "Dad", Email: "dad@example.com", PreferredLanguage: "nl"},
				{Name: "Kid", Email: "kid@example.com"},
			},
		},
	}

	for _, req := range games {
		game, err := svc.Create(ctx, req)
		if err != nil {
			log.Fatalf("Failed to create game %q: %v", req.Name, err)
		}
		fmt.Printf("Created game %q\n", game.Name)
		fmt.Printf("  code:            %s\n", game.Code)
		fmt.Printf("  organizer token: %s\n", game.OrganizerToken)
		fmt.Printf("  invitation:      %s/games/%s/join?invitation_token=%s\n",
			cfg.Server.BaseURL, game.Code, game.InvitationToken)
		for _, p := range game.Participants {
			if p.Token != "" {
				fmt.Printf("  %s token: %s\n", p.Name, p.Token)
			}
		}
	}
}
