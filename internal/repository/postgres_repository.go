package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"secretsanta/internal/model"
)

// PostgresRepository stores each game as a JSONB document keyed by id, with
// the shareable code and version stamp lifted into columns so lookup and
// compare-and-swap stay plain SQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the games table. cmd/migrate drives versioned migrations for
// deployments; this keeps local development and tests self-contained.
func (r *PostgresRepository) Migrate() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tbl_game (
		id UUID PRIMARY KEY,
		code VARCHAR(6) NOT NULL UNIQUE,
		event_date TIMESTAMP,
		version BIGINT NOT NULL DEFAULT 1,
		document JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	_, err = r.db.Exec(`
	CREATE TABLE IF NOT EXISTS rate_limits (
		k VARCHAR(255) PRIMARY KEY,
		v BYTEA,
		e BIGINT
	);`)
	if err != nil {
		return fmt.Errorf("failed to create rate_limits table: %w", err)
	}

	slog.Info("Database migration completed")
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, game *model.Game) error {
	doc, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}

	game.Version = 1
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO tbl_game (id, code, event_date, version, document, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		game.ID, game.Code, game.EventDate, game.Version, doc, game.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (*model.Game, error) {
	return r.get(ctx, "SELECT document, version FROM tbl_game WHERE code = $1", code)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Game, error) {
	return r.get(ctx, "SELECT document, version FROM tbl_game WHERE id = $1", id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg any) (*model.Game, error) {
	var (
		doc     []byte
		version int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to load game: %w", err)
	}

	var game model.Game
	if err := json.Unmarshal(doc, &game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game document: %w", err)
	}
	game.Version = version
	return &game, nil
}

// Replace writes the aggregate back, guarded by the version read earlier. A
// zero-row update means someone else won the race; the caller gets
// ErrVersionConflict and is expected to reload and retry.
func (r *PostgresRepository) Replace(ctx context.Context, game *model.Game) error {
	doc, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE tbl_game SET document = $1, event_date = $2, version = version + 1 WHERE id = $3 AND version = $4",
		doc, game.EventDate, game.ID, game.Version)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a deleted game.
		if _, getErr := r.GetByID(ctx, game.ID); errors.Is(getErr, ErrGameNotFound) {
			return ErrGameNotFound
		}
		return ErrVersionConflict
	}
	game.Version++
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tbl_game WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (r *PostgresRepository) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM tbl_game WHERE event_date IS NOT NULL AND event_date < $1", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired games: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("Failed to close rows", "error", err)
		}
	}()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
