package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"secretsanta/internal/model"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrCodeTaken    = errors.New("game code already taken")
	// ErrVersionConflict is returned by Replace when the stored aggregate
	// changed since it was read. Callers reload and retry.
	ErrVersionConflict = errors.New("game version conflict")
)

// GameRepository is the storage contract for the Game aggregate. The aggregate
// is read and written whole; Replace performs a compare-and-swap on the
// version stamp so concurrent mutations of the same game cannot silently
// overwrite each other.
type GameRepository interface {
	Create(ctx context.Context, game *model.Game) error
	GetByCode(ctx context.Context, code string) (*model.Game, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Game, error)
	Replace(ctx context.Context, game *model.Game) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListExpiredBefore returns ids of games whose event date lies before the
	// cutoff. Games without an event date are never returned.
	ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	HealthCheck(ctx context.Context) error
}
