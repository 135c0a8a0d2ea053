package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"secretsanta/internal/model"
)

// MemoryRepository is an in-process GameRepository with the same versioning
// semantics as the Postgres implementation. Used by tests and local demos.
type MemoryRepository struct {
	mu    sync.RWMutex
	games map[uuid.UUID]storedGame
	codes map[string]uuid.UUID
}

type storedGame struct {
	doc       []byte
	eventDate *time.Time
	version   int64
	createdAt time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		games: make(map[uuid.UUID]storedGame),
		codes: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, game *model.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[game.Code]; taken {
		return ErrCodeTaken
	}
	game.Version = 1
	doc, err := json.Marshal(game)
	if err != nil {
		return err
	}
	r.games[game.ID] = storedGame{doc: doc, eventDate: game.EventDate, version: 1, createdAt: game.CreatedAt}
	r.codes[game.Code] = game.ID
	return nil
}

func (r *MemoryRepository) GetByCode(ctx context.Context, code string) (*model.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, ErrGameNotFound
	}
	return r.decode(id)
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decode(id)
}

func (r *MemoryRepository) decode(id uuid.UUID) (*model.Game, error) {
	stored, ok := r.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	var game model.Game
	if err := json.Unmarshal(stored.doc, &game); err != nil {
		return nil, err
	}
	game.Version = stored.version
	return &game, nil
}

func (r *MemoryRepository) Replace(ctx context.Context, game *model.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.games[game.ID]
	if !ok {
		return ErrGameNotFound
	}
	if stored.version != game.Version {
		return ErrVersionConflict
	}
	doc, err := json.Marshal(game)
	if err != nil {
		return err
	}
	stored.doc = doc
	stored.eventDate = game.EventDate
	stored.version++
	r.games[game.ID] = stored
	game.Version = stored.version
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.games[id]
	if !ok {
		return ErrGameNotFound
	}
	var game model.Game
	if err := json.Unmarshal(stored.doc, &game); err == nil {
		delete(r.codes, game.Code)
	}
	delete(r.games, id)
	return nil
}

func (r *MemoryRepository) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for id, stored := range r.games {
		if stored.eventDate != nil && stored.eventDate.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MemoryRepository) HealthCheck(ctx context.Context) error {
	return nil
}
