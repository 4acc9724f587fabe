package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPlayerNotFound is returned when a player record does not exist.
var ErrPlayerNotFound = errors.New("player not found")

// Player is a persisted player record. Guest identities are never persisted.
type Player struct {
	ID        string
	FirstSeen time.Time
	LastSeen  time.Time
}

// PlayerRepository provides access to player records.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
func NewPlayerRepository(pool *Pool) *PlayerRepository {
	return &PlayerRepository{db: pool.DB()}
}

// EnsurePlayer records that the player connected, creating the record on
// first sight and bumping last_seen on every subsequent connection.
//
// Precondition: playerID must be non-empty.
// Postcondition: A row for playerID exists with last_seen set to now.
func (r *PlayerRepository) EnsurePlayer(ctx context.Context, playerID string) error {
	if playerID == "" {
		return errors.New("player id must not be empty")
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO players (id, first_seen, last_seen)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW()
	`, playerID)
	if err != nil {
		return fmt.Errorf("upserting player %s: %w", playerID, err)
	}
	return nil
}

// GetPlayer fetches a player record by id.
//
// Postcondition: Returns ErrPlayerNotFound if no row matches.
func (r *PlayerRepository) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, first_seen, last_seen
		FROM players
		WHERE id = $1
	`, playerID)

	var p Player
	if err := row.Scan(&p.ID, &p.FirstSeen, &p.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("querying player %s: %w", playerID, err)
	}
	return &p, nil
}
