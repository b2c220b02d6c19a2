package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists records in the match_records table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pgx pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert appends one record.
func (s *PGStore) Insert(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO match_records (
			id, player_id, opponent, opponent_avatar, opponent_id,
			score, opponent_score, correct, total, percent,
			duration_minutes, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.PlayerID, rec.Opponent, rec.OpponentAvatar, rec.OpponentID,
		rec.Score, rec.OpponentScore, rec.Correct, rec.Total, rec.Percent,
		rec.Duration, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match record: %w", err)
	}
	return nil
}

// ListByPlayer returns the player's records oldest first.
func (s *PGStore) ListByPlayer(ctx context.Context, playerID string) ([]Record, error) {
	const q = `
		SELECT id, player_id, opponent, opponent_avatar, opponent_id,
		       score, opponent_score, correct, total, percent,
		       duration_minutes, finished_at
		FROM match_records
		WHERE player_id = $1
		ORDER BY finished_at ASC`

	rows, err := s.pool.Query(ctx, q, playerID)
	if err != nil {
		return nil, fmt.Errorf("query match records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.PlayerID, &rec.Opponent, &rec.OpponentAvatar, &rec.OpponentID,
			&rec.Score, &rec.OpponentScore, &rec.Correct, &rec.Total, &rec.Percent,
			&rec.Duration, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan match record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match records: %w", err)
	}
	return records, nil
}
