// Package history is the append-only finished-match ledger. Records are
// written once at match end and read once at session start; an unreadable
// ledger is treated as empty, never as a fatal condition.
package history

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/game"
	"github.com/glitchmath/duel/internal/wire"
)

// Record is one finished match from the local player's point of view.
type Record struct {
	ID             uuid.UUID
	PlayerID       string
	Opponent       string
	OpponentAvatar string
	OpponentID     string
	Score          int
	OpponentScore  int
	Correct        int
	Total          int
	Percent        int
	Duration       int // minutes
	FinishedAt     time.Time
}

type store interface {
	Insert(ctx context.Context, rec Record) error
	ListByPlayer(ctx context.Context, playerID string) ([]Record, error)
}

// Ledger wraps a record store with the session's failure policy.
type Ledger struct {
	store  store
	logger zerolog.Logger
}

// NewLedger constructs the ledger over a record store.
func NewLedger(s store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  s,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Save appends one record. Callers treat failures as non-fatal.
func (l *Ledger) Save(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return l.store.Insert(ctx, rec)
}

// LoadAll returns the player's records ordered oldest first. A store failure
// is logged and yields an empty history so the session can still start.
func (l *Ledger) LoadAll(ctx context.Context, playerID string) []Record {
	records, err := l.store.ListByPlayer(ctx, playerID)
	if err != nil {
		l.logger.Warn().Err(err).Str("player_id", playerID).Msg("history unavailable, starting empty")
		return nil
	}
	return records
}

// GameRecords converts ledger rows to the in-match history representation.
func GameRecords(records []Record) []game.Record {
	out := make([]game.Record, 0, len(records))
	for _, r := range records {
		out = append(out, game.Record{
			Name:     r.Opponent,
			Avatar:   r.OpponentAvatar,
			Date:     r.FinishedAt,
			Duration: r.Duration,
			Correct:  r.Correct,
			Total:    r.Total,
			Percent:  r.Percent,
		})
	}
	return out
}

// LastOf summarizes the most recent record for the lobby presence card.
// Returns nil for an empty history.
func LastOf(records []Record) *wire.LastMatch {
	if len(records) == 0 {
		return nil
	}
	last := records[len(records)-1]
	return &wire.LastMatch{
		Opponent:      last.Opponent,
		Score:         last.Score,
		OpponentScore: last.OpponentScore,
		Won:           last.Score > last.OpponentScore,
	}
}

// PercentOf computes the rounded accuracy percentage.
func PercentOf(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}
