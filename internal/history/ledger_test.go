package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	inserted []Record
	records  []Record
	err      error
}

func (s *stubStore) Insert(_ context.Context, rec Record) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *stubStore) ListByPlayer(context.Context, string) ([]Record, error) {
	return s.records, s.err
}

func TestSaveAssignsID(t *testing.T) {
	store := &stubStore{}
	ledger := NewLedger(store, zerolog.Nop())

	require.NoError(t, ledger.Save(context.Background(), Record{PlayerID: "p-1", Score: 5}))
	require.Len(t, store.inserted, 1)
	assert.NotEqual(t, uuid.Nil, store.inserted[0].ID)
}

func TestLoadAllSwallowsStoreFailure(t *testing.T) {
	store := &stubStore{err: errors.New("connection refused")}
	ledger := NewLedger(store, zerolog.Nop())

	records := ledger.LoadAll(context.Background(), "p-1")
	assert.Empty(t, records, "an unreadable ledger reads as empty")
}

func TestLastOf(t *testing.T) {
	assert.Nil(t, LastOf(nil))

	records := []Record{
		{Opponent: "Alice", Score: 3, OpponentScore: 7},
		{Opponent: "Bob", Score: 9, OpponentScore: 4},
	}
	last := LastOf(records)
	require.NotNil(t, last)
	assert.Equal(t, "Bob", last.Opponent)
	assert.True(t, last.Won)
}

func TestGameRecords(t *testing.T) {
	now := time.Now()
	out := GameRecords([]Record{{
		Opponent: "Alice", OpponentAvatar: "fox", FinishedAt: now,
		Duration: 2, Correct: 8, Total: 10, Percent: 80,
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "Alice", out[0].Name)
	assert.Equal(t, 80, out[0].Percent)
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 0, PercentOf(0, 0))
	assert.Equal(t, 67, PercentOf(2, 3))
	assert.Equal(t, 100, PercentOf(5, 5))
}
