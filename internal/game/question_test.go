package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorOptionInvariants(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(1)))

	for i := 0; i < 500; i++ {
		q := g.Next()
		require.Len(t, q.Options, OptionCount)

		seen := map[int]int{}
		for _, opt := range q.Options {
			require.Greater(t, opt, 0, "options must be positive")
			seen[opt]++
		}
		require.Len(t, seen, OptionCount, "options must be distinct")
		require.Equal(t, 1, seen[q.Answer], "answer must appear exactly once")
	}
}

func TestGeneratorArithmetic(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(2)))

	for i := 0; i < 500; i++ {
		q := g.Next()
		switch q.Kind {
		case KindMultiplication:
			assert.Equal(t, q.A*q.B, q.Answer)
			assert.GreaterOrEqual(t, q.A, 2)
			assert.LessOrEqual(t, q.A, 10)
			assert.GreaterOrEqual(t, q.B, 2)
			assert.LessOrEqual(t, q.B, 12)
		case KindDivision:
			require.NotZero(t, q.B)
			assert.Equal(t, 0, q.A%q.B, "dividend must divide evenly")
			assert.Equal(t, q.A/q.B, q.Answer)
			assert.GreaterOrEqual(t, q.B, 2)
			assert.LessOrEqual(t, q.B, 10)
			assert.GreaterOrEqual(t, q.Answer, 2)
			assert.LessOrEqual(t, q.Answer, 12)
		default:
			t.Fatalf("unknown kind %q", q.Kind)
		}
	}
}

func TestGeneratorHardFlag(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(3)))

	sawHard := false
	for i := 0; i < 500; i++ {
		q := g.Next()
		var want bool
		if q.Kind == KindMultiplication {
			want = hardTables[q.A] && hardTables[q.B]
		} else {
			want = hardTables[q.B] && hardTables[q.Answer]
		}
		require.Equal(t, want, q.IsHard)
		sawHard = sawHard || q.IsHard
	}
	assert.True(t, sawHard, "hard questions should occur within 500 draws")
}

func TestGeneratorWeightsHardTables(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(4)))

	hard, easy := 0, 0
	for i := 0; i < 5000; i++ {
		q := g.Next()
		operand := q.A
		if q.Kind == KindDivision {
			operand = q.B
		}
		if hardTables[operand] {
			hard++
		} else {
			easy++
		}
	}
	// 4 hard values at weight 1.6 out of 9 values in [2,10]:
	// expected hard share 6.4/11.4 ~= 0.56. Allow generous slack.
	share := float64(hard) / float64(hard+easy)
	assert.Greater(t, share, 0.48, "hard tables should be over-represented")
	assert.Less(t, share, 0.65)
}
