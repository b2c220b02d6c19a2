package game

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQuestion = Question{
	A:       6,
	B:       7,
	Kind:    KindMultiplication,
	Answer:  42,
	Options: []int{36, 42, 48, 54, 40, 35},
	IsHard:  false,
}

var testRecord = Record{
	Name:     "Test",
	Avatar:   "fox",
	Date:     time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
	Duration: 1,
	Correct:  5,
	Total:    10,
	Percent:  50,
}

func activeState(overrides ...func(*State)) State {
	s := NewState(false)
	s.Phase = PhaseActive
	s.QuestionPhase = QWaiting
	q := testQuestion
	s.CurrentQuestion = &q
	s.QuestionIndex = 1
	s.MatchEndsAt = time.Now().Add(time.Minute)
	for _, fn := range overrides {
		fn(&s)
	}
	return s
}

func apply(s State, actions ...Action) State {
	for _, a := range actions {
		s = Apply(s, a)
	}
	return s
}

// sameState asserts a rejected action returned the input verbatim: equal
// fields and the very same highlight map, not a copy.
func sameState(t *testing.T, before, after State) {
	t.Helper()
	assert.Equal(t, before, after)
	assert.Equal(t,
		reflect.ValueOf(before.OptionHighlights).Pointer(),
		reflect.ValueOf(after.OptionHighlights).Pointer(),
		"no-op must not allocate a new highlight map")
}

func TestNewState(t *testing.T) {
	s := NewState(false)
	assert.Equal(t, PhaseSetup, s.Phase)
	assert.Equal(t, QWaiting, s.QuestionPhase)
	assert.Zero(t, s.SelfScore)
	assert.Empty(t, s.History)

	assert.Equal(t, PhaseCountdown, NewState(true).Phase)
}

func TestStartMatch(t *testing.T) {
	s := apply(NewState(false), StartMatch{})
	assert.Equal(t, PhaseCountdown, s.Phase)
	assert.Equal(t, 3, s.CountdownValue)

	dirty := NewState(false)
	dirty.SelfScore = 5
	dirty.AnsweredCount = 10
	dirty.PeerScore = 4
	dirty.QuestionIndex = 9
	s = apply(dirty, StartMatch{})
	assert.Zero(t, s.SelfScore)
	assert.Zero(t, s.AnsweredCount)
	assert.Zero(t, s.PeerScore)
	assert.Zero(t, s.QuestionIndex)

	inMatch := activeState()
	sameState(t, inMatch, Apply(inMatch, StartMatch{}))
}

func TestCountdown(t *testing.T) {
	s := NewState(false)
	s.Phase = PhaseCountdown

	s2 := Apply(s, TickCountdown{Value: 2})
	assert.Equal(t, 2, s2.CountdownValue)

	ends := time.Now().Add(time.Minute)
	s3 := Apply(s2, CountdownFinished{MatchEndsAt: ends})
	assert.Equal(t, PhaseActive, s3.Phase)
	assert.Equal(t, ends, s3.MatchEndsAt)

	sameState(t, s3, Apply(s3, TickCountdown{Value: 1}))
	sameState(t, s3, Apply(s3, CountdownFinished{MatchEndsAt: ends}))
}

func TestNewQuestionResetsPerQuestionState(t *testing.T) {
	s := activeState(func(s *State) {
		s.QuestionPhase = QBothAnswered
		s.OptionHighlights = map[int]Highlight{42: HighlightCorrect}
		s.InputLocked = true
	})
	started := time.Now()
	s2 := Apply(s, NewQuestion{Question: testQuestion, Index: 2, StartedAt: started})
	assert.Equal(t, QWaiting, s2.QuestionPhase)
	assert.Equal(t, 2, s2.QuestionIndex)
	assert.Equal(t, started, s2.QuestionStartedAt)
	assert.Empty(t, s2.OptionHighlights)
	assert.False(t, s2.InputLocked)

	outside := NewState(false)
	sameState(t, outside, Apply(outside, NewQuestion{Question: testQuestion, Index: 1}))
}

func TestSelfAnsweredCorrectSinglePlayer(t *testing.T) {
	s := apply(activeState(), SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: false})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.Equal(t, 1, s.SelfScore)
	assert.Equal(t, 1, s.AnsweredCount)
	assert.Equal(t, HighlightCorrect, s.OptionHighlights[42])
	assert.True(t, s.InputLocked)
}

func TestSelfAnsweredWrongMarksCorrectOption(t *testing.T) {
	s := apply(activeState(), SelfAnswered{Value: 36, Correct: false, Points: 0, Multiplayer: false})
	assert.Equal(t, HighlightWrong, s.OptionHighlights[36])
	assert.Equal(t, HighlightCorrect, s.OptionHighlights[42])
	assert.Zero(t, s.SelfScore)
	assert.Equal(t, 1, s.AnsweredCount)
}

func TestSelfAnsweredMultiplayerWaitsForPeer(t *testing.T) {
	s := apply(activeState(), SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: true})
	assert.Equal(t, QSelfAnswered, s.QuestionPhase)

	// Peer already done: settle immediately.
	s = apply(activeState(func(st *State) { st.QuestionPhase = QPeerAnswered }),
		SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: true})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
}

func TestSelfAnsweredGuardRejectsWhenSettled(t *testing.T) {
	for _, qp := range []QuestionPhase{QSelfAnswered, QBothAnswered, QSelfTimedOut} {
		s := activeState(func(st *State) { st.QuestionPhase = qp })
		sameState(t, s, Apply(s, SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: true}))
	}
}

// The state {active, waiting, no current question} exists between the
// countdown finishing and the first question arriving; answer and timeout
// actions landing there must be inert, not a nil dereference.
func TestActiveWithoutQuestionIsInert(t *testing.T) {
	s := activeState(func(s *State) { s.CurrentQuestion = nil })

	sameState(t, s, Apply(s, SelfAnswered{Value: 42, Correct: false, Multiplayer: false}))
	sameState(t, s, Apply(s, SelfTimedOut{Multiplayer: true}))
}

func TestRaceLockout(t *testing.T) {
	s := apply(activeState(), PeerAnswered{Value: 42, Correct: true, Points: 1})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.Equal(t, 1, s.PeerScore)
	assert.Equal(t, 1, s.AnsweredCount)
	assert.Equal(t, HighlightCorrect, s.OptionHighlights[42])
	assert.True(t, s.InputLocked)
}

func TestPeerAnsweredWrongShowsOnGrid(t *testing.T) {
	s := apply(activeState(), PeerAnswered{Value: 36, Correct: false, Points: 0})
	assert.Equal(t, QPeerAnswered, s.QuestionPhase)
	assert.Equal(t, HighlightPeerWrong, s.OptionHighlights[36])
	assert.Zero(t, s.PeerScore)
	assert.Zero(t, s.AnsweredCount, "a wrong peer answer alone does not settle the question")
	assert.False(t, s.InputLocked)
}

func TestPeerAnsweredSyntheticEchoSettlesWithoutHighlight(t *testing.T) {
	s := activeState(func(st *State) { st.QuestionPhase = QSelfAnswered })
	s = apply(s, PeerAnswered{Value: -1, Correct: false, Points: 0})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.NotContains(t, s.OptionHighlights, -1)
}

func TestPeerAnsweredAfterSelfTimeout(t *testing.T) {
	s := activeState(func(st *State) { st.QuestionPhase = QSelfTimedOut })
	s = apply(s, PeerAnswered{Value: 42, Correct: true, Points: 2})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.Equal(t, 2, s.PeerScore, "sender's points are honored")
}

func TestNoDoubleCountingOnDuplicatePeerAnswers(t *testing.T) {
	s := apply(activeState(),
		PeerAnswered{Value: 42, Correct: true, Points: 1},
		PeerAnswered{Value: 42, Correct: true, Points: 1},
		PeerAnswered{Value: 42, Correct: true, Points: 1},
	)
	assert.Equal(t, 1, s.AnsweredCount)
	assert.Equal(t, 1, s.PeerScore, "duplicate deliveries are absorbed by the guard")
}

func TestTimeout(t *testing.T) {
	s := apply(activeState(), SelfTimedOut{Multiplayer: false})
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.Equal(t, 1, s.AnsweredCount)
	assert.Equal(t, HighlightCorrect, s.OptionHighlights[42])
	assert.True(t, s.InputLocked)

	s = apply(activeState(), SelfTimedOut{Multiplayer: true})
	assert.Equal(t, QSelfTimedOut, s.QuestionPhase)

	settled := activeState(func(st *State) { st.QuestionPhase = QBothAnswered })
	sameState(t, settled, Apply(settled, SelfTimedOut{Multiplayer: true}))
}

func TestEndMatchIdempotent(t *testing.T) {
	s := activeState()
	once := Apply(s, EndMatch{Summary: testRecord})
	require.Equal(t, PhaseResults, once.Phase)
	require.Len(t, once.History, 1)

	twice := Apply(once, EndMatch{Summary: testRecord})
	sameState(t, once, twice)
	assert.Len(t, twice.History, 1)
}

func TestForfeitSupersedesEndMatch(t *testing.T) {
	s := apply(activeState(), Forfeit{By: ForfeitInfo{Name: "Rival", Avatar: "bot"}})
	require.Equal(t, PhaseForfeited, s.Phase)
	require.NotNil(t, s.ForfeitInfo)
	assert.Equal(t, "Rival", s.ForfeitInfo.Name)

	after := Apply(s, EndMatch{Summary: testRecord})
	sameState(t, s, after)
	assert.Empty(t, after.History)
}

func TestForfeitDuringCountdown(t *testing.T) {
	s := NewState(true)
	s = Apply(s, Forfeit{By: ForfeitInfo{Name: "Rival"}})
	assert.Equal(t, PhaseForfeited, s.Phase)

	done := NewState(false)
	done.Phase = PhaseResults
	sameState(t, done, Apply(done, Forfeit{By: ForfeitInfo{Name: "Rival"}}))
}

func TestResetToSetupPreservesHistory(t *testing.T) {
	s := apply(activeState(), EndMatch{Summary: testRecord})
	s = Apply(s, ResetToSetup{})
	assert.Equal(t, PhaseSetup, s.Phase)
	assert.Equal(t, QWaiting, s.QuestionPhase)
	assert.Nil(t, s.ForfeitInfo)
	assert.Len(t, s.History, 1)
}

func TestBonusToggle(t *testing.T) {
	s := apply(activeState(), ShowBonus{})
	assert.True(t, s.BonusFlag)
	s = Apply(s, HideBonus{})
	assert.False(t, s.BonusFlag)

	idle := NewState(false)
	sameState(t, idle, Apply(idle, ShowBonus{}))
}

func TestLoadHistory(t *testing.T) {
	s := Apply(NewState(false), LoadHistory{History: []Record{testRecord, testRecord}})
	assert.Len(t, s.History, 2)
}

func TestSinglePlayerFullRound(t *testing.T) {
	ends := time.Now().Add(time.Minute)
	s := apply(NewState(false),
		StartMatch{},
		TickCountdown{Value: 3},
		TickCountdown{Value: 2},
		TickCountdown{Value: 1},
		CountdownFinished{MatchEndsAt: ends},
	)
	require.Equal(t, PhaseActive, s.Phase)

	s = apply(s,
		NewQuestion{Question: testQuestion, Index: 1, StartedAt: time.Now()},
		SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: false},
	)
	assert.Equal(t, QBothAnswered, s.QuestionPhase)
	assert.Equal(t, 1, s.SelfScore)
	assert.Equal(t, 1, s.AnsweredCount)
}

func TestConsecutiveWrongAnswersDoNotStall(t *testing.T) {
	s := activeState()
	for i := 1; i <= 3; i++ {
		s = Apply(s, NewQuestion{Question: testQuestion, Index: i, StartedAt: time.Now()})
		require.Equal(t, QWaiting, s.QuestionPhase, "question %d must start clean", i)
		require.False(t, s.InputLocked)

		s = Apply(s, SelfAnswered{Value: 36, Correct: false, Points: 0, Multiplayer: false})
		require.Equal(t, QBothAnswered, s.QuestionPhase)
	}
	assert.Equal(t, 3, s.AnsweredCount)
	assert.Zero(t, s.SelfScore)
}

// TestGuardTotality sweeps every phase/questionPhase pair against actions
// whose preconditions cannot hold there and asserts the identity no-op.
func TestGuardTotality(t *testing.T) {
	phases := []Phase{PhaseSetup, PhaseCountdown, PhaseActive, PhaseResults, PhaseForfeited}
	questionPhases := []QuestionPhase{QWaiting, QSelfAnswered, QPeerAnswered, QBothAnswered, QSelfTimedOut}

	valid := func(p Phase, qp QuestionPhase, a Action) bool {
		switch a.(type) {
		case StartMatch:
			return p == PhaseSetup
		case TickCountdown, CountdownFinished:
			return p == PhaseCountdown
		case NewQuestion, EndMatch, ShowBonus, HideBonus:
			return p == PhaseActive
		case SelfAnswered, SelfTimedOut:
			return p == PhaseActive && (qp == QWaiting || qp == QPeerAnswered)
		case PeerAnswered:
			return p == PhaseActive && (qp == QWaiting || qp == QSelfAnswered || qp == QSelfTimedOut)
		case Forfeit:
			return p == PhaseActive || p == PhaseCountdown
		case ResetToSetup, LoadHistory:
			return true
		}
		return false
	}

	actions := []Action{
		StartMatch{},
		TickCountdown{Value: 1},
		CountdownFinished{MatchEndsAt: time.Now()},
		NewQuestion{Question: testQuestion, Index: 2, StartedAt: time.Now()},
		SelfAnswered{Value: 42, Correct: true, Points: 1, Multiplayer: true},
		PeerAnswered{Value: 42, Correct: true, Points: 1},
		SelfTimedOut{Multiplayer: true},
		EndMatch{Summary: testRecord},
		Forfeit{By: ForfeitInfo{Name: "x"}},
		ShowBonus{},
		HideBonus{},
	}

	for _, p := range phases {
		for _, qp := range questionPhases {
			s := activeState(func(st *State) {
				st.Phase = p
				st.QuestionPhase = qp
			})
			for _, a := range actions {
				if valid(p, qp, a) {
					continue
				}
				out := Apply(s, a)
				sameState(t, s, out)
			}
		}
	}
}

func TestScoreMonotonicity(t *testing.T) {
	s := activeState()
	actions := []Action{
		SelfAnswered{Value: 42, Correct: true, Points: 2, Multiplayer: true},
		PeerAnswered{Value: 36, Correct: false, Points: 0},
		NewQuestion{Question: testQuestion, Index: 2, StartedAt: time.Now()},
		PeerAnswered{Value: 42, Correct: true, Points: 1},
		NewQuestion{Question: testQuestion, Index: 3, StartedAt: time.Now()},
		SelfTimedOut{Multiplayer: true},
		PeerAnswered{Value: -1, Correct: false, Points: 0},
	}
	prevSelf, prevPeer := s.SelfScore, s.PeerScore
	for _, a := range actions {
		s = Apply(s, a)
		assert.GreaterOrEqual(t, s.SelfScore, prevSelf)
		assert.GreaterOrEqual(t, s.PeerScore, prevPeer)
		prevSelf, prevPeer = s.SelfScore, s.PeerScore
	}
	assert.Equal(t, 2, s.SelfScore)
	assert.Equal(t, 1, s.PeerScore)
	assert.Equal(t, 3, s.AnsweredCount)
}
