package game

import "time"

// Phase is the coarse match lifecycle.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseResults   Phase = "results"
	PhaseForfeited Phase = "forfeited"
)

// QuestionPhase is the fine-grained per-question race state. It is
// meaningful only while the match phase is PhaseActive.
type QuestionPhase string

const (
	QWaiting      QuestionPhase = "waiting"
	QSelfAnswered QuestionPhase = "self-answered"
	QPeerAnswered QuestionPhase = "peer-answered"
	QBothAnswered QuestionPhase = "both-answered"
	QSelfTimedOut QuestionPhase = "self-timed-out"
)

// Highlight marks an answer option on the grid.
type Highlight string

const (
	HighlightCorrect   Highlight = "correct"
	HighlightWrong     Highlight = "wrong"
	HighlightPeerWrong Highlight = "peer-wrong"
)

// ForfeitInfo identifies whoever ended the match early.
type ForfeitInfo struct {
	Name   string
	Avatar string
}

// Record is a completed match summary kept in local history.
type Record struct {
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	Date     time.Time `json:"date"`
	Duration int       `json:"duration"` // minutes
	Correct  int       `json:"correct"`
	Total    int       `json:"total"`
	Percent  int       `json:"percent"`
}

// State is the entire visible match state. It has a single writer (the
// reducer) and is never mutated in place: Apply returns either a new value
// or the identical input when a guard rejects the action.
type State struct {
	Phase         Phase
	QuestionPhase QuestionPhase

	SelfScore     int
	PeerScore     int
	AnsweredCount int

	QuestionIndex   int
	CurrentQuestion *Question

	QuestionStartedAt time.Time
	MatchEndsAt       time.Time

	CountdownValue int

	OptionHighlights map[int]Highlight
	InputLocked      bool
	BonusFlag        bool

	History     []Record
	ForfeitInfo *ForfeitInfo
}

// NewState creates the initial state for a match attempt. Multiplayer
// sessions skip setup and begin directly in the countdown.
func NewState(multiplayer bool) State {
	phase := PhaseSetup
	if multiplayer {
		phase = PhaseCountdown
	}
	return State{
		Phase:            phase,
		QuestionPhase:    QWaiting,
		CountdownValue:   3,
		OptionHighlights: map[int]Highlight{},
	}
}

// Action is a state machine input. Exactly one concrete type per transition.
type Action interface{ isAction() }

// StartMatch begins a new match: setup -> countdown, scores reset.
type StartMatch struct{}

// TickCountdown updates the countdown display value.
type TickCountdown struct{ Value int }

// CountdownFinished moves countdown -> active and fixes the match deadline.
type CountdownFinished struct{ MatchEndsAt time.Time }

// NewQuestion installs the next question and resets per-question state.
// StartedAt is supplied by the caller so the reducer stays clock-free.
type NewQuestion struct {
	Question  Question
	Index     int
	StartedAt time.Time
}

// SelfAnswered records the local player's answer for the current question.
type SelfAnswered struct {
	Value       int
	Correct     bool
	Points      int
	Multiplayer bool
}

// PeerAnswered records the opponent's answer received off the wire.
type PeerAnswered struct {
	Value   int
	Correct bool
	Points  int
}

// SelfTimedOut settles the current question after the local deadline fired.
type SelfTimedOut struct{ Multiplayer bool }

// EndMatch moves active -> results and appends the summary to history.
type EndMatch struct{ Summary Record }

// Forfeit ends the match early, recording who walked away.
type Forfeit struct{ By ForfeitInfo }

// ResetToSetup returns to the setup screen, preserving history.
type ResetToSetup struct{}

// ShowBonus / HideBonus toggle the transient bonus highlight.
type ShowBonus struct{}
type HideBonus struct{}

// LoadHistory replaces the history wholesale (one-time hydration).
type LoadHistory struct{ History []Record }

func (StartMatch) isAction()        {}
func (TickCountdown) isAction()     {}
func (CountdownFinished) isAction() {}
func (NewQuestion) isAction()       {}
func (SelfAnswered) isAction()      {}
func (PeerAnswered) isAction()      {}
func (SelfTimedOut) isAction()      {}
func (EndMatch) isAction()          {}
func (Forfeit) isAction()           {}
func (ResetToSetup) isAction()      {}
func (ShowBonus) isAction()         {}
func (HideBonus) isAction()         {}
func (LoadHistory) isAction()       {}
