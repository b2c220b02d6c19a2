package match

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/config"
	"github.com/glitchmath/duel/internal/game"
	"github.com/glitchmath/duel/internal/history"
	"github.com/glitchmath/duel/internal/metrics"
	"github.com/glitchmath/duel/internal/multiplayer"
	"github.com/glitchmath/duel/internal/timing"
	"github.com/glitchmath/duel/internal/wire"
)

// Ledger is the slice of the history store the orchestrator needs.
type Ledger interface {
	Save(ctx context.Context, rec history.Record) error
	LoadAll(ctx context.Context, playerID string) []history.Record
}

// Config wires an orchestrator.
type Config struct {
	Params    Params
	Self      multiplayer.Identity
	Generator *game.Generator
	Clock     clockwork.Clock
	Channel   multiplayer.Channel      // nil for single-player
	Presence  multiplayer.PresenceFeed // optional
	Ledger    Ledger                   // optional
	Durations config.Game
	Logger    zerolog.Logger

	// OnState observes every applied state, on the session event thread.
	OnState func(game.State)
	// OnProgress reports the remaining fraction of the question window.
	OnProgress func(remaining float64)
	// OnReturn fires when a forfeited match's grace period ends.
	OnReturn func()
}

// Orchestrator drives one match session: it translates user input, timer
// expirations, and peer messages into reducer actions, mirrors local events
// to the peer, and persists the finished-match summary. All events funnel
// through a run-to-completion queue so match logic never interleaves.
type Orchestrator struct {
	cfg     Config
	timers  *timing.Controller
	adapter *multiplayer.Adapter
	logger  zerolog.Logger

	qmu      sync.Mutex
	queue    []func()
	draining bool

	// state is written only on the event timeline; smu makes the last
	// applied value readable from other goroutines.
	smu   sync.RWMutex
	state game.State

	// Owned by the event queue.
	correct int
	ctx     context.Context
}

// New builds a session for the given params. Multiplayer sessions require a
// non-nil Channel.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "orchestrator").Str("channel", cfg.Params.Channel).Logger(),
		state:  game.NewState(cfg.Params.Multiplayer),
	}
	o.timers = timing.New(cfg.Clock, o.dispatch)

	if cfg.Params.Multiplayer {
		o.adapter = multiplayer.New(multiplayer.Config{
			Channel:  cfg.Channel,
			Presence: cfg.Presence,
			Self:     cfg.Self,
			Opponent: multiplayer.Identity{
				PlayerID: cfg.Params.OpponentID,
				Name:     cfg.Params.OpponentName,
				Avatar:   cfg.Params.OpponentAvatar,
			},
			MatchID:  cfg.Params.Channel,
			Dispatch: o.dispatch,
			State:    func() game.State { return o.state },
			Events: multiplayer.Events{
				OnQuestion:   o.peerQuestion,
				OnPeerAnswer: o.peerAnswer,
				OnMatchEnd:   o.peerMatchEnd,
				OnForfeit:    o.peerForfeit,
			},
			Clock:  cfg.Clock.Now,
			Logger: cfg.Logger,
		})
	}
	return o
}

// State returns the last applied state. Safe to call from any goroutine.
func (o *Orchestrator) State() game.State {
	o.smu.RLock()
	defer o.smu.RUnlock()
	return o.state
}

// dispatch runs fn on the session timeline: events execute one at a time in
// submission order, and an event that enqueues further work (a publish whose
// loopback delivery re-enters, a timer firing mid-event) has that work run
// after it completes rather than nested inside it.
func (o *Orchestrator) dispatch(fn func()) {
	o.qmu.Lock()
	o.queue = append(o.queue, fn)
	if o.draining {
		o.qmu.Unlock()
		return
	}
	o.draining = true
	for {
		if len(o.queue) == 0 {
			o.draining = false
			o.qmu.Unlock()
			return
		}
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.qmu.Unlock()
		next()
		o.qmu.Lock()
	}
}

func (o *Orchestrator) apply(a game.Action) {
	next := game.Apply(o.state, a)
	o.smu.Lock()
	o.state = next
	o.smu.Unlock()
	if o.cfg.OnState != nil {
		o.cfg.OnState(next)
	}
}

// Start hydrates history and, for multiplayer sessions, connects the sync
// adapter and begins the countdown immediately. Single-player sessions stay
// in setup until Begin.
func (o *Orchestrator) Start(ctx context.Context) error {
	var startErr error
	o.dispatch(func() {
		o.ctx = ctx
		if o.cfg.Ledger != nil {
			records := o.cfg.Ledger.LoadAll(ctx, o.cfg.Self.PlayerID)
			o.apply(game.LoadHistory{History: history.GameRecords(records)})
		}
		if o.adapter != nil {
			if err := o.adapter.Start(ctx); err != nil {
				startErr = err
				return
			}
			o.runCountdown()
		}
	})
	return startErr
}

// Begin starts a single-player match from the setup screen.
func (o *Orchestrator) Begin() {
	o.dispatch(func() {
		if o.state.Phase != game.PhaseSetup {
			return
		}
		o.apply(game.StartMatch{})
		o.runCountdown()
	})
}

func (o *Orchestrator) runCountdown() {
	o.timers.RunCountdown(
		func(v int) { o.apply(game.TickCountdown{Value: v}) },
		func() {
			o.apply(game.CountdownFinished{MatchEndsAt: o.cfg.Clock.Now().Add(o.cfg.Params.Duration)})
			if o.isProducer() {
				o.nextQuestion()
			}
			// The guest waits for the host's first question broadcast.
		},
	)
}

// isProducer reports whether this side generates questions and decides
// advance-vs-end. True for single-player and the multiplayer host.
func (o *Orchestrator) isProducer() bool {
	return !o.cfg.Params.Multiplayer || o.cfg.Params.Role == RoleHost
}

func (o *Orchestrator) nextQuestion() {
	q := o.cfg.Generator.Next()
	index := o.state.QuestionIndex + 1
	o.installQuestion(index, q)
	if o.adapter != nil {
		o.adapter.PublishQuestion(o.ctx, index, q)
	}
}

func (o *Orchestrator) installQuestion(index int, q game.Question) {
	o.apply(game.NewQuestion{Question: q, Index: index, StartedAt: o.cfg.Clock.Now()})
	o.timers.StartQuestionClock(o.cfg.OnProgress, o.timedOut)
}

// peerQuestion installs a host-broadcast question on the guest side.
// Duplicates and stale indices fall to the index guard.
func (o *Orchestrator) peerQuestion(index int, q game.Question) {
	if o.isProducer() {
		return
	}
	if o.state.Phase != game.PhaseActive || index <= o.state.QuestionIndex {
		return
	}
	o.installQuestion(index, q)
}

// Answer submits the local player's choice for the current question.
func (o *Orchestrator) Answer(value int) {
	o.dispatch(func() { o.answer(value) })
}

func (o *Orchestrator) answer(value int) {
	s := o.state
	if s.Phase != game.PhaseActive || s.InputLocked || s.CurrentQuestion == nil {
		return
	}
	if s.QuestionPhase != game.QWaiting && s.QuestionPhase != game.QPeerAnswered {
		return
	}
	o.timers.CancelQuestionClock()

	q := *s.CurrentQuestion
	correct := value == q.Answer
	points := awardPoints(q, correct, o.cfg.Clock.Since(s.QuestionStartedAt), o.cfg.Durations.BonusWindow)
	if correct {
		o.correct++
	}
	if points > 1 {
		o.apply(game.ShowBonus{})
		o.timers.ScheduleBonusHide(o.cfg.Durations.BonusFlash, func() {
			o.apply(game.HideBonus{})
		})
	}

	o.apply(game.SelfAnswered{
		Value:       value,
		Correct:     correct,
		Points:      points,
		Multiplayer: o.cfg.Params.Multiplayer,
	})
	if o.adapter != nil {
		o.adapter.PublishAnswer(o.ctx, s.QuestionIndex, value, correct, points)
	}
	o.maybeAdvance()
}

// awardPoints scores a local answer: one point for a correct answer, two
// when a hard question is answered inside the bonus window.
func awardPoints(q game.Question, correct bool, elapsed, bonusWindow time.Duration) int {
	if !correct {
		return 0
	}
	if q.IsHard && elapsed < bonusWindow {
		return 2
	}
	return 1
}

func (o *Orchestrator) timedOut() {
	s := o.state
	if s.Phase != game.PhaseActive {
		return
	}
	if s.QuestionPhase != game.QWaiting && s.QuestionPhase != game.QPeerAnswered {
		return
	}
	o.timers.CancelQuestionClock()
	o.apply(game.SelfTimedOut{Multiplayer: o.cfg.Params.Multiplayer})
	if o.adapter != nil {
		// The timeout echo: the peer needs to see this side settle.
		o.adapter.PublishAnswer(o.ctx, s.QuestionIndex, -1, false, 0)
	}
	o.maybeAdvance()
}

// peerAnswer applies the opponent's answer. A correct peer answer while this
// side is still racing settles the question, so the local deadline must be
// cancelled before the action is applied; the adapter publishes the lockout
// echo after this callback returns.
func (o *Orchestrator) peerAnswer(p wire.AnswerPayload) {
	s := o.state
	if s.Phase != game.PhaseActive {
		return
	}
	if p.Correct && s.QuestionPhase == game.QWaiting {
		o.timers.CancelQuestionClock()
	}
	o.apply(game.PeerAnswered{Value: p.Value, Correct: p.Correct, Points: p.Points})
	// Only a fresh settlement schedules the advance; a duplicate delivery
	// bounces off the guard and must not re-arm the timer.
	if s.QuestionPhase != game.QBothAnswered {
		o.maybeAdvance()
	}
}

// maybeAdvance schedules the post-settlement advance. In multiplayer the
// delay is flat; single-player lingers longer when a wrong highlight is
// showing so the correction can be read.
func (o *Orchestrator) maybeAdvance() {
	if o.state.Phase != game.PhaseActive || o.state.QuestionPhase != game.QBothAnswered {
		return
	}
	delay := o.cfg.Durations.AdvanceFast
	if !o.cfg.Params.Multiplayer && o.hasWrongHighlight() {
		delay = o.cfg.Durations.AdvanceSlow
	}
	o.timers.ScheduleAdvance(delay, o.advance)
}

func (o *Orchestrator) hasWrongHighlight() bool {
	for _, h := range o.state.OptionHighlights {
		if h == game.HighlightWrong {
			return true
		}
	}
	return false
}

// advance is the host's (and single player's) decision point: next question
// or end of match. The guest idles here and waits for the host's broadcast.
func (o *Orchestrator) advance() {
	if o.state.Phase != game.PhaseActive {
		return
	}
	if !o.isProducer() {
		return
	}
	if !o.cfg.Clock.Now().Before(o.state.MatchEndsAt) {
		if o.adapter != nil {
			o.adapter.PublishMatchEnd(o.ctx)
		}
		o.endMatch()
		return
	}
	o.nextQuestion()
}

// peerMatchEnd finishes the match on the guest side.
func (o *Orchestrator) peerMatchEnd() {
	if o.state.Phase != game.PhaseActive {
		return
	}
	o.endMatch()
}

func (o *Orchestrator) endMatch() {
	o.timers.CancelAll()

	summary := o.buildSummary()
	o.apply(game.EndMatch{Summary: gameSummary(summary)})
	metrics.MatchesCompleted.Inc()

	if o.cfg.Ledger != nil {
		if err := o.cfg.Ledger.Save(o.ctx, summary); err != nil {
			o.logger.Warn().Err(err).Msg("could not persist match record")
		}
	}
	if o.adapter != nil {
		if o.cfg.Params.Role == RoleHost {
			o.adapter.PublishResult(o.ctx, wire.ResultPayload{
				MatchID:      o.cfg.Params.Channel,
				Player1ID:    o.cfg.Self.PlayerID,
				Player1Name:  o.cfg.Self.Name,
				Player1Score: summary.Score,
				Player2ID:    o.cfg.Params.OpponentID,
				Player2Name:  o.cfg.Params.OpponentName,
				Player2Score: summary.OpponentScore,
				Channel:      o.cfg.Params.Channel,
			})
		}
		o.adapter.PublishPresence(o.ctx, func(s *wire.PresenceSnapshot) {
			s.CurrentMatch = nil
			s.CurrentOpponent = nil
			s.LastMatch = &wire.LastMatch{
				Opponent:      o.opponentName(),
				Score:         summary.Score,
				OpponentScore: summary.OpponentScore,
				Won:           summary.Score > summary.OpponentScore,
			}
		})
	}
}

func (o *Orchestrator) buildSummary() history.Record {
	s := o.state
	return history.Record{
		PlayerID:       o.cfg.Self.PlayerID,
		Opponent:       o.opponentName(),
		OpponentAvatar: o.cfg.Params.OpponentAvatar,
		OpponentID:     o.cfg.Params.OpponentID,
		Score:          s.SelfScore,
		OpponentScore:  s.PeerScore,
		Correct:        o.correct,
		Total:          s.AnsweredCount,
		Percent:        history.PercentOf(o.correct, s.AnsweredCount),
		Duration:       int(o.cfg.Params.Duration / time.Minute),
		FinishedAt:     o.cfg.Clock.Now(),
	}
}

func (o *Orchestrator) opponentName() string {
	if !o.cfg.Params.Multiplayer {
		return "Solo"
	}
	if o.cfg.Params.OpponentName != "" {
		return o.cfg.Params.OpponentName
	}
	return "Opponent"
}

func gameSummary(rec history.Record) game.Record {
	return game.Record{
		Name:     rec.Opponent,
		Avatar:   rec.OpponentAvatar,
		Date:     rec.FinishedAt,
		Duration: rec.Duration,
		Correct:  rec.Correct,
		Total:    rec.Total,
		Percent:  rec.Percent,
	}
}

// peerForfeit handles any of the three forfeit signals, already filtered and
// deduplicated by the adapter's live-phase guard.
func (o *Orchestrator) peerForfeit(by game.ForfeitInfo) {
	o.timers.CancelAll()
	o.apply(game.Forfeit{By: by})
	metrics.ForfeitsDetected.Inc()
	if o.adapter != nil {
		o.adapter.PublishPresence(o.ctx, func(s *wire.PresenceSnapshot) {
			s.CurrentMatch = nil
			s.CurrentOpponent = nil
		})
	}
	o.timers.ScheduleGrace(o.cfg.Durations.ForfeitGrace, func() {
		if o.cfg.OnReturn != nil {
			o.cfg.OnReturn()
			return
		}
		o.apply(game.ResetToSetup{})
	})
}

// Quit abandons the session: all timers are cancelled and, in multiplayer,
// a forfeit and a presence clear are published best-effort before unwinding.
// The peer's redundant detection covers a lost publish.
func (o *Orchestrator) Quit() {
	o.dispatch(func() {
		o.timers.CancelAll()
		if o.adapter != nil {
			live := o.state.Phase == game.PhaseCountdown || o.state.Phase == game.PhaseActive
			if live {
				o.adapter.PublishForfeit(o.ctx)
			}
			o.adapter.PublishPresence(o.ctx, func(s *wire.PresenceSnapshot) {
				s.CurrentMatch = nil
				s.CurrentOpponent = nil
			})
			o.adapter.Close()
		}
	})
}
