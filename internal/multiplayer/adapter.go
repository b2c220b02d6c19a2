// Package multiplayer bridges the local match state machine to the remote
// peer. It serializes local events into wire messages, turns inbound messages
// and presence signals into callbacks for the orchestrator, and enforces the
// protocol rules that keep two referee-less clients convergent: the lockout
// echo and triply-redundant forfeit detection.
package multiplayer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/game"
	"github.com/glitchmath/duel/internal/wire"
)

// Channel is a best-effort pub/sub topic for one match. Delivery may be
// lost, duplicated, or reordered.
type Channel interface {
	Publish(ctx context.Context, msg wire.Message) error
	Subscribe(ctx context.Context, handler func(wire.Message)) (func(), error)
}

// PresenceEventKind classifies lobby presence callbacks.
type PresenceEventKind string

const (
	PresenceEnter  PresenceEventKind = "enter"
	PresenceUpdate PresenceEventKind = "update"
	PresenceLeave  PresenceEventKind = "leave"
)

// PresenceEvent is delivered for every change on the lobby feed. Snapshot is
// the member's full published record (zero value on leave).
type PresenceEvent struct {
	Kind     PresenceEventKind
	PlayerID string
	Snapshot wire.PresenceSnapshot
}

// PresenceFeed is the lobby side-channel. Updates replace the participant's
// entire record; consumers treat snapshots as wholesale replacements.
type PresenceFeed interface {
	Enter(ctx context.Context, snapshot wire.PresenceSnapshot) error
	Update(ctx context.Context, snapshot wire.PresenceSnapshot) error
	Leave(ctx context.Context) error
	Subscribe(ctx context.Context, handler func(PresenceEvent)) (func(), error)
}

// Identity names one participant.
type Identity struct {
	PlayerID string
	Name     string
	Avatar   string
}

// Events are the orchestrator hooks the adapter drives. All callbacks run on
// the session goroutine.
type Events struct {
	// OnQuestion delivers a host-published question (guest side only).
	OnQuestion func(index int, q game.Question)
	// OnPeerAnswer delivers the opponent's answer, points already
	// normalized. The orchestrator cancels the question clock and applies
	// the action; the adapter publishes the lockout echo afterwards.
	OnPeerAnswer func(p wire.AnswerPayload)
	// OnMatchEnd signals the host declared the match over.
	OnMatchEnd func()
	// OnForfeit fires once per match when any forfeit signal is observed
	// while the match is live.
	OnForfeit func(by game.ForfeitInfo)
}

// Config wires an adapter.
type Config struct {
	Channel   Channel
	Presence  PresenceFeed
	Self      Identity
	Opponent  Identity
	MatchID   string
	Dispatch  func(func())      // posts work onto the session goroutine
	State     func() game.State // read-only view of current match state
	Events    Events
	Clock     func() time.Time
	Logger    zerolog.Logger
}

// Adapter is the sync bridge for one multiplayer match.
type Adapter struct {
	channel  Channel
	presence PresenceFeed
	self     Identity
	opponent Identity
	matchID  string
	dispatch func(func())
	state    func() game.State
	events   Events
	now      func() time.Time
	logger   zerolog.Logger
	unsubs   []func()
}

// New creates a sync adapter. Call Start to begin receiving.
func New(cfg Config) *Adapter {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		channel:  cfg.Channel,
		presence: cfg.Presence,
		self:     cfg.Self,
		opponent: cfg.Opponent,
		matchID:  cfg.MatchID,
		dispatch: cfg.Dispatch,
		state:    cfg.State,
		events:   cfg.Events,
		now:      now,
		logger:   cfg.Logger.With().Str("component", "sync_adapter").Str("match_id", cfg.MatchID).Logger(),
	}
}

// Start subscribes to the match channel and the presence feed and announces
// this player as in-match on the lobby.
func (a *Adapter) Start(ctx context.Context) error {
	unsubMsg, err := a.channel.Subscribe(ctx, func(msg wire.Message) {
		a.dispatch(func() { a.handleMessage(ctx, msg) })
	})
	if err != nil {
		return err
	}
	a.unsubs = append(a.unsubs, unsubMsg)

	if a.presence != nil {
		unsubPresence, err := a.presence.Subscribe(ctx, func(ev PresenceEvent) {
			a.dispatch(func() { a.handlePresence(ev) })
		})
		if err != nil {
			return err
		}
		a.unsubs = append(a.unsubs, unsubPresence)

		snap := a.BuildPresence()
		snap.CurrentMatch = &a.matchID
		if a.opponent.Name != "" {
			opp := a.opponent.Name
			snap.CurrentOpponent = &opp
		}
		if err := a.presence.Update(ctx, snap); err != nil {
			a.logger.Warn().Err(err).Msg("presence enter failed")
		}
	}
	return nil
}

// Close tears down subscriptions. Publishing stops implicitly.
func (a *Adapter) Close() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

// BuildPresence reconstructs this player's full lobby record from current
// match state. Callers adjust fields on the returned value and publish the
// whole thing; the feed has replacement semantics, so a partial record would
// erase previously-set fields for every observer.
func (a *Adapter) BuildPresence() wire.PresenceSnapshot {
	s := a.state()
	return wire.PresenceSnapshot{
		PlayerID:      a.self.PlayerID,
		Name:          a.self.Name,
		Avatar:        a.self.Avatar,
		Score:         s.SelfScore,
		OpponentScore: s.PeerScore,
	}
}

// PublishPresence publishes a freshly built full snapshot, letting mutate
// adjust it first. Best-effort.
func (a *Adapter) PublishPresence(ctx context.Context, mutate func(*wire.PresenceSnapshot)) {
	if a.presence == nil {
		return
	}
	snap := a.BuildPresence()
	if mutate != nil {
		mutate(&snap)
	}
	if err := a.presence.Update(ctx, snap); err != nil {
		a.logger.Warn().Err(err).Msg("presence update failed")
	}
}

// PublishQuestion broadcasts the next question. Host-only by contract: the
// host is the sole producer of questions so both clients agree on what
// question N is.
func (a *Adapter) PublishQuestion(ctx context.Context, index int, q game.Question) {
	a.publish(ctx, wire.TypeQuestion, wire.QuestionPayload{QuestionIndex: index, Question: q})
}

// PublishAnswer reports the local answer (or the synthetic -1 echo).
func (a *Adapter) PublishAnswer(ctx context.Context, index, value int, correct bool, points int) {
	a.publish(ctx, wire.TypeAnswer, wire.AnswerPayload{
		PlayerID:      a.self.PlayerID,
		QuestionIndex: index,
		Value:         value,
		Correct:       correct,
		Points:        points,
		Timestamp:     a.now().UnixMilli(),
	})
}

// PublishMatchEnd declares the match over. Host-only.
func (a *Adapter) PublishMatchEnd(ctx context.Context) {
	a.publish(ctx, wire.TypeMatchEnd, wire.MatchEndPayload{})
}

// PublishForfeit announces this side abandoning the match. Best-effort; the
// peer also detects departure from the presence feed.
func (a *Adapter) PublishForfeit(ctx context.Context) {
	a.publish(ctx, wire.TypeForfeit, wire.ForfeitPayload{
		PlayerID: a.self.PlayerID,
		Name:     a.self.Name,
		Avatar:   a.self.Avatar,
	})
}

// PublishResult publishes the finished-match summary. Host-only.
func (a *Adapter) PublishResult(ctx context.Context, p wire.ResultPayload) {
	a.publish(ctx, wire.TypeResult, p)
}

func (a *Adapter) publish(ctx context.Context, msgType string, payload any) {
	msg, err := wire.Envelope(msgType, payload)
	if err != nil {
		a.logger.Warn().Err(err).Str("type", msgType).Msg("encode failed")
		return
	}
	// Transport failures are swallowed: the protocol's redundant signals
	// (lockout echo, presence fallback) cover lost publishes.
	if err := a.channel.Publish(ctx, msg); err != nil {
		a.logger.Warn().Err(err).Str("type", msgType).Msg("publish failed")
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg wire.Message) {
	switch msg.Type {
	case wire.TypeQuestion:
		var p wire.QuestionPayload
		if !a.decode(msg, &p) {
			return
		}
		if a.events.OnQuestion != nil {
			a.events.OnQuestion(p.QuestionIndex, p.Question)
		}

	case wire.TypeAnswer:
		var p wire.AnswerPayload
		if !a.decode(msg, &p) {
			return
		}
		if p.PlayerID == a.self.PlayerID {
			return
		}
		// Honor the sender's points; a correct answer with the field
		// absent counts as one point.
		if p.Correct && p.Points == 0 {
			p.Points = 1
		}

		pre := a.state()
		if a.events.OnPeerAnswer != nil {
			a.events.OnPeerAnswer(p)
		}

		// Lockout echo: the peer answered correctly while this side was
		// still racing, so this question settled without a local answer.
		// Tell the peer we are done too, or it stalls waiting for an
		// answer that will never come.
		if p.Correct && pre.Phase == game.PhaseActive && pre.QuestionPhase == game.QWaiting {
			a.PublishAnswer(ctx, pre.QuestionIndex, -1, false, 0)
		}

		a.PublishPresence(ctx, func(s *wire.PresenceSnapshot) {
			s.CurrentMatch = &a.matchID
		})

	case wire.TypeMatchEnd:
		if a.events.OnMatchEnd != nil {
			a.events.OnMatchEnd()
		}

	case wire.TypeForfeit:
		var p wire.ForfeitPayload
		if !a.decode(msg, &p) {
			return
		}
		if p.PlayerID == a.self.PlayerID {
			return
		}
		a.forfeitDetected(game.ForfeitInfo{Name: p.Name, Avatar: p.Avatar})

	case wire.TypeResult, wire.TypeInvite, wire.TypeInviteResponse:
		// Not consumed during live play.

	default:
		a.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

// handlePresence reconciles lobby events into forfeit detection. Two
// fallbacks back up the explicit forfeit message: the opponent vanishing
// from the feed entirely, and the opponent's record updating to show it is
// no longer in this match (graceful navigation without a clean leave).
func (a *Adapter) handlePresence(ev PresenceEvent) {
	if ev.PlayerID != a.opponent.PlayerID {
		return
	}
	switch ev.Kind {
	case PresenceLeave:
		a.forfeitDetected(game.ForfeitInfo{
			Name:   fallback(a.opponent.Name, "Opponent"),
			Avatar: a.opponent.Avatar,
		})
	case PresenceUpdate:
		if ev.Snapshot.CurrentMatch == nil {
			a.forfeitDetected(game.ForfeitInfo{
				Name:   fallback(ev.Snapshot.Name, fallback(a.opponent.Name, "Opponent")),
				Avatar: fallback(ev.Snapshot.Avatar, a.opponent.Avatar),
			})
		}
	}
}

func (a *Adapter) forfeitDetected(by game.ForfeitInfo) {
	s := a.state()
	if s.Phase != game.PhaseCountdown && s.Phase != game.PhaseActive {
		return
	}
	a.logger.Info().Str("by", by.Name).Msg("opponent forfeit detected")
	if a.events.OnForfeit != nil {
		a.events.OnForfeit(by)
	}
}

func (a *Adapter) decode(msg wire.Message, out any) bool {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		a.logger.Warn().Err(err).Str("type", msg.Type).Msg("malformed payload")
		return false
	}
	return true
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
