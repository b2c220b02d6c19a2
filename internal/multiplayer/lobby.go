package multiplayer

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/wire"
)

// InviterConfig wires a lobby inviter.
type InviterConfig struct {
	Channel Channel
	Self    Identity
	// Busy reports whether this player is mid-match. Invites that arrive
	// while busy are auto-declined without surfacing to the callbacks.
	Busy   func() bool
	Logger zerolog.Logger

	// OnInvite delivers a challenge addressed to this player.
	OnInvite func(wire.InvitePayload)
	// OnResponse delivers the reply to a challenge this player sent.
	OnResponse func(wire.InviteResponsePayload)
}

// Inviter runs the challenge handshake on the lobby channel. Invites and
// responses are broadcast to everyone and addressed by player id, so each
// client filters for its own id and ignores the rest.
type Inviter struct {
	channel Channel
	self    Identity
	busy    func() bool
	logger  zerolog.Logger

	onInvite   func(wire.InvitePayload)
	onResponse func(wire.InviteResponsePayload)
	unsub      func()
}

// NewInviter creates an inviter. Call Start to begin receiving.
func NewInviter(cfg InviterConfig) *Inviter {
	busy := cfg.Busy
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Inviter{
		channel:    cfg.Channel,
		self:       cfg.Self,
		busy:       busy,
		logger:     cfg.Logger.With().Str("component", "inviter").Logger(),
		onInvite:   cfg.OnInvite,
		onResponse: cfg.OnResponse,
	}
}

// Start subscribes to the lobby channel.
func (i *Inviter) Start(ctx context.Context) error {
	unsub, err := i.channel.Subscribe(ctx, func(msg wire.Message) {
		i.handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	i.unsub = unsub
	return nil
}

// Close stops receiving lobby messages.
func (i *Inviter) Close() {
	if i.unsub != nil {
		i.unsub()
		i.unsub = nil
	}
}

// SendInvite challenges another player to a match of the given duration in
// minutes. Best-effort; an unanswered invite is simply dropped by the caller.
func (i *Inviter) SendInvite(ctx context.Context, to string, duration int) {
	i.send(ctx, wire.TypeInvite, wire.InvitePayload{
		FromPlayerID: i.self.PlayerID,
		FromName:     i.self.Name,
		FromAvatar:   i.self.Avatar,
		ToPlayerID:   to,
		Duration:     duration,
	})
}

// Respond accepts or declines a received challenge.
func (i *Inviter) Respond(ctx context.Context, to string, accepted bool) {
	i.send(ctx, wire.TypeInviteResponse, wire.InviteResponsePayload{
		Accepted:     accepted,
		FromPlayerID: i.self.PlayerID,
		FromName:     i.self.Name,
		FromAvatar:   i.self.Avatar,
		ToPlayerID:   to,
	})
}

func (i *Inviter) handle(ctx context.Context, msg wire.Message) {
	switch msg.Type {
	case wire.TypeInvite:
		var p wire.InvitePayload
		if !decodeInto(msg, &p, i.logger) {
			return
		}
		if p.ToPlayerID != i.self.PlayerID {
			return
		}
		if i.busy() {
			// Mid-match players decline immediately so the challenger
			// does not sit on a dead invite.
			i.Respond(ctx, p.FromPlayerID, false)
			return
		}
		if i.onInvite != nil {
			i.onInvite(p)
		}

	case wire.TypeInviteResponse:
		var p wire.InviteResponsePayload
		if !decodeInto(msg, &p, i.logger) {
			return
		}
		if p.ToPlayerID != i.self.PlayerID {
			return
		}
		if i.onResponse != nil {
			i.onResponse(p)
		}
	}
}

func (i *Inviter) send(ctx context.Context, msgType string, payload any) {
	msg, err := wire.Envelope(msgType, payload)
	if err != nil {
		i.logger.Warn().Err(err).Str("type", msgType).Msg("encode failed")
		return
	}
	if err := i.channel.Publish(ctx, msg); err != nil {
		i.logger.Warn().Err(err).Str("type", msgType).Msg("publish failed")
	}
}

func decodeInto(msg wire.Message, out any, logger zerolog.Logger) bool {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		logger.Warn().Err(err).Str("type", msg.Type).Msg("malformed payload")
		return false
	}
	return true
}
