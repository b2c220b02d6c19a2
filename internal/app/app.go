// Package app bootstraps shared infrastructure (Redis, Postgres, logging,
// profile) and assembles match sessions from it.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/config"
	"github.com/glitchmath/duel/internal/game"
	"github.com/glitchmath/duel/internal/history"
	"github.com/glitchmath/duel/internal/logging"
	"github.com/glitchmath/duel/internal/match"
	"github.com/glitchmath/duel/internal/multiplayer"
	"github.com/glitchmath/duel/internal/profile"
	"github.com/glitchmath/duel/internal/transport"
	"github.com/glitchmath/duel/internal/wire"
)

// Application aggregates the shared infrastructure a session needs.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool    *pgxpool.Pool
	redis   *redis.Client
	profile profile.Profile
	ledger  *history.Ledger
}

// New bootstraps config, logger, Redis, Postgres, and the local profile.
// A missing or unreachable Postgres disables the history ledger rather than
// failing: the session can always start.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	a := &Application{
		cfg:    cfg,
		logger: logger,
		redis:  redisClient,
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("history ledger unavailable, continuing without it")
	} else {
		a.pool = pool
		a.ledger = history.NewLedger(history.NewPGStore(pool), logger)
	}

	store, err := profile.NewStore("", logger)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a.profile = store.Load()
	logger.Info().Str("player_id", a.profile.PlayerID).Str("name", a.profile.Name).Msg("profile loaded")

	return a, nil
}

// Profile returns the local player identity.
func (a *Application) Profile() profile.Profile {
	return a.profile
}

// Logger returns the root logger.
func (a *Application) Logger() zerolog.Logger {
	return a.logger
}

// LobbyOptions carry the invite callbacks into the lobby. Both run on the
// transport's receive goroutine.
type LobbyOptions struct {
	OnInvite   func(wire.InvitePayload)
	OnResponse func(wire.InviteResponsePayload)
}

// Lobby is the pre-match surface: this player's presence entry, the roster,
// and the challenge handshake. Redis only; the relay path carries no lobby.
type Lobby struct {
	presence *transport.RedisPresence
	inviter  *multiplayer.Inviter
	logger   zerolog.Logger
}

// JoinLobby announces this player on the presence feed, with the most recent
// ledger record summarized on the snapshot, and starts listening for
// challenges.
func (a *Application) JoinLobby(ctx context.Context, opts LobbyOptions) (*Lobby, error) {
	snap := wire.PresenceSnapshot{
		PlayerID: a.profile.PlayerID,
		Name:     a.profile.Name,
		Avatar:   a.profile.Avatar,
	}
	if a.ledger != nil {
		snap.LastMatch = history.LastOf(a.ledger.LoadAll(ctx, a.profile.PlayerID))
	}

	presence := transport.NewRedisPresence(a.redis, a.profile.PlayerID, a.logger)
	if err := presence.Enter(ctx, snap); err != nil {
		return nil, fmt.Errorf("enter lobby: %w", err)
	}
	go presence.Heartbeat(ctx)

	inviter := multiplayer.NewInviter(multiplayer.InviterConfig{
		Channel: transport.NewLobbyChannel(a.redis, a.logger),
		Self: multiplayer.Identity{
			PlayerID: a.profile.PlayerID,
			Name:     a.profile.Name,
			Avatar:   a.profile.Avatar,
		},
		Logger:     a.logger,
		OnInvite:   opts.OnInvite,
		OnResponse: opts.OnResponse,
	})
	if err := inviter.Start(ctx); err != nil {
		return nil, fmt.Errorf("join lobby channel: %w", err)
	}

	return &Lobby{presence: presence, inviter: inviter, logger: a.logger}, nil
}

// Roster lists the players currently present in the lobby.
func (l *Lobby) Roster(ctx context.Context) ([]wire.PresenceSnapshot, error) {
	return l.presence.Members(ctx)
}

// Challenge invites another player to a match of the given length in minutes.
func (l *Lobby) Challenge(ctx context.Context, to string, minutes int) {
	l.inviter.SendInvite(ctx, to, minutes)
}

// Respond answers a received challenge.
func (l *Lobby) Respond(ctx context.Context, to string, accepted bool) {
	l.inviter.Respond(ctx, to, accepted)
}

// Leave withdraws from the lobby. Safe to call more than once.
func (l *Lobby) Leave(ctx context.Context) {
	l.inviter.Close()
	if err := l.presence.Leave(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("lobby leave failed")
	}
}

// SessionOptions adjust how a session is assembled.
type SessionOptions struct {
	// OnState observes every applied match state.
	OnState func(game.State)
	// OnProgress reports the remaining fraction of the question window.
	OnProgress func(remaining float64)
	// OnReturn fires after a forfeit's grace period.
	OnReturn func()
}

// NewSession assembles a match session for the given params. Multiplayer
// sessions ride the relay when RELAY_URL is configured, Redis pub/sub
// otherwise; single-player sessions carry no transport at all.
func (a *Application) NewSession(ctx context.Context, params match.Params, opts SessionOptions) (*match.Orchestrator, error) {
	cfg := match.Config{
		Params: params,
		Self: multiplayer.Identity{
			PlayerID: a.profile.PlayerID,
			Name:     a.profile.Name,
			Avatar:   a.profile.Avatar,
		},
		Generator:  game.NewGenerator(rand.New(rand.NewSource(time.Now().UnixNano()))),
		Clock:      clockwork.NewRealClock(),
		Durations:  a.cfg.Game,
		Logger:     a.logger,
		OnState:    opts.OnState,
		OnProgress: opts.OnProgress,
		OnReturn:   opts.OnReturn,
	}
	if a.ledger != nil {
		cfg.Ledger = a.ledger
	}

	if params.Multiplayer {
		if a.cfg.Relay.URL != "" {
			dialCtx, cancel := context.WithTimeout(ctx, a.cfg.Relay.Timeout)
			ch, err := transport.DialRelay(dialCtx, a.cfg.Relay.URL, params.Channel, a.logger)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("dial relay: %w", err)
			}
			cfg.Channel = ch
		} else {
			cfg.Channel = transport.NewRedisChannel(a.redis, params.Channel, a.logger)
			presence := transport.NewRedisPresence(a.redis, a.profile.PlayerID, a.logger)
			go presence.Heartbeat(ctx)
			cfg.Presence = presence
		}
	}

	return match.New(cfg), nil
}

// Close releases shared resources.
func (a *Application) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}
}
