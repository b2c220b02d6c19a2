// Package transport provides the concrete match channel and presence feed
// implementations: Redis pub/sub for broker-based play and a WebSocket relay
// client for environments without a shared Redis.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/glitchmath/duel/internal/metrics"
	"github.com/glitchmath/duel/internal/multiplayer"
	"github.com/glitchmath/duel/internal/wire"
)

const (
	matchTopicPrefix  = "duel:match:"
	lobbyEventsTopic  = "duel:lobby:events"
	lobbyChatterTopic = "duel:lobby:chatter"
	memberKeyPrefix   = "duel:lobby:member:"

	memberTTL         = 30 * time.Second
	heartbeatInterval = 10 * time.Second
	memberPollPeriod  = 5 * time.Second
)

// RedisChannel is a best-effort match topic over Redis pub/sub. Delivery is
// fan-out to currently-connected subscribers only; there is no replay.
type RedisChannel struct {
	client *redis.Client
	topic  string
	logger zerolog.Logger
}

var _ multiplayer.Channel = (*RedisChannel)(nil)

// NewRedisChannel creates the channel for one match.
func NewRedisChannel(client *redis.Client, matchID string, logger zerolog.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		topic:  matchTopicPrefix + matchID,
		logger: logger.With().Str("component", "redis_channel").Str("topic", matchTopicPrefix+matchID).Logger(),
	}
}

// NewLobbyChannel creates the shared lobby topic invites travel on.
func NewLobbyChannel(client *redis.Client, logger zerolog.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		topic:  lobbyChatterTopic,
		logger: logger.With().Str("component", "redis_channel").Str("topic", lobbyChatterTopic).Logger(),
	}
}

// Publish sends one message to the match topic.
func (c *RedisChannel) Publish(ctx context.Context, msg wire.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		metrics.PublishErrors.Inc()
		return fmt.Errorf("publish: %w", err)
	}
	metrics.MessagesPublished.WithLabelValues(msg.Type).Inc()
	return nil
}

// Subscribe delivers every message on the topic until the returned stop
// function is called or ctx is cancelled.
func (c *RedisChannel) Subscribe(ctx context.Context, handler func(wire.Message)) (func(), error) {
	sub := c.client.Subscribe(ctx, c.topic)
	// Force the subscription to be established before returning so no
	// message published after Subscribe returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg wire.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					c.logger.Warn().Err(err).Msg("malformed wire message dropped")
					continue
				}
				metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
				handler(msg)
			}
		}
	}()

	return func() {
		if err := sub.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("pubsub close failed")
		}
	}, nil
}

// RedisPresence implements the lobby feed. Each participant owns a member
// key holding its full snapshot (refreshed by a heartbeat, expiring on hard
// disconnect) and every change is also broadcast on the lobby events topic.
// Observers replace their view of a member wholesale on every event.
type RedisPresence struct {
	client   *redis.Client
	playerID string
	logger   zerolog.Logger

	mu   sync.Mutex
	last *wire.PresenceSnapshot
}

var _ multiplayer.PresenceFeed = (*RedisPresence)(nil)

type presenceEventMsg struct {
	Kind     multiplayer.PresenceEventKind `json:"kind"`
	PlayerID string                        `json:"player_id"`
	Snapshot wire.PresenceSnapshot         `json:"snapshot"`
}

// NewRedisPresence creates the presence feed handle for one player.
func NewRedisPresence(client *redis.Client, playerID string, logger zerolog.Logger) *RedisPresence {
	return &RedisPresence{
		client:   client,
		playerID: playerID,
		logger:   logger.With().Str("component", "redis_presence").Logger(),
	}
}

// Enter publishes the initial full snapshot.
func (p *RedisPresence) Enter(ctx context.Context, snapshot wire.PresenceSnapshot) error {
	return p.broadcast(ctx, multiplayer.PresenceEnter, snapshot)
}

// Update replaces this player's published record. The whole snapshot is
// stored and broadcast; the feed never merges partial records.
func (p *RedisPresence) Update(ctx context.Context, snapshot wire.PresenceSnapshot) error {
	return p.broadcast(ctx, multiplayer.PresenceUpdate, snapshot)
}

func (p *RedisPresence) broadcast(ctx context.Context, kind multiplayer.PresenceEventKind, snapshot wire.PresenceSnapshot) error {
	snapshot.PlayerID = p.playerID
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.client.Set(ctx, memberKeyPrefix+p.playerID, data, memberTTL).Err(); err != nil {
		return fmt.Errorf("store member record: %w", err)
	}

	p.mu.Lock()
	snap := snapshot
	p.last = &snap
	p.mu.Unlock()

	event, err := json.Marshal(presenceEventMsg{Kind: kind, PlayerID: p.playerID, Snapshot: snapshot})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := p.client.Publish(ctx, lobbyEventsTopic, event).Err(); err != nil {
		return fmt.Errorf("publish presence event: %w", err)
	}
	return nil
}

// Leave removes this player's record and announces the departure.
func (p *RedisPresence) Leave(ctx context.Context) error {
	if err := p.client.Del(ctx, memberKeyPrefix+p.playerID).Err(); err != nil {
		return fmt.Errorf("delete member record: %w", err)
	}
	event, err := json.Marshal(presenceEventMsg{Kind: multiplayer.PresenceLeave, PlayerID: p.playerID})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	return p.client.Publish(ctx, lobbyEventsTopic, event).Err()
}

// Heartbeat keeps this player's member key alive until ctx is cancelled.
// Without it the key expires and observers treat the player as gone.
func (p *RedisPresence) Heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			last := p.last
			p.mu.Unlock()
			if last == nil {
				continue
			}
			data, err := json.Marshal(last)
			if err != nil {
				continue
			}
			if err := p.client.Set(ctx, memberKeyPrefix+p.playerID, data, memberTTL).Err(); err != nil {
				p.logger.Warn().Err(err).Msg("presence heartbeat failed")
			}
		}
	}
}

// Subscribe delivers presence events. Beyond the event topic it also polls
// known member keys so a hard disconnect (record expired without a leave
// event) still surfaces as PresenceLeave.
func (p *RedisPresence) Subscribe(ctx context.Context, handler func(multiplayer.PresenceEvent)) (func(), error) {
	sub := p.client.Subscribe(ctx, lobbyEventsTopic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	known := &memberSet{seen: map[string]bool{}}
	stopPoll := make(chan struct{})

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var ev presenceEventMsg
				if err := json.Unmarshal([]byte(raw.Payload), &ev); err != nil {
					p.logger.Warn().Err(err).Msg("malformed presence event dropped")
					continue
				}
				if ev.Kind == multiplayer.PresenceLeave {
					known.remove(ev.PlayerID)
				} else {
					known.add(ev.PlayerID)
				}
				handler(multiplayer.PresenceEvent{Kind: ev.Kind, PlayerID: ev.PlayerID, Snapshot: ev.Snapshot})
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(memberPollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopPoll:
				return
			case <-ticker.C:
				for _, id := range known.ids() {
					if id == p.playerID {
						continue
					}
					exists, err := p.client.Exists(ctx, memberKeyPrefix+id).Result()
					if err != nil {
						continue
					}
					if exists == 0 {
						known.remove(id)
						handler(multiplayer.PresenceEvent{Kind: multiplayer.PresenceLeave, PlayerID: id})
					}
				}
			}
		}
	}()

	return func() {
		close(stopPoll)
		if err := sub.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("presence pubsub close failed")
		}
	}, nil
}

// Members returns the current lobby roster.
func (p *RedisPresence) Members(ctx context.Context) ([]wire.PresenceSnapshot, error) {
	keys, err := p.client.Keys(ctx, memberKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	var out []wire.PresenceSnapshot
	for _, key := range keys {
		data, err := p.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var snap wire.PresenceSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("skip corrupted member record")
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

type memberSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memberSet) add(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
}

func (m *memberSet) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *memberSet) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.seen))
	for id := range m.seen {
		out = append(out, id)
	}
	return out
}
