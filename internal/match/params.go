// Package match runs a full duel session: it wires the question generator,
// the pure state machine, the timing controller, and the multiplayer sync
// adapter together, and persists the finished-match summary.
package match

import (
	"net/url"
	"strconv"
	"time"
)

// Role distinguishes the two sides of a multiplayer match. Only the host
// generates questions and declares the match over.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

const (
	minDuration = 1 * time.Minute
	maxDuration = 5 * time.Minute
)

// Params describes one match attempt, typically decoded from an invite link.
type Params struct {
	Multiplayer    bool
	Channel        string
	Duration       time.Duration
	Role           Role
	OpponentID     string
	OpponentName   string
	OpponentAvatar string
}

// ParseParams validates invite-link query values. A multiplayer match needs
// multiplayer=true, a non-empty channel, and a valid role; anything less
// degrades to single-player rather than failing. Duration is minutes,
// clamped to [1,5].
func ParseParams(values url.Values) Params {
	role := Role(values.Get("role"))
	validRole := role == RoleHost || role == RoleGuest
	multiplayer := values.Get("multiplayer") == "true" && values.Get("channel") != "" && validRole

	minutes, err := strconv.Atoi(values.Get("duration"))
	if err != nil {
		minutes = 1
	}

	p := Params{
		Multiplayer:    multiplayer,
		Channel:        values.Get("channel"),
		Duration:       clampDuration(time.Duration(minutes) * time.Minute),
		OpponentID:     values.Get("opponentId"),
		OpponentName:   values.Get("opponentName"),
		OpponentAvatar: values.Get("opponentAvatar"),
	}
	if multiplayer {
		p.Role = role
	}
	return p
}

// DurationFromMinutes converts an invite duration to a clamped match length.
func DurationFromMinutes(minutes int) time.Duration {
	return clampDuration(time.Duration(minutes) * time.Minute)
}

// MatchChannel derives the channel name for a concluded lobby handshake. No
// payload carries the channel, so both sides compute it from the two player
// ids, host first.
func MatchChannel(hostID, guestID string) string {
	return hostID + "-" + guestID
}

func clampDuration(d time.Duration) time.Duration {
	if d < minDuration {
		return minDuration
	}
	if d > maxDuration {
		return maxDuration
	}
	return d
}
