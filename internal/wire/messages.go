// Package wire defines the JSON protocol spoken on the per-match channel and
// the lobby presence feed. Delivery is best-effort: messages may be lost,
// duplicated, or reordered, and every consumer must tolerate all three.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/glitchmath/duel/internal/game"
)

// Message kinds on the match channel.
const (
	TypeInvite         = "invite"
	TypeInviteResponse = "invite-response"
	TypeQuestion       = "question"
	TypeAnswer         = "answer"
	TypeMatchEnd       = "match-end"
	TypeForfeit        = "forfeit"
	TypeResult         = "result"
)

// Message wraps all match-channel payloads with a type tag.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope marshals a payload into a typed Message.
func Envelope(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// InvitePayload is a lobby challenge from one player to another.
type InvitePayload struct {
	FromPlayerID string `json:"from_player_id"`
	FromName     string `json:"from_name"`
	FromAvatar   string `json:"from_avatar"`
	ToPlayerID   string `json:"to_player_id"`
	Duration     int    `json:"duration"` // minutes
}

// InviteResponsePayload accepts or declines a challenge.
type InviteResponsePayload struct {
	Accepted     bool   `json:"accepted"`
	FromPlayerID string `json:"from_player_id"`
	FromName     string `json:"from_name"`
	FromAvatar   string `json:"from_avatar"`
	ToPlayerID   string `json:"to_player_id"`
}

// QuestionPayload broadcasts the next question. Host-only.
type QuestionPayload struct {
	QuestionIndex int           `json:"question_index"`
	Question      game.Question `json:"question"`
}

// AnswerPayload reports one side's answer for a question. A Value of -1 with
// Correct=false is the synthetic echo a locked-out or timed-out side
// publishes so the peer's bookkeeping also reaches "both done".
type AnswerPayload struct {
	PlayerID      string `json:"player_id"`
	QuestionIndex int    `json:"question_index"`
	Value         int    `json:"value"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	Timestamp     int64  `json:"timestamp"` // unix millis
}

// MatchEndPayload signals the match clock ran out. Host-only.
type MatchEndPayload struct{}

// ForfeitPayload announces that a player abandoned the match.
type ForfeitPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// ResultPayload is the post-match summary the host publishes for external
// record keeping.
type ResultPayload struct {
	MatchID      string `json:"match_id"`
	Player1ID    string `json:"player1_id"`
	Player1Name  string `json:"player1_name"`
	Player1Score int    `json:"player1_score"`
	Player2ID    string `json:"player2_id"`
	Player2Name  string `json:"player2_name"`
	Player2Score int    `json:"player2_score"`
	Channel      string `json:"channel"`
}

// LastMatch summarizes a player's most recent finished match for the lobby.
type LastMatch struct {
	Opponent      string `json:"opponent"`
	Score         int    `json:"score"`
	OpponentScore int    `json:"opponent_score"`
	Won           bool   `json:"won"`
}

// PresenceSnapshot is a participant's full published record. The presence
// feed replaces the whole record on every update, so publishers must always
// send every field; a partial snapshot silently erases the rest for
// observers.
type PresenceSnapshot struct {
	PlayerID        string     `json:"player_id"`
	Name            string     `json:"name"`
	Avatar          string     `json:"avatar"`
	CurrentMatch    *string    `json:"current_match"`
	CurrentOpponent *string    `json:"current_opponent"`
	Score           int        `json:"score"`
	OpponentScore   int        `json:"opponent_score"`
	LastMatch       *LastMatch `json:"last_match"`
}
