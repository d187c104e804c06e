package ws

import (
	"time"

	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot  MessageType = "snapshot"
	MsgStatus    MessageType = "status"
	MsgIdentity  MessageType = "identity"
	MsgStats     MessageType = "stats"
	MsgGameState MessageType = "game_state"
	MsgNarration MessageType = "narration"
	MsgFatal     MessageType = "fatal"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type ComponentStatus struct {
	Component string    `json:"component"`
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type IdentityPayload struct {
	ID string `json:"id"`
}

type StatsPayload struct {
	Messages   int64 `json:"messages"`
	Characters int64 `json:"characters"`
}

type GameStatePayload struct {
	State session.GameState `json:"state"`
}

type FatalPayload struct {
	Cause   events.FatalCause `json:"cause"`
	Reason  string            `json:"reason"`
	Message string            `json:"message"`
}

// SnapshotPayload is sent to every new client and on the snapshot
// interval so late joiners see the current state.
type SnapshotPayload struct {
	Statuses  []ComponentStatus `json:"statuses"`
	Identity  string            `json:"identity,omitempty"`
	Stats     StatsPayload      `json:"stats"`
	GameState session.GameState `json:"gameState"`
	Fatal     *FatalPayload     `json:"fatal,omitempty"`
}
