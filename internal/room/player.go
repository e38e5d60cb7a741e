package room

import "time"

// Player is the identity of a participant inside a single room.
// The server-assigned PlayerID is stable across reconnects; ConnectionID is
// rotated each time the transport connection changes.
type Player struct {
	PlayerID     string `json:"playerId"`
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	IsHost       bool   `json:"isHost"`

	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`

	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"-"`

	SessionToken string `json:"-"`

	// GameData is an opaque bag owned by the room's current plugin. The
	// substrate never reads its fields.
	GameData any `json:"-"`
}
