// Package plugin defines the contract between the connection substrate and
// the game plugins it hosts, and the registry that owns registered plugins.
package plugin

import (
	"encoding/json"

	"github.com/partyline/server/internal/room"
)

// Sender is the slice of the connection hub a plugin is allowed to use.
// SendToRoom is coalesced by the hub's broadcast throttle; SendToRoomNow
// bypasses it for input-latency-sensitive events (turn destinations).
type Sender interface {
	SendToRoom(code, event string, payload any)
	SendToRoomNow(code, event string, payload any)
	SendToConnection(connectionID, event string, payload any)
	// RoomConnections lists the members of the room's multicast group,
	// used for per-perspective serialization fanouts.
	RoomConnections(code string) []string
}

// Context carries the per-invocation state handed to a handler. The dispatch
// layer guarantees Room and Player are resolved and non-nil.
type Context struct {
	ConnectionID string
	Room         *room.Room
	Player       *room.Player
	Sender       Sender
}

// Handler processes one inbound frame. Payloads are raw JSON; handlers own
// decoding and validation of their event's schema. A returned error is
// reported to the originator only.
type Handler func(ctx *Context, payload json.RawMessage) error

// UserError is a handler error whose message is safe to echo to the client,
// with a stable machine-readable code.
type UserError struct {
	Code    string
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Errf builds a UserError.
func Errf(code, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// Plugin is a registered game. Handlers are keyed by event name within the
// plugin's namespace; the registry guarantees namespace isolation.
type Plugin interface {
	ID() string
	Namespace() string
	DefaultSettings() room.Settings
	Handlers() map[string]Handler
}

// Optional lifecycle hooks. The coordinator probes for these with type
// assertions; plugins implement only what they need.
type (
	// Initializer runs once at registration, before any dispatch.
	Initializer interface {
		OnInitialize(s Sender) error
	}

	// CleanupHook runs when the registry shuts down.
	CleanupHook interface {
		OnCleanup()
	}

	// RoomCreateHook runs after a room for this plugin is created.
	RoomCreateHook interface {
		OnRoomCreate(r *room.Room)
	}

	// PlayerJoinHook runs after a join or reconnect is finalized.
	PlayerJoinHook interface {
		OnPlayerJoin(r *room.Room, p *room.Player, reconnecting bool)
	}

	// PlayerDisconnectedHook runs when a player's transport drops, before
	// the reconnect grace window starts.
	PlayerDisconnectedHook interface {
		OnPlayerDisconnected(r *room.Room, p *room.Player)
	}

	// PlayerLeaveHook runs when a player is permanently removed.
	PlayerLeaveHook interface {
		OnPlayerLeave(r *room.Room, p *room.Player)
	}

	// HostLeaveHook runs when the host disconnects and the room is torn down.
	HostLeaveHook interface {
		OnHostLeave(r *room.Room, p *room.Player)
	}

	// RoomSerializer produces the client-facing view of a room for one
	// recipient. Broadcasts carrying full room state call this once per
	// recipient so secrets stay scoped.
	RoomSerializer interface {
		SerializeRoom(r *room.Room, perspectiveConnectionID string) any
	}
)

// SerializeRoom renders a room through its plugin's serializer, falling back
// to a plain substrate snapshot when the plugin does not customize views.
func SerializeRoom(p Plugin, r *room.Room, perspectiveConnectionID string) any {
	if s, ok := p.(RoomSerializer); ok {
		return s.SerializeRoom(r, perspectiveConnectionID)
	}
	return BaseRoomView(r, perspectiveConnectionID)
}

// BaseRoomView is the substrate-level room snapshot: code, phase, settings
// and the player list, with the recipient's own connection id called out.
func BaseRoomView(r *room.Room, perspectiveConnectionID string) map[string]any {
	players := r.Players()
	views := make([]map[string]any, 0, len(players))
	for _, p := range players {
		views = append(views, map[string]any{
			"playerId":  p.PlayerID,
			"name":      p.Name,
			"isHost":    p.IsHost,
			"connected": p.Connected,
			"isYou":     p.ConnectionID == perspectiveConnectionID,
		})
	}
	return map[string]any{
		"code":     r.Code,
		"gameId":   r.GameID,
		"phase":    r.CurrentPhase(),
		"settings": r.Settings,
		"players":  views,
	}
}
