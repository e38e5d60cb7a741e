// Package room holds the lobby model and the process-wide room registry.
package room

import (
	"sync"
	"time"
)

// Phase is the substrate-visible lifecycle phase of a room. Plugins extend
// their own phases inside GameState.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseWaiting Phase = "waiting"
	PhaseRunning Phase = "running"
	PhaseEnded   Phase = "ended"
)

const maxChatHistory = 100

// Settings configures admission limits plus a plugin-specific bag.
type Settings struct {
	MinPlayers int            `json:"minPlayers"`
	MaxPlayers int            `json:"maxPlayers"`
	Data       map[string]any `json:"data,omitempty"`
}

// ChatMessage is one entry of the room's bounded chat ring.
type ChatMessage struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Room is a single lobby. All mutation goes through the registry or through
// methods that take the room's lock; plugins receive the room inside a
// handler invocation where the dispatch layer already serializes per-room
// access.
type Room struct {
	mu sync.RWMutex

	Code             string
	GameID           string
	HostPlayerID     string
	HostConnectionID string

	// players is keyed by the current connection id of each player.
	players map[string]*Player

	Phase Phase
	// GameState is the plugin-owned state bag; the substrate only stores it.
	GameState any

	Settings Settings

	CreatedAt    time.Time
	LastActivity time.Time

	// chat is a bounded ring; oldest entries are evicted at maxChatHistory.
	chat []ChatMessage

	IsPlatformRoom bool
}

func newRoom(code, gameID string, settings Settings) *Room {
	now := time.Now()
	return &Room{
		Code:         code,
		GameID:       gameID,
		players:      make(map[string]*Player),
		Phase:        PhaseLobby,
		Settings:     settings,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch refreshes the room's idle clock.
func (r *Room) Touch() {
	r.mu.Lock()
	r.LastActivity = time.Now()
	r.mu.Unlock()
}

// Player returns the player bound to a connection id, or nil.
func (r *Room) Player(connectionID string) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players[connectionID]
}

// PlayerByID returns the player with the given stable player id, or nil.
func (r *Room) PlayerByID(playerID string) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

// Players returns a snapshot slice of the room's players.
func (r *Room) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}

// PlayerCount returns the number of players currently bound to the room.
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Host returns the current host player, or nil while the room is tearing down.
func (r *Room) Host() *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.PlayerID == r.HostPlayerID {
			return p
		}
	}
	return nil
}

// SetPhase transitions the substrate phase.
func (r *Room) SetPhase(phase Phase) {
	r.mu.Lock()
	r.Phase = phase
	r.LastActivity = time.Now()
	r.mu.Unlock()
}

// CurrentPhase reads the substrate phase.
func (r *Room) CurrentPhase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Phase
}

// AppendChat appends a message to the bounded chat ring.
func (r *Room) AppendChat(msg ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, msg)
	if len(r.chat) > maxChatHistory {
		r.chat = r.chat[len(r.chat)-maxChatHistory:]
	}
	r.LastActivity = time.Now()
}

// ChatHistory returns a copy of the chat ring, oldest first.
func (r *Room) ChatHistory() []ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

// admits reports whether a new player may join in the current phase.
func (r *Room) admitsLocked() bool {
	return r.Phase == PhaseLobby || r.Phase == PhaseWaiting
}
