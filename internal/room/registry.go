package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
	"github.com/partyline/server/internal/validate"
)

const (
	idleThreshold = 2 * time.Hour
	reapInterval  = 5 * time.Minute

	codeGenAttempts = 100
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrGameInProgress = errors.New("game already in progress")
	ErrCodeTaken      = errors.New("room code already in use")
)

// Registry owns every live room in the process, indexed by code and by
// connection id. It also runs the idle-room reaper.
type Registry struct {
	mu     sync.RWMutex
	byCode map[string]*Room
	byConn map[string]string // connectionID -> room code

	stop chan struct{}
	done chan struct{}
}

func NewRegistry() *Registry {
	r := &Registry{
		byCode: make(map[string]*Room),
		byConn: make(map[string]string),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// CreateRoom allocates a room with a unique code and registers hostPlayer as
// its first player and host. codeOverride, when non-empty, is used verbatim
// (platform-created rooms arrive with a pre-assigned code).
func (reg *Registry) CreateRoom(gameID string, hostPlayer *Player, settings Settings, codeOverride string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := codeOverride
	if code == "" {
		code = reg.uniqueCodeLocked()
	} else if _, taken := reg.byCode[code]; taken {
		return nil, ErrCodeTaken
	}

	room := newRoom(code, gameID, settings)
	hostPlayer.IsHost = true
	room.HostPlayerID = hostPlayer.PlayerID
	room.HostConnectionID = hostPlayer.ConnectionID
	room.players[hostPlayer.ConnectionID] = hostPlayer

	reg.byCode[code] = room
	reg.byConn[hostPlayer.ConnectionID] = code
	metrics.ActiveRooms.Inc()

	logging.Info(context.Background(), "room created",
		zap.String("room_code", code),
		zap.String("game_id", gameID),
		zap.String("host_player_id", hostPlayer.PlayerID),
	)
	return room, nil
}

// AddPlayer admits a player into a room. Rejects when the room is missing,
// full, or not in an admitting phase.
func (reg *Registry) AddPlayer(code string, player *Player) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.byCode[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.admitsLocked() {
		return nil, ErrGameInProgress
	}
	if room.Settings.MaxPlayers > 0 && len(room.players) >= room.Settings.MaxPlayers {
		return nil, ErrRoomFull
	}

	room.players[player.ConnectionID] = player
	room.LastActivity = time.Now()
	reg.byConn[player.ConnectionID] = code
	return room, nil
}

// RemovePlayer drops the player bound to a connection id. When the leaver was
// host, the host role transfers to the first remaining player in iteration
// order. An emptied room is destroyed. Returns the affected room and player,
// either of which may be nil.
func (reg *Registry) RemovePlayer(connectionID string) (*Room, *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, ok := reg.byConn[connectionID]
	if !ok {
		return nil, nil
	}
	delete(reg.byConn, connectionID)

	room := reg.byCode[code]
	if room == nil {
		return nil, nil
	}

	room.mu.Lock()
	player := room.players[connectionID]
	delete(room.players, connectionID)

	if player != nil && player.IsHost {
		for _, next := range room.players {
			next.IsHost = true
			room.HostPlayerID = next.PlayerID
			room.HostConnectionID = next.ConnectionID
			logging.Info(context.Background(), "host transferred",
				zap.String("room_code", code),
				zap.String("player_id", next.PlayerID),
			)
			break
		}
	}
	empty := len(room.players) == 0
	room.LastActivity = time.Now()
	room.mu.Unlock()

	if empty {
		reg.destroyLocked(room)
	}
	return room, player
}

// MarkDisconnected flags the player as disconnected and stamps the time,
// enabling the client-side reconnect countdown. The connection index entry
// is kept so the grace-expiry path can still resolve the room.
func (reg *Registry) MarkDisconnected(connectionID string) (*Room, *Player) {
	reg.mu.RLock()
	code, ok := reg.byConn[connectionID]
	var room *Room
	if ok {
		room = reg.byCode[code]
	}
	reg.mu.RUnlock()
	if room == nil {
		return nil, nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	player := room.players[connectionID]
	if player != nil {
		now := time.Now()
		player.Connected = false
		player.DisconnectedAt = &now
	}
	return room, player
}

// Reconnect rebinds a player from an old connection id to a new one and
// clears the disconnect flags. Tolerates the already-migrated case where
// another path rebound the player first; callers may then fall back to
// ReconnectByPlayerID.
func (reg *Registry) Reconnect(oldConnectionID, newConnectionID string) (*Room, *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, ok := reg.byConn[oldConnectionID]
	if !ok {
		return nil, nil
	}
	room := reg.byCode[code]
	if room == nil {
		return nil, nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	player := room.players[oldConnectionID]
	if player == nil {
		return room, nil
	}
	reg.rebindLocked(room, player, newConnectionID)
	delete(reg.byConn, oldConnectionID)
	return room, player
}

// ReconnectByPlayerID is the manual rebind used when the old connection id is
// already gone but the player is still a room member.
func (reg *Registry) ReconnectByPlayerID(code, playerID, newConnectionID string) (*Room, *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.byCode[code]
	if room == nil {
		return nil, nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for oldConn, p := range room.players {
		if p.PlayerID == playerID {
			reg.rebindLocked(room, p, newConnectionID)
			delete(reg.byConn, oldConn)
			return room, p
		}
	}
	return room, nil
}

// rebindLocked assumes both registry and room locks are held.
func (reg *Registry) rebindLocked(room *Room, player *Player, newConnectionID string) {
	delete(room.players, player.ConnectionID)
	player.ConnectionID = newConnectionID
	player.Connected = true
	player.DisconnectedAt = nil
	player.LastActivity = time.Now()
	room.players[newConnectionID] = player
	if player.IsHost {
		room.HostConnectionID = newConnectionID
	}
	room.LastActivity = time.Now()
	reg.byConn[newConnectionID] = room.Code
}

// GetByCode returns the room registered under a code, or nil.
func (reg *Registry) GetByCode(code string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byCode[code]
}

// GetByConnection returns the room a connection currently belongs to, or nil.
func (reg *Registry) GetByConnection(connectionID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if code, ok := reg.byConn[connectionID]; ok {
		return reg.byCode[code]
	}
	return nil
}

// GetPlayer resolves a connection id to its room and player.
func (reg *Registry) GetPlayer(connectionID string) (*Room, *Player) {
	room := reg.GetByConnection(connectionID)
	if room == nil {
		return nil, nil
	}
	return room, room.Player(connectionID)
}

// Destroy removes a room and all its connection index entries.
func (reg *Registry) Destroy(code string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room := reg.byCode[code]
	if room == nil {
		return nil
	}
	reg.destroyLocked(room)
	return room
}

// destroyLocked assumes the registry lock is held.
func (reg *Registry) destroyLocked(room *Room) {
	delete(reg.byCode, room.Code)
	room.mu.RLock()
	for conn := range room.players {
		delete(reg.byConn, conn)
	}
	room.mu.RUnlock()
	metrics.ActiveRooms.Dec()
	logging.Info(context.Background(), "room destroyed", zap.String("room_code", room.Code))
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byCode)
}

// Rooms returns a snapshot of all live rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.byCode))
	for _, r := range reg.byCode {
		out = append(out, r)
	}
	return out
}

// RoomsByGame returns a snapshot of rooms registered for one plugin.
func (reg *Registry) RoomsByGame(gameID string) []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []*Room
	for _, r := range reg.byCode {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	return out
}

// Close stops the idle reaper.
func (reg *Registry) Close() {
	close(reg.stop)
	<-reg.done
}

// uniqueCodeLocked generates a code that is unique at insertion time. After
// 100 collisions it falls back to a truncated UUID mapped onto the code
// alphabet, where another collision is astronomically improbable.
func (reg *Registry) uniqueCodeLocked() string {
	for i := 0; i < codeGenAttempts; i++ {
		code := validate.GenerateRoomCode()
		if _, taken := reg.byCode[code]; !taken {
			return code
		}
	}
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	var b strings.Builder
	for _, r := range raw {
		if b.Len() == validate.CodeLength {
			break
		}
		if strings.ContainsRune(validate.CodeAlphabet, r) {
			b.WriteRune(r)
		}
	}
	for b.Len() < validate.CodeLength {
		b.WriteByte('Z')
	}
	return b.String()
}

func (reg *Registry) reapLoop() {
	defer close(reg.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.stop:
			return
		case <-ticker.C:
			reg.reapIdle()
		}
	}
}

func (reg *Registry) reapIdle() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	now := time.Now()
	for _, room := range reg.byCode {
		room.mu.RLock()
		idle := now.Sub(room.LastActivity)
		room.mu.RUnlock()
		if idle > idleThreshold {
			logging.Warn(context.Background(), "destroying idle room",
				zap.String("room_code", room.Code),
				zap.Duration("idle", idle),
			)
			reg.destroyLocked(room)
		}
	}
}
