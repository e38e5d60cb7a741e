// Package lifecycle orchestrates join, reconnect, disconnect and
// host-transfer semantics between the connection hub, the registries and the
// game plugins. It is the hub's dispatcher: every inbound frame lands here.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partyline/server/internal/hub"
	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/platform"
	"github.com/partyline/server/internal/plugin"
	"github.com/partyline/server/internal/room"
	"github.com/partyline/server/internal/session"
	"github.com/partyline/server/internal/validate"
)

// DisconnectGrace is the window a non-host player has to reconnect before
// being permanently removed.
const DisconnectGrace = 60 * time.Second

// Transport is the slice of the hub the coordinator uses. *hub.Hub satisfies
// it; tests substitute a recorder.
type Transport interface {
	plugin.Sender
	JoinGroup(code, connectionID string)
	LeaveGroup(code, connectionID string)
	DropGroup(code string)
	SendError(connectionID, message, code string)
}

// Coordinator wires the substrate together and implements hub.Dispatcher.
type Coordinator struct {
	transport Transport
	rooms     *room.Registry
	sessions  *session.Store
	plugins   *plugin.Registry
	platform  *platform.Client

	mu          sync.Mutex
	graceTimers map[string]*time.Timer // playerID -> removal timer

	grace     time.Duration
	afterFunc func(d time.Duration, f func()) *time.Timer // swapped in tests
}

func New(t Transport, rooms *room.Registry, sessions *session.Store, plugins *plugin.Registry, pc *platform.Client) *Coordinator {
	return &Coordinator{
		transport:   t,
		rooms:       rooms,
		sessions:    sessions,
		plugins:     plugins,
		platform:    pc,
		graceTimers: make(map[string]*time.Timer),
		grace:       DisconnectGrace,
		afterFunc:   time.AfterFunc,
	}
}

// Close drains all pending grace timers.
func (co *Coordinator) Close() {
	co.mu.Lock()
	defer co.mu.Unlock()
	for pid, timer := range co.graceTimers {
		timer.Stop()
		delete(co.graceTimers, pid)
	}
}

// HandleFrame implements hub.Dispatcher.
func (co *Coordinator) HandleFrame(connectionID string, frame hub.Frame) {
	switch frame.Event {
	case "room:create":
		co.handleRoomCreate(connectionID, frame.Payload)
	case "room:join":
		co.handleRoomJoin(connectionID, frame.Payload)
	case "room:leave":
		co.handleRoomLeave(connectionID)
	case "chat:message":
		co.handleChat(connectionID, frame.Payload)
	case "mobile-heartbeat":
		co.handleHeartbeat(connectionID)
	case "game:sync-state":
		co.handleSyncState(connectionID, frame.Payload)
	case "platform:return":
		co.handlePlatformReturn(connectionID, frame.Payload)
	default:
		if strings.HasPrefix(frame.Event, "webrtc:") {
			co.handleWebRTCRelay(connectionID, frame)
			return
		}
		co.dispatchToPlugin(connectionID, frame)
	}
}

// --- room:create ---

type createPayload struct {
	GameID         string         `json:"gameId"`
	PlayerName     string         `json:"playerName"`
	Settings       *room.Settings `json:"settings,omitempty"`
	RoomCode       string         `json:"roomCode,omitempty"`
	IsPlatformRoom bool           `json:"isPlatformRoom,omitempty"`
}

func (co *Coordinator) handleRoomCreate(connectionID string, payload json.RawMessage) {
	var req createPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		co.transport.SendError(connectionID, "Malformed payload", hub.CodeInvalidMessage)
		return
	}

	p := co.plugins.Get(req.GameID)
	if p == nil {
		co.transport.SendError(connectionID, "Unknown game", hub.CodeUnknownEvent)
		return
	}

	name, err := validate.PlayerName(req.PlayerName)
	if err != nil {
		co.transport.SendError(connectionID, "Invalid player name", hub.CodeInvalidName)
		return
	}

	codeOverride := ""
	if req.RoomCode != "" {
		codeOverride, err = validate.RoomCode(req.RoomCode)
		if err != nil {
			co.transport.SendError(connectionID, "Invalid room code", hub.CodeInvalidCode)
			return
		}
	}

	settings := p.DefaultSettings()
	if req.Settings != nil {
		if req.Settings.MinPlayers > 0 {
			settings.MinPlayers = req.Settings.MinPlayers
		}
		if req.Settings.MaxPlayers > 0 {
			settings.MaxPlayers = req.Settings.MaxPlayers
		}
		for k, v := range req.Settings.Data {
			if settings.Data == nil {
				settings.Data = make(map[string]any)
			}
			settings.Data[k] = v
		}
	}

	now := time.Now()
	host := &room.Player{
		PlayerID:     uuid.NewString(),
		ConnectionID: connectionID,
		Name:         name,
		Connected:    true,
		JoinedAt:     now,
		LastActivity: now,
	}

	rm, err := co.rooms.CreateRoom(req.GameID, host, settings, codeOverride)
	if err != nil {
		co.sendRegistryError(connectionID, err)
		return
	}
	rm.IsPlatformRoom = req.IsPlatformRoom

	token := co.sessions.Create(host.PlayerID, rm.Code)
	host.SessionToken = token

	if h, ok := p.(plugin.RoomCreateHook); ok {
		h.OnRoomCreate(rm)
	}
	// The creator is the room's first player and goes through the same join
	// hook as everyone after them.
	if h, ok := p.(plugin.PlayerJoinHook); ok {
		h.OnPlayerJoin(rm, host, false)
	}

	co.transport.JoinGroup(rm.Code, connectionID)
	co.transport.SendToConnection(connectionID, "room:created", map[string]any{
		"room":         plugin.SerializeRoom(p, rm, connectionID),
		"playerId":     host.PlayerID,
		"sessionToken": token,
	})
}

// --- room:join ---

type joinPayload struct {
	RoomCode     string `json:"roomCode"`
	PlayerName   string `json:"playerName"`
	SessionToken string `json:"sessionToken,omitempty"`
}

func (co *Coordinator) handleRoomJoin(connectionID string, payload json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		co.transport.SendError(connectionID, "Malformed payload", hub.CodeInvalidMessage)
		return
	}

	code, err := validate.RoomCode(req.RoomCode)
	if err != nil {
		co.transport.SendError(connectionID, "Invalid room code", hub.CodeInvalidCode)
		return
	}

	// A valid token for this room whose player is still a member makes this
	// a reconnect; anything else falls through to a new join.
	if req.SessionToken != "" {
		if sess := co.sessions.Validate(req.SessionToken); sess != nil && sess.RoomCode == code {
			if rm := co.rooms.GetByCode(code); rm != nil && rm.PlayerByID(sess.PlayerID) != nil {
				co.reconnect(connectionID, rm, sess, req.SessionToken)
				return
			}
		}
	}

	co.newJoin(connectionID, code, req.PlayerName)
}

func (co *Coordinator) reconnect(connectionID string, rm *room.Room, sess *session.Session, token string) {
	co.cancelGrace(sess.PlayerID)

	prev := rm.PlayerByID(sess.PlayerID)
	got, player := co.rooms.Reconnect(prev.ConnectionID, connectionID)
	if player == nil {
		// Another path already rebound the player; rebind manually by id.
		got, player = co.rooms.ReconnectByPlayerID(rm.Code, sess.PlayerID, connectionID)
	}
	if got == nil || player == nil {
		co.transport.SendError(connectionID, "Room not found", hub.CodeRoomNotFound)
		return
	}
	player.SessionToken = token

	p := co.plugins.Get(rm.GameID)
	co.transport.JoinGroup(rm.Code, connectionID)

	if h, ok := p.(plugin.PlayerJoinHook); ok {
		h.OnPlayerJoin(rm, player, true)
	}

	co.transport.SendToConnection(connectionID, "room:joined", map[string]any{
		"room":         plugin.SerializeRoom(p, rm, connectionID),
		"playerId":     player.PlayerID,
		"sessionToken": token,
		"reconnected":  true,
	})

	// During the rebind window both the old and new sockets can transiently
	// be group members, so the state sync targets one socket per player: the
	// connection each player record currently points at.
	for _, member := range rm.Players() {
		co.transport.SendToConnection(member.ConnectionID, "state:update",
			plugin.SerializeRoom(p, rm, member.ConnectionID))
	}

	ctx := logging.WithPlayer(logging.WithRoom(context.Background(), rm.Code), player.PlayerID)
	logging.Info(ctx, "player reconnected")
}

func (co *Coordinator) newJoin(connectionID, code, rawName string) {
	name, err := validate.PlayerName(rawName)
	if err != nil {
		co.transport.SendError(connectionID, "Invalid player name", hub.CodeInvalidName)
		return
	}

	now := time.Now()
	player := &room.Player{
		PlayerID:     uuid.NewString(),
		ConnectionID: connectionID,
		Name:         name,
		Connected:    true,
		JoinedAt:     now,
		LastActivity: now,
	}

	rm, err := co.rooms.AddPlayer(code, player)
	if err != nil {
		co.sendRegistryError(connectionID, err)
		return
	}

	token := co.sessions.Create(player.PlayerID, code)
	player.SessionToken = token

	p := co.plugins.Get(rm.GameID)
	co.transport.JoinGroup(code, connectionID)

	if h, ok := p.(plugin.PlayerJoinHook); ok {
		h.OnPlayerJoin(rm, player, false)
	}

	co.transport.SendToConnection(connectionID, "room:joined", map[string]any{
		"room":         plugin.SerializeRoom(p, rm, connectionID),
		"playerId":     player.PlayerID,
		"sessionToken": token,
	})

	// player:joined carries full room state, so it is re-serialized per
	// recipient rather than marshaled once.
	for _, member := range co.transport.RoomConnections(code) {
		if member == connectionID {
			continue
		}
		co.transport.SendToConnection(member, "player:joined", map[string]any{
			"player": map[string]any{
				"playerId": player.PlayerID,
				"name":     player.Name,
			},
			"room": plugin.SerializeRoom(p, rm, member),
		})
	}
}

// --- room:leave ---

func (co *Coordinator) handleRoomLeave(connectionID string) {
	rm, player := co.rooms.GetPlayer(connectionID)
	if rm == nil || player == nil {
		co.transport.SendError(connectionID, "Not in a room", hub.CodeNotInRoom)
		return
	}
	co.transport.LeaveGroup(rm.Code, connectionID)
	co.finalizeRemoval(rm.Code, player)
}

// finalizeRemoval permanently removes a player: registry removal, session
// invalidation, plugin hook and fanout. Session tokens are invalidated
// exactly here, on permanent removal.
func (co *Coordinator) finalizeRemoval(code string, player *room.Player) {
	co.cancelGrace(player.PlayerID)
	rm, removed := co.rooms.RemovePlayer(player.ConnectionID)
	if removed == nil {
		return
	}
	co.sessions.DeleteByPlayer(player.PlayerID)

	if rm == nil {
		return
	}
	p := co.plugins.Get(rm.GameID)
	if h, ok := p.(plugin.PlayerLeaveHook); ok {
		h.OnPlayerLeave(rm, removed)
	}

	if rm.PlayerCount() == 0 {
		// The registry destroys emptied rooms; give the plugin its room
		// teardown hook so per-room state (tick loops included) dies too.
		if h, ok := p.(plugin.HostLeaveHook); ok {
			h.OnHostLeave(rm, removed)
		}
		co.transport.DropGroup(code)
		return
	}
	for _, member := range co.transport.RoomConnections(code) {
		co.transport.SendToConnection(member, "player:left", map[string]any{
			"playerId": removed.PlayerID,
			"name":     removed.Name,
			"room":     plugin.SerializeRoom(p, rm, member),
		})
	}
}

// --- chat ---

type chatPayload struct {
	Message string `json:"message"`
}

func (co *Coordinator) handleChat(connectionID string, payload json.RawMessage) {
	rm, player := co.rooms.GetPlayer(connectionID)
	if rm == nil || player == nil {
		co.transport.SendError(connectionID, "Not in a room", hub.CodeNotInRoom)
		return
	}

	var req chatPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		co.transport.SendError(connectionID, "Malformed payload", hub.CodeInvalidMessage)
		return
	}
	text, err := validate.ChatMessage(req.Message)
	if err != nil {
		co.transport.SendError(connectionID, "Invalid chat message", hub.CodeInvalidMessage)
		return
	}

	msg := room.ChatMessage{
		PlayerID:   player.PlayerID,
		PlayerName: player.Name,
		Message:    text,
		Timestamp:  time.Now(),
	}
	rm.AppendChat(msg)

	// Chat is not coalesced; every message reaches the room.
	co.transport.SendToRoomNow(rm.Code, "chat:message", msg)
}

// --- mobile-heartbeat ---

func (co *Coordinator) handleHeartbeat(connectionID string) {
	rm, player := co.rooms.GetPlayer(connectionID)
	if rm == nil || player == nil {
		return
	}
	player.LastActivity = time.Now()
	rm.Touch()
}

// --- game:sync-state ---

type syncStatePayload struct {
	RoomCode string `json:"roomCode"`
}

func (co *Coordinator) handleSyncState(connectionID string, payload json.RawMessage) {
	var req syncStatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		co.transport.SendError(connectionID, "Malformed payload", hub.CodeInvalidMessage)
		return
	}

	rm := co.rooms.GetByConnection(connectionID)
	if rm == nil && req.RoomCode != "" {
		if code, err := validate.RoomCode(req.RoomCode); err == nil {
			rm = co.rooms.GetByCode(code)
		}
	}
	if rm == nil {
		co.transport.SendError(connectionID, "Room not found", hub.CodeRoomNotFound)
		return
	}

	p := co.plugins.Get(rm.GameID)
	co.transport.SendToConnection(connectionID, "state:update",
		plugin.SerializeRoom(p, rm, connectionID))
}

// --- WebRTC relay ---

type webrtcRouting struct {
	RoomCode string `json:"roomCode,omitempty"`
	ToPeerID string `json:"toPeerId,omitempty"`
}

// handleWebRTCRelay forwards signaling frames verbatim. Only the routing
// fields are inspected; payload contents are opaque to the server.
func (co *Coordinator) handleWebRTCRelay(connectionID string, frame hub.Frame) {
	var route webrtcRouting
	json.Unmarshal(frame.Payload, &route)

	if route.ToPeerID != "" {
		co.transport.SendToConnection(route.ToPeerID, frame.Event, json.RawMessage(frame.Payload))
		return
	}

	rm := co.rooms.GetByConnection(connectionID)
	if rm == nil && route.RoomCode != "" {
		if code, err := validate.RoomCode(route.RoomCode); err == nil {
			rm = co.rooms.GetByCode(code)
		}
	}
	if rm == nil {
		// Signaling for a vanished room is dropped silently.
		return
	}
	for _, member := range co.transport.RoomConnections(rm.Code) {
		if member == connectionID {
			continue
		}
		co.transport.SendToConnection(member, frame.Event, json.RawMessage(frame.Payload))
	}
}

// --- platform:return ---

type platformReturnPayload struct {
	RoomCode string `json:"roomCode"`
	Mode     string `json:"mode"` // "group" | "individual"
	Reason   string `json:"reason,omitempty"`
}

func (co *Coordinator) handlePlatformReturn(connectionID string, payload json.RawMessage) {
	rm, player := co.rooms.GetPlayer(connectionID)
	if rm == nil || player == nil {
		co.transport.SendError(connectionID, "Not in a room", hub.CodeNotInRoom)
		return
	}

	var req platformReturnPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		co.transport.SendError(connectionID, "Malformed payload", hub.CodeInvalidMessage)
		return
	}

	returnAll := req.Mode == "group"
	resp := co.platform.RequestReturnToLobby(context.Background(), rm.GameID, rm.Code, platform.ReturnRequest{
		ReturnAll:   returnAll,
		PlayerID:    player.PlayerID,
		InitiatedBy: player.PlayerID,
		Reason:      req.Reason,
	})

	redirect := map[string]any{
		"success":   true,
		"returnUrl": resp.ReturnURL,
	}
	if resp.APIError != "" {
		redirect["apiError"] = resp.APIError
	}
	if resp.SessionToken != "" {
		redirect["sessionToken"] = resp.SessionToken
	}

	if returnAll {
		co.transport.SendToRoomNow(rm.Code, "platform:return-redirect", redirect)
	} else {
		co.transport.SendToConnection(connectionID, "platform:return-redirect", redirect)
	}
}

// --- plugin dispatch ---

func (co *Coordinator) dispatchToPlugin(connectionID string, frame hub.Frame) {
	rm := co.rooms.GetByConnection(connectionID)
	if rm == nil {
		// Freshly rotated connections may not be indexed yet; fall back to
		// an explicit roomCode routing field.
		var route struct {
			RoomCode string `json:"roomCode,omitempty"`
		}
		json.Unmarshal(frame.Payload, &route)
		if route.RoomCode != "" {
			if code, err := validate.RoomCode(route.RoomCode); err == nil {
				rm = co.rooms.GetByCode(code)
			}
		}
	}
	if rm == nil {
		co.transport.SendError(connectionID, "Not in a room", hub.CodeNotInRoom)
		return
	}

	p := co.plugins.Get(rm.GameID)
	if p == nil {
		co.transport.SendError(connectionID, "Unknown game", hub.CodeUnknownEvent)
		return
	}

	handlers := p.Handlers()
	event := frame.Event
	handler, ok := handlers[event]
	if !ok {
		// Namespaced form: "<namespace>:<event>"
		if trimmed, found := strings.CutPrefix(event, p.Namespace()+":"); found {
			handler, ok = handlers[trimmed]
		}
	}
	if !ok {
		co.transport.SendError(connectionID, "Unknown event", hub.CodeUnknownEvent)
		return
	}

	player := rm.Player(connectionID)
	if player == nil {
		co.transport.SendError(connectionID, "Not in a room", hub.CodeNotInRoom)
		return
	}
	player.LastActivity = time.Now()
	rm.Touch()

	ctx := &plugin.Context{
		ConnectionID: connectionID,
		Room:         rm,
		Player:       player,
		Sender:       co.transport,
	}
	if err := handler(ctx, frame.Payload); err != nil {
		var ue *plugin.UserError
		if errors.As(err, &ue) {
			co.transport.SendError(connectionID, ue.Message, ue.Code)
			return
		}
		logging.Error(context.Background(), "plugin handler failed",
			zap.String("event", frame.Event),
			zap.String("game_id", rm.GameID),
			zap.Error(err),
		)
		co.transport.SendError(connectionID, "Internal server error", hub.CodeInternal)
	}
}

// --- disconnect handling ---

// HandleDisconnect implements hub.Dispatcher. A host with guests tears the
// room down immediately; everyone else, including a solo host, gets the
// reconnect grace window.
func (co *Coordinator) HandleDisconnect(connectionID string) {
	rm, player := co.rooms.GetPlayer(connectionID)
	if rm == nil || player == nil {
		return
	}

	if player.IsHost && rm.PlayerCount() > 1 {
		co.hostDisconnect(rm, player)
		return
	}

	co.rooms.MarkDisconnected(connectionID)
	co.transport.SendToRoomNow(rm.Code, "player:disconnected", map[string]any{
		"playerId":     player.PlayerID,
		"name":         player.Name,
		"graceSeconds": int(co.grace.Seconds()),
	})

	p := co.plugins.Get(rm.GameID)
	if h, ok := p.(plugin.PlayerDisconnectedHook); ok {
		h.OnPlayerDisconnected(rm, player)
	}

	co.armGrace(rm.Code, player)
}

func (co *Coordinator) hostDisconnect(rm *room.Room, host *room.Player) {
	ctx := logging.WithPlayer(logging.WithRoom(context.Background(), rm.Code), host.PlayerID)
	logging.Info(ctx, "host disconnected, closing room")

	co.transport.SendToRoomNow(rm.Code, "host:disconnected", map[string]any{
		"playerId": host.PlayerID,
		"name":     host.Name,
	})

	p := co.plugins.Get(rm.GameID)
	if h, ok := p.(plugin.HostLeaveHook); ok {
		h.OnHostLeave(rm, host)
	}

	// Every member is being permanently removed; invalidate all sessions.
	for _, member := range rm.Players() {
		co.cancelGrace(member.PlayerID)
	}
	co.sessions.DeleteByRoom(rm.Code)
	co.rooms.Destroy(rm.Code)
	co.transport.DropGroup(rm.Code)
}

func (co *Coordinator) armGrace(code string, player *room.Player) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if prev, ok := co.graceTimers[player.PlayerID]; ok {
		prev.Stop()
	}
	pid := player.PlayerID
	co.graceTimers[pid] = co.afterFunc(co.grace, func() {
		co.mu.Lock()
		delete(co.graceTimers, pid)
		co.mu.Unlock()

		rm := co.rooms.GetByCode(code)
		if rm == nil {
			return
		}
		p := rm.PlayerByID(pid)
		if p == nil || p.Connected {
			return // reconnected in time, or already gone
		}
		ctx := logging.WithPlayer(logging.WithRoom(context.Background(), code), pid)
		logging.Info(ctx, "grace expired, removing player")
		co.finalizeRemoval(code, p)
	})
}

func (co *Coordinator) cancelGrace(playerID string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if timer, ok := co.graceTimers[playerID]; ok {
		timer.Stop()
		delete(co.graceTimers, playerID)
	}
}

func (co *Coordinator) sendRegistryError(connectionID string, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		co.transport.SendError(connectionID, "Room not found", hub.CodeRoomNotFound)
	case errors.Is(err, room.ErrRoomFull):
		co.transport.SendError(connectionID, "Room is full", hub.CodeRoomFull)
	case errors.Is(err, room.ErrGameInProgress):
		co.transport.SendError(connectionID, "Game already in progress", hub.CodeGameInProgress)
	case errors.Is(err, room.ErrCodeTaken):
		co.transport.SendError(connectionID, "Room code already in use", hub.CodeInvalidCode)
	default:
		co.transport.SendError(connectionID, "Internal server error", hub.CodeInternal)
	}
}
