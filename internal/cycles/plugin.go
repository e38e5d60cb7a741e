package cycles

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/plugin"
	"github.com/partyline/server/internal/room"
)

const gameID = "cycles"

// turnEdgeLimit rate-limits turn frames per player at the dispatch edge,
// before the simulation's own turnDelay applies.
const turnEdgeLimit = 50 * time.Millisecond

// Game is the light-cycle plugin: one engine per active room.
type Game struct {
	mu      sync.Mutex
	sender  plugin.Sender
	engines map[string]*engine   // room code -> engine
	edge    map[string]time.Time // player id -> last accepted turn frame

	now func() time.Time // swapped in tests
}

func NewGame() *Game {
	return &Game{
		engines: make(map[string]*engine),
		edge:    make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *Game) ID() string        { return gameID }
func (g *Game) Namespace() string { return gameID }

func (g *Game) DefaultSettings() room.Settings {
	cfg := DefaultConfig()
	raw, _ := json.Marshal(cfg)
	var data map[string]any
	json.Unmarshal(raw, &data)
	return room.Settings{
		MinPlayers: 1,
		MaxPlayers: 8,
		Data:       data,
	}
}

func (g *Game) Handlers() map[string]plugin.Handler {
	return map[string]plugin.Handler{
		"turn":            g.handleTurn,
		"player:ready":    g.handleReady,
		"settings:update": g.handleSettingsUpdate,
		"game:start":      g.handleGameStart,
		"restart":         g.handleRestart,
	}
}

// --- lifecycle hooks ---

func (g *Game) OnInitialize(s plugin.Sender) error {
	g.sender = s
	return nil
}

func (g *Game) OnCleanup() {
	g.mu.Lock()
	engines := make([]*engine, 0, len(g.engines))
	for code, e := range g.engines {
		engines = append(engines, e)
		delete(g.engines, code)
	}
	g.edge = make(map[string]time.Time)
	g.mu.Unlock()
	for _, e := range engines {
		e.Stop()
	}
}

func (g *Game) OnRoomCreate(r *room.Room) {
	e := newEngine(r.Code, g.sender, configFromData(DefaultConfig(), r.Settings.Data))
	g.mu.Lock()
	g.engines[r.Code] = e
	g.mu.Unlock()
}

func (g *Game) OnPlayerJoin(r *room.Room, p *room.Player, reconnecting bool) {
	if reconnecting {
		return // cycle survived the transport blip
	}
	if e := g.engine(r.Code); e != nil {
		e.addPlayer(p.PlayerID, p.Name)
	}
}

func (g *Game) OnPlayerLeave(r *room.Room, p *room.Player) {
	if e := g.engine(r.Code); e != nil {
		e.removePlayer(p.PlayerID)
	}
	g.mu.Lock()
	delete(g.edge, p.PlayerID)
	g.mu.Unlock()
}

func (g *Game) OnHostLeave(r *room.Room, p *room.Player) {
	g.mu.Lock()
	e := g.engines[r.Code]
	delete(g.engines, r.Code)
	for _, member := range r.Players() {
		delete(g.edge, member.PlayerID)
	}
	g.mu.Unlock()
	if e != nil {
		e.Stop()
		logging.Info(context.Background(), "engine stopped with room",
			zap.String("room_code", r.Code), zap.String("game_id", gameID))
	}
}

// SerializeRoom layers the simulation state onto the substrate room view.
func (g *Game) SerializeRoom(r *room.Room, perspectiveConnectionID string) any {
	view := plugin.BaseRoomView(r, perspectiveConnectionID)
	if e := g.engine(r.Code); e != nil {
		view["game"] = e.state()
	}
	return view
}

func (g *Game) engine(code string) *engine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engines[code]
}

// RoomCount reports the number of rooms with a live engine.
func (g *Game) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.engines)
}

// --- handlers ---

type turnPayload struct {
	TurnDir         int    `json:"turnDir,omitempty"`
	LegacyDirection string `json:"direction,omitempty"`
	MessageID       uint64 `json:"messageId,omitempty"`
}

func (g *Game) handleTurn(ctx *plugin.Context, payload json.RawMessage) error {
	var req turnPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return plugin.Errf("INVALID_TURN", "Malformed turn")
	}

	e := g.engine(ctx.Room.Code)
	if e == nil {
		return plugin.Errf("GAME_NOT_FOUND", "No game for this room")
	}

	if !g.passEdgeLimit(ctx.Player.PlayerID) {
		return nil // over the edge rate, silently dropped
	}

	turnDir := req.TurnDir
	if turnDir == 0 && req.LegacyDirection != "" {
		var ok bool
		turnDir, ok = e.legacyTurnDir(ctx.Player.PlayerID, req.LegacyDirection)
		if !ok {
			// Same or opposite to the current heading: no-op by contract.
			return nil
		}
	}
	if turnDir != 1 && turnDir != -1 {
		return plugin.Errf("INVALID_TURN", "turnDir must be -1 or 1")
	}

	e.ApplyTurn(ctx.Player.PlayerID, turnDir)
	return nil
}

// passEdgeLimit enforces one accepted turn frame per 50 ms per player.
func (g *Game) passEdgeLimit(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if last, ok := g.edge[playerID]; ok && now.Sub(last) < turnEdgeLimit {
		return false
	}
	g.edge[playerID] = now
	return true
}

type readyPayload struct {
	Ready bool `json:"ready"`
}

func (g *Game) handleReady(ctx *plugin.Context, payload json.RawMessage) error {
	var req readyPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return plugin.Errf("INVALID_PAYLOAD", "Malformed payload")
	}
	e := g.engine(ctx.Room.Code)
	if e == nil {
		return plugin.Errf("GAME_NOT_FOUND", "No game for this room")
	}
	e.setReady(ctx.Player.PlayerID, req.Ready)
	g.broadcastState(ctx.Room)
	return nil
}

func (g *Game) handleSettingsUpdate(ctx *plugin.Context, payload json.RawMessage) error {
	if !ctx.Player.IsHost {
		return plugin.Errf("NOT_HOST", "Only the host can change settings")
	}
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return plugin.Errf("INVALID_PAYLOAD", "Malformed settings")
	}
	e := g.engine(ctx.Room.Code)
	if e == nil {
		return plugin.Errf("GAME_NOT_FOUND", "No game for this room")
	}
	e.updateConfig(data)
	for k, v := range data {
		if ctx.Room.Settings.Data == nil {
			ctx.Room.Settings.Data = make(map[string]any)
		}
		ctx.Room.Settings.Data[k] = v
	}
	g.broadcastState(ctx.Room)
	return nil
}

func (g *Game) handleGameStart(ctx *plugin.Context, payload json.RawMessage) error {
	if !ctx.Player.IsHost {
		return plugin.Errf("NOT_HOST", "Only the host can start the game")
	}
	e := g.engine(ctx.Room.Code)
	if e == nil {
		return plugin.Errf("GAME_NOT_FOUND", "No game for this room")
	}
	if ctx.Room.PlayerCount() < ctx.Room.Settings.MinPlayers {
		return plugin.Errf("NOT_ENOUGH_PLAYERS", "Not enough players to start")
	}
	if !e.startGame() {
		return plugin.Errf("ALREADY_RUNNING", "Game already in progress")
	}
	ctx.Room.SetPhase(room.PhaseRunning)
	return nil
}

func (g *Game) handleRestart(ctx *plugin.Context, payload json.RawMessage) error {
	if !ctx.Player.IsHost {
		return plugin.Errf("NOT_HOST", "Only the host can restart")
	}
	e := g.engine(ctx.Room.Code)
	if e == nil {
		return plugin.Errf("GAME_NOT_FOUND", "No game for this room")
	}
	if !e.startGame() {
		return plugin.Errf("ALREADY_RUNNING", "Game already in progress")
	}
	ctx.Room.SetPhase(room.PhaseRunning)
	return nil
}

// broadcastState fans the full room view out per recipient.
func (g *Game) broadcastState(r *room.Room) {
	for _, conn := range g.sender.RoomConnections(r.Code) {
		g.sender.SendToConnection(conn, "state:update", g.SerializeRoom(r, conn))
	}
}
