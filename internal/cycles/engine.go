package cycles

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
	"github.com/partyline/server/internal/plugin"
)

const (
	tickInterval = time.Second / 60
	syncInterval = 500 * time.Millisecond

	// maxTickDelta caps dt after a scheduler stall so a cycle never tunnels
	// across the arena in one step.
	maxTickDelta = 0.1

	// wrapEpsilon insets the teleport target from the opposite edge.
	wrapEpsilon = 0.1

	interRoundDelay = 3.0
)

// Simulation phases. The substrate room phase tracks these coarsely.
const (
	phaseLobby     = "lobby"
	phaseCountdown = "countdown"
	phasePlaying   = "playing"
	phaseRoundOver = "round_over"
	phaseGameOver  = "game_over"
)

var colorPalette = []string{
	"#00f0ff", "#ff7300", "#a6ff00", "#ff00d4",
	"#ffe600", "#7b61ff", "#ff3b3b", "#00ff9d",
}

// engine owns one room's simulation. All state behind mu; the tick loop and
// the handler entry points serialize through it, so per-room mutation is
// strictly serial.
type engine struct {
	roomCode string
	sender   plugin.Sender

	mu            sync.Mutex
	cfg           Config
	phase         string
	round         int
	gameTime      float64
	countdownLeft float64
	lastCountdown int
	interRound    float64
	cycles        map[string]*Cycle
	order         []string // join order, drives spawn placement
	tickDeaths    []string // eliminated during the current tick
	grid          *CollisionGrid
	nextMessageID uint64
	rng           *rand.Rand

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func newEngine(roomCode string, sender plugin.Sender, cfg Config) *engine {
	return &engine{
		roomCode: roomCode,
		sender:   sender,
		cfg:      cfg,
		phase:    phaseLobby,
		cycles:   make(map[string]*Cycle),
		grid:     NewCollisionGrid(cfg.GridSize),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *engine) mintMessageID() uint64 {
	e.nextMessageID++
	return e.nextMessageID
}

// --- membership ---

func (e *engine) addPlayer(playerID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cycles[playerID]; exists {
		return
	}
	e.cycles[playerID] = &Cycle{
		PlayerID: playerID,
		Name:     name,
		Color:    colorPalette[len(e.order)%len(colorPalette)],
		Speed:    e.cfg.Speed,
	}
	e.order = append(e.order, playerID)
}

func (e *engine) removePlayer(playerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cycles[playerID]; !exists {
		return
	}
	delete(e.cycles, playerID)
	for i, id := range e.order {
		if id == playerID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	// Trails of the departed stay on the grid for the rest of the round.
	if e.phase == phasePlaying {
		e.checkRoundEndLocked()
	}
}

func (e *engine) setReady(playerID string, ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cycles[playerID]; ok {
		c.Ready = ready
	}
}

func (e *engine) updateConfig(data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseLobby && e.phase != phaseGameOver {
		return
	}
	e.cfg = configFromData(e.cfg, data)
	e.grid = NewCollisionGrid(e.cfg.GridSize)
}

func (e *engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// --- game flow ---

// startGame begins a fresh game: scores wiped, round counter reset, first
// countdown started. Valid from the lobby or after game over.
func (e *engine) startGame() bool {
	e.mu.Lock()
	if e.phase != phaseLobby && e.phase != phaseGameOver {
		e.mu.Unlock()
		return false
	}
	for _, c := range e.cycles {
		c.Score = 0
	}
	e.round = 0
	e.resetRoundLocked()
	e.startCountdownLocked()
	e.mu.Unlock()

	e.startLoop()
	return true
}

func (e *engine) startCountdownLocked() {
	e.phase = phaseCountdown
	e.countdownLeft = float64(e.cfg.Countdown)
	e.lastCountdown = e.cfg.Countdown
	if e.cfg.Countdown > 0 {
		e.sender.SendToRoomNow(e.roomCode, "countdown", map[string]any{"value": e.cfg.Countdown})
	} else {
		e.beginRoundLocked()
	}
}

func (e *engine) beginRoundLocked() {
	e.round++
	e.phase = phasePlaying
	e.sender.SendToRoomNow(e.roomCode, "round:start", map[string]any{
		"round":    e.round,
		"gameTime": e.gameTime,
		"players":  e.snapshotsLocked(),
		"config":   e.cfg,
	})
}

// resetRoundLocked clears the grid and respawns every cycle; scores and the
// round counter are kept.
func (e *engine) resetRoundLocked() {
	e.grid.Reset()
	n := len(e.order)
	if n == 0 {
		return
	}
	radius := e.cfg.ArenaSize / 4
	for i, id := range e.order {
		c := e.cycles[id]
		angle := 2 * math.Pi * float64(i) / float64(n)
		spawn := Coord{
			X: math.Round(math.Cos(angle) * radius),
			Z: math.Round(math.Sin(angle) * radius),
		}
		c.Position = spawn
		c.SpawnPosition = spawn
		c.SpawnTime = e.gameTime
		c.Direction = inwardCardinal(spawn)
		c.Speed = e.cfg.Speed
		c.Distance = 0
		c.Alive = true
		c.TurnCount = 0
		c.LastTurnPosition = spawn
		c.LastTurnTime = e.gameTime - e.cfg.TurnDelay
		c.Destinations = []Destination{{
			Position:  spawn,
			Direction: c.Direction,
			GameTime:  e.gameTime,
			MessageID: e.mintMessageID(),
			PlayerID:  id,
		}}
		c.Wall = PlayerWall{}
		c.Wall.open(spawn, 0, e.gameTime, id)
		e.grid.Claim(e.grid.CellAt(spawn), id)
	}
}

// inwardCardinal picks the axis-aligned unit direction pointing most
// directly back toward the arena center.
func inwardCardinal(spawn Coord) Coord {
	if math.Abs(spawn.X) >= math.Abs(spawn.Z) {
		if spawn.X > 0 {
			return Coord{-1, 0}
		}
		return Coord{1, 0}
	}
	if spawn.Z > 0 {
		return Coord{0, -1}
	}
	return Coord{0, 1}
}

// --- tick loop ---

func (e *engine) startLoop() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run()
}

// Stop halts the loop and drains it. Safe to call repeatedly; a stopped
// engine ignores further input.
func (e *engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	<-e.done
}

func (e *engine) run() {
	defer close(e.done)
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	syncTick := time.NewTicker(syncInterval)
	defer syncTick.Stop()

	last := time.Now()
	for {
		select {
		case <-e.stop:
			return
		case now := <-tick.C:
			dt := now.Sub(last).Seconds()
			last = now
			if dt > maxTickDelta {
				dt = maxTickDelta
			}
			started := time.Now()
			e.step(dt)
			metrics.TickDuration.WithLabelValues(gameID).Observe(time.Since(started).Seconds())
		case <-syncTick.C:
			e.broadcastSync()
		}
	}
}

// step advances the simulation by dt seconds of game time.
func (e *engine) step(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case phaseCountdown:
		e.countdownLeft -= dt
		value := int(math.Ceil(e.countdownLeft))
		if value < e.lastCountdown && value > 0 {
			e.lastCountdown = value
			e.sender.SendToRoomNow(e.roomCode, "countdown", map[string]any{"value": value})
		}
		if e.countdownLeft <= 0 {
			e.beginRoundLocked()
		}
	case phasePlaying:
		e.gameTime += dt
		e.tickDeaths = e.tickDeaths[:0]
		for _, id := range e.order {
			c := e.cycles[id]
			if c.Alive {
				e.moveCycleLocked(c, dt)
			}
		}
		e.checkRoundEndLocked()
	case phaseRoundOver:
		e.interRound -= dt
		if e.interRound <= 0 {
			e.resetRoundLocked()
			e.startCountdownLocked()
		}
	}
}

func (e *engine) broadcastSync() {
	e.mu.Lock()
	if e.phase != phasePlaying {
		e.mu.Unlock()
		return
	}
	payload := map[string]any{
		"gameTime": e.gameTime,
		"players":  e.snapshotsLocked(),
	}
	e.mu.Unlock()
	e.sender.SendToRoom(e.roomCode, "sync", payload)
}

func (e *engine) snapshotsLocked() []snapshot {
	out := make([]snapshot, 0, len(e.order))
	for _, id := range e.order {
		c := e.cycles[id]
		out = append(out, snapshot{
			ID:        c.PlayerID,
			Position:  c.Position,
			Direction: c.Direction,
			Distance:  c.Distance,
			Speed:     c.Speed,
			Alive:     c.Alive,
		})
	}
	return out
}

// --- movement & collision ---

func (e *engine) moveCycleLocked(c *Cycle, dt float64) {
	prev := c.Position
	step := c.Speed * dt
	c.Position = c.Position.Add(c.Direction.Scale(step))
	c.Distance += step

	half := e.cfg.ArenaSize / 2
	out := math.Abs(c.Position.X) > half || math.Abs(c.Position.Z) > half

	if out && !e.cfg.WrapAround {
		e.eliminateLocked(c, clampToArena(c.Position, half), "wall", "")
		return
	}

	if out {
		// Teleport to the opposite edge with an epsilon inset, break the
		// wall with a synthetic destination, and skip the path scan: the
		// rasterized line would otherwise cross the whole arena.
		if c.Position.X > half {
			c.Position.X = -half + wrapEpsilon
		} else if c.Position.X < -half {
			c.Position.X = half - wrapEpsilon
		}
		if c.Position.Z > half {
			c.Position.Z = -half + wrapEpsilon
		} else if c.Position.Z < -half {
			c.Position.Z = half - wrapEpsilon
		}
		// The wall is broken, not bent: seal the open segment on the exit
		// edge, then start a fresh one at the re-entry point.
		c.Wall.close(prev, c.Distance, e.gameTime, c.PlayerID)
		c.Wall.open(c.Position, c.Distance, e.gameTime, c.PlayerID)
		dest := Destination{
			Position:  c.Position,
			Direction: c.Direction,
			Distance:  c.Distance,
			GameTime:  e.gameTime,
			MessageID: e.mintMessageID(),
			PlayerID:  c.PlayerID,
		}
		c.InsertDestination(dest)
		e.sender.SendToRoomNow(e.roomCode, "destination", dest)
		return
	}

	if !e.rasterizeLocked(c, prev) {
		return // eliminated during the path scan
	}
	c.Wall.extend(c.Position, c.Distance, e.gameTime)
}

// rasterizeLocked walks the Bresenham line from prev to the cycle's current
// position, claiming untouched cells and detecting trail hits. The first
// offending cell along the walk wins; another player's cell takes precedence
// over the cycle's own. Returns false if the cycle was eliminated.
func (e *engine) rasterizeLocked(c *Cycle, prev Coord) bool {
	start := e.grid.CellAt(prev)
	cells := line(start, e.grid.CellAt(c.Position))
	for _, cl := range cells {
		if cl == start {
			continue
		}
		owner, occupied := e.grid.Owner(cl)
		if !occupied {
			e.grid.Claim(cl, c.PlayerID)
			continue
		}
		impact := e.grid.Center(cl)
		if owner != c.PlayerID {
			e.eliminateLocked(c, impact, "trail", owner)
			return false
		}
		if e.selfKillLocked(c, impact) {
			e.eliminateLocked(c, impact, "self", c.PlayerID)
			return false
		}
		// Own cell, not lethal: never overwritten, walk continues.
	}
	return true
}

// selfKillLocked guards the spawn cell from re-killing its own cycle: the
// cycle must have travelled more than 3 grid cells and the cell must be far
// enough from the spawn point.
func (e *engine) selfKillLocked(c *Cycle, impact Coord) bool {
	if !e.cfg.SelfCollision {
		return false
	}
	if c.Distance <= 3*e.cfg.GridSize {
		return false
	}
	return impact.DistanceTo(c.SpawnPosition) > 4*e.cfg.GridSize
}

func clampToArena(p Coord, half float64) Coord {
	return Coord{
		X: math.Max(-half, math.Min(half, p.X)),
		Z: math.Max(-half, math.Min(half, p.Z)),
	}
}

func (e *engine) eliminateLocked(c *Cycle, impact Coord, hitType, byPlayerID string) {
	c.Alive = false
	e.tickDeaths = append(e.tickDeaths, c.PlayerID)
	metrics.Eliminations.WithLabelValues(hitType).Inc()
	e.sender.SendToRoomNow(e.roomCode, "eliminated", map[string]any{
		"playerId":     c.PlayerID,
		"position":     impact,
		"hitType":      hitType,
		"eliminatedBy": byPlayerID,
		"color":        c.Color,
	})
	logging.Debug(context.Background(), "cycle eliminated",
		zap.String("room_code", e.roomCode),
		zap.String("player_id", c.PlayerID),
		zap.String("hit_type", hitType),
	)
}

// --- round & game end ---

func (e *engine) checkRoundEndLocked() {
	if e.phase != phasePlaying {
		return
	}
	var alive []*Cycle
	for _, id := range e.order {
		if c := e.cycles[id]; c.Alive {
			alive = append(alive, c)
		}
	}
	total := len(e.order)

	var winner *Cycle
	switch {
	case total == 0:
		e.phase = phaseLobby
		return
	case total == 1:
		// Solo: the round runs until the lone cycle dies, then it "wins".
		if len(alive) == 1 {
			return
		}
		winner = e.cycles[e.order[0]]
	default:
		if len(alive) > 1 {
			return
		}
		if len(alive) == 1 {
			winner = alive[0]
			break
		}
		// Everyone is down: the winner is drawn from the cycles that
		// survived until this tick, never from earlier casualties.
		var recent []*Cycle
		for _, id := range e.tickDeaths {
			if c, ok := e.cycles[id]; ok {
				recent = append(recent, c)
			}
		}
		if len(recent) > 0 {
			winner = recent[e.rng.Intn(len(recent))]
		} else {
			winner = e.cycles[e.order[e.rng.Intn(total)]]
		}
	}

	winner.Score++
	e.sender.SendToRoomNow(e.roomCode, "round:over", map[string]any{
		"winnerId": winner.PlayerID,
		"round":    e.round,
		"scores":   e.scoresLocked(),
	})

	if winner.Score >= e.cfg.RoundsToWin {
		e.phase = phaseGameOver
		e.sender.SendToRoomNow(e.roomCode, "game:over", map[string]any{
			"winnerId":    winner.PlayerID,
			"finalScores": e.scoresLocked(),
		})
		return
	}
	e.phase = phaseRoundOver
	e.interRound = interRoundDelay
}

func (e *engine) scoresLocked() map[string]int {
	scores := make(map[string]int, len(e.cycles))
	for id, c := range e.cycles {
		scores[id] = c.Score
	}
	return scores
}

// --- turns ---

// ApplyTurn rotates a cycle 90 degrees and broadcasts the resulting
// destination. Turns from dead cycles or inside the per-cycle turn delay are
// dropped silently.
func (e *engine) ApplyTurn(playerID string, turnDir int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != phasePlaying {
		return
	}
	c, ok := e.cycles[playerID]
	if !ok || !c.Alive {
		return
	}
	if e.gameTime-c.LastTurnTime < e.cfg.TurnDelay {
		return
	}

	newDir := c.Direction.rotated(turnDir)
	dest := Destination{
		Position:  c.Position,
		Direction: newDir,
		Distance:  c.Distance,
		GameTime:  e.gameTime,
		MessageID: e.mintMessageID(),
		PlayerID:  playerID,
	}
	if inserted, _ := c.InsertDestination(dest); !inserted {
		return
	}

	c.Direction = newDir
	c.LastTurnPosition = c.Position
	c.LastTurnTime = e.gameTime
	c.TurnCount++
	c.Wall.close(c.Position, c.Distance, e.gameTime, playerID)

	// Destinations are input, not state sync: broadcast immediately.
	e.sender.SendToRoomNow(e.roomCode, "destination", dest)
}

var legacyDirections = map[string]Coord{
	"UP":    {0, -1},
	"DOWN":  {0, 1},
	"LEFT":  {-1, 0},
	"RIGHT": {1, 0},
}

// legacyTurnDir maps an absolute direction name onto a relative turn for the
// cycle's current heading. The cross product sign picks the rotation; a zero
// cross means the requested direction is the current or opposite heading,
// which is not a turn and is ignored.
func (e *engine) legacyTurnDir(playerID, direction string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, known := legacyDirections[direction]
	if !known {
		return 0, false
	}
	c, ok := e.cycles[playerID]
	if !ok {
		return 0, false
	}
	cross := c.Direction.X*target.Z - c.Direction.Z*target.X
	switch {
	case cross > 0:
		return 1, true
	case cross < 0:
		return -1, true
	}
	return 0, false
}

// ApplyRemoteDestination merges a destination produced elsewhere (late
// joiner replay) into a cycle. Duplicate (messageId, playerId) pairs are
// idempotent; if the destination becomes the latest, direction and walls
// snap to it.
func (e *engine) ApplyRemoteDestination(d Destination) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cycles[d.PlayerID]
	if !ok {
		return
	}
	inserted, latest := c.InsertDestination(d)
	if !inserted || !latest {
		return
	}
	c.Direction = d.Direction
	c.Wall.close(d.Position, d.Distance, d.GameTime, d.PlayerID)
}

// state returns the serializable snapshot of the whole simulation.
func (e *engine) state() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	players := make([]map[string]any, 0, len(e.order))
	for _, id := range e.order {
		c := e.cycles[id]
		players = append(players, map[string]any{
			"playerId":  c.PlayerID,
			"name":      c.Name,
			"color":     c.Color,
			"position":  c.Position,
			"direction": c.Direction,
			"distance":  c.Distance,
			"speed":     c.Speed,
			"alive":     c.Alive,
			"score":     c.Score,
			"ready":     c.Ready,
		})
	}
	return map[string]any{
		"phase":    e.phase,
		"round":    e.round,
		"gameTime": e.gameTime,
		"config":   e.cfg,
		"players":  players,
	}
}
