// Package games holds the non-tick plugins: turn and voting games that are
// plain request/broadcast handlers over the substrate, with no simulation
// loop of their own.
package games

import (
	"encoding/json"
	"sync"

	"github.com/partyline/server/internal/plugin"
	"github.com/partyline/server/internal/room"
)

const maxPollOptions = 10

// poll is one open question in a room.
type poll struct {
	Question string         `json:"question"`
	Options  []string       `json:"options"`
	Votes    map[string]int `json:"votes"` // player id -> option index
	Open     bool           `json:"open"`
}

// Pulse is a minimal voting game: the host opens a question, everyone votes,
// the tally is broadcast live and sealed on close. It is the archetype for
// plugins that need no tick loop.
type Pulse struct {
	mu     sync.Mutex
	sender plugin.Sender
	polls  map[string]*poll // room code -> current poll
}

func NewPulse() *Pulse {
	return &Pulse{polls: make(map[string]*poll)}
}

func (g *Pulse) ID() string        { return "pulse" }
func (g *Pulse) Namespace() string { return "pulse" }

func (g *Pulse) DefaultSettings() room.Settings {
	return room.Settings{MinPlayers: 2, MaxPlayers: 16}
}

func (g *Pulse) Handlers() map[string]plugin.Handler {
	return map[string]plugin.Handler{
		"vote:open":  g.handleOpen,
		"vote:cast":  g.handleCast,
		"vote:close": g.handleClose,
	}
}

func (g *Pulse) OnInitialize(s plugin.Sender) error {
	g.sender = s
	return nil
}

func (g *Pulse) OnCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls = make(map[string]*poll)
}

func (g *Pulse) OnHostLeave(r *room.Room, p *room.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.polls, r.Code)
}

// OnPlayerLeave retracts the departing player's vote from an open poll.
func (g *Pulse) OnPlayerLeave(r *room.Room, p *room.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pl, ok := g.polls[r.Code]; ok && pl.Open {
		delete(pl.Votes, p.PlayerID)
	}
}

func (g *Pulse) SerializeRoom(r *room.Room, perspectiveConnectionID string) any {
	view := plugin.BaseRoomView(r, perspectiveConnectionID)
	g.mu.Lock()
	if pl, ok := g.polls[r.Code]; ok {
		view["poll"] = g.tallyLocked(pl)
	}
	g.mu.Unlock()
	return view
}

type openPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (g *Pulse) handleOpen(ctx *plugin.Context, payload json.RawMessage) error {
	if !ctx.Player.IsHost {
		return plugin.Errf("NOT_HOST", "Only the host can open a vote")
	}
	var req openPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return plugin.Errf("INVALID_PAYLOAD", "Malformed payload")
	}
	if req.Question == "" || len(req.Options) < 2 || len(req.Options) > maxPollOptions {
		return plugin.Errf("INVALID_POLL", "A vote needs a question and 2-10 options")
	}

	g.mu.Lock()
	g.polls[ctx.Room.Code] = &poll{
		Question: req.Question,
		Options:  req.Options,
		Votes:    make(map[string]int),
		Open:     true,
	}
	tally := g.tallyLocked(g.polls[ctx.Room.Code])
	g.mu.Unlock()

	ctx.Room.SetPhase(room.PhaseRunning)
	ctx.Sender.SendToRoomNow(ctx.Room.Code, "vote:opened", tally)
	return nil
}

type castPayload struct {
	Option int `json:"option"`
}

func (g *Pulse) handleCast(ctx *plugin.Context, payload json.RawMessage) error {
	var req castPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return plugin.Errf("INVALID_PAYLOAD", "Malformed payload")
	}

	g.mu.Lock()
	pl, ok := g.polls[ctx.Room.Code]
	if !ok || !pl.Open {
		g.mu.Unlock()
		return plugin.Errf("NO_OPEN_POLL", "No vote is open")
	}
	if req.Option < 0 || req.Option >= len(pl.Options) {
		g.mu.Unlock()
		return plugin.Errf("INVALID_OPTION", "Option out of range")
	}
	pl.Votes[ctx.Player.PlayerID] = req.Option
	tally := g.tallyLocked(pl)
	g.mu.Unlock()

	// Live tallies are state sync, so they ride the coalesced channel.
	ctx.Sender.SendToRoom(ctx.Room.Code, "vote:tally", tally)
	return nil
}

func (g *Pulse) handleClose(ctx *plugin.Context, payload json.RawMessage) error {
	if !ctx.Player.IsHost {
		return plugin.Errf("NOT_HOST", "Only the host can close a vote")
	}

	g.mu.Lock()
	pl, ok := g.polls[ctx.Room.Code]
	if !ok || !pl.Open {
		g.mu.Unlock()
		return plugin.Errf("NO_OPEN_POLL", "No vote is open")
	}
	pl.Open = false
	tally := g.tallyLocked(pl)
	g.mu.Unlock()

	ctx.Room.SetPhase(room.PhaseLobby)
	ctx.Sender.SendToRoomNow(ctx.Room.Code, "vote:closed", tally)
	return nil
}

// tallyLocked renders the poll with per-option counts, never exposing who
// voted for what.
func (g *Pulse) tallyLocked(pl *poll) map[string]any {
	counts := make([]int, len(pl.Options))
	for _, opt := range pl.Votes {
		counts[opt]++
	}
	return map[string]any{
		"question": pl.Question,
		"options":  pl.Options,
		"counts":   counts,
		"voters":   len(pl.Votes),
		"open":     pl.Open,
	}
}
