package plugin

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyline/server/internal/room"
)

type nopSender struct{}

func (nopSender) SendToRoom(code, event string, payload any)         {}
func (nopSender) SendToRoomNow(code, event string, payload any)      {}
func (nopSender) SendToConnection(connectionID, event string, p any) {}
func (nopSender) RoomConnections(code string) []string               { return nil }

type fakePlugin struct {
	id, ns      string
	initErr     error
	initialized bool
	cleaned     bool
}

func (p *fakePlugin) ID() string                     { return p.id }
func (p *fakePlugin) Namespace() string              { return p.ns }
func (p *fakePlugin) DefaultSettings() room.Settings { return room.Settings{MaxPlayers: 8} }
func (p *fakePlugin) Handlers() map[string]Handler {
	return map[string]Handler{
		"noop": func(ctx *Context, payload json.RawMessage) error { return nil },
	}
}

func (p *fakePlugin) OnInitialize(s Sender) error {
	p.initialized = true
	return p.initErr
}

func (p *fakePlugin) OnCleanup() { p.cleaned = true }

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	p := &fakePlugin{id: "word", ns: "word"}

	require.NoError(t, reg.Register(p, nopSender{}))
	assert.True(t, p.initialized)
	assert.Same(t, p, reg.Get("word"))
	assert.Same(t, p, reg.ByNamespace("word"))
	assert.Equal(t, []string{"word"}, reg.IDs())
	assert.Nil(t, reg.Get("missing"))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakePlugin{id: "a", ns: "na"}, nopSender{}))

	err := reg.Register(&fakePlugin{id: "a", ns: "other"}, nopSender{})
	assert.Error(t, err, "duplicate id")

	err = reg.Register(&fakePlugin{id: "b", ns: "na"}, nopSender{})
	assert.Error(t, err, "duplicate namespace")

	err = reg.Register(&fakePlugin{id: "", ns: "x"}, nopSender{})
	assert.Error(t, err, "empty id")
}

func TestRegisterPropagatesInitFailure(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("no database")
	err := reg.Register(&fakePlugin{id: "a", ns: "na", initErr: boom}, nopSender{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, reg.Get("a"), "failed plugins are not stored")
}

func TestDestroyRunsCleanup(t *testing.T) {
	reg := NewRegistry()
	p := &fakePlugin{id: "a", ns: "na"}
	require.NoError(t, reg.Register(p, nopSender{}))

	reg.Destroy()
	assert.True(t, p.cleaned)
	assert.Nil(t, reg.Get("a"))
	assert.Empty(t, reg.IDs())
}

func TestStatsShape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakePlugin{id: "a", ns: "na"}, nopSender{}))

	stats := reg.Stats()
	require.Contains(t, stats, "a")
	entry := stats["a"].(map[string]any)
	assert.Equal(t, "na", entry["namespace"])
	assert.Equal(t, 1, entry["events"])
}

func TestSerializeRoomFallsBackToBaseView(t *testing.T) {
	reg := room.NewRegistry()
	defer reg.Close()
	host := &room.Player{PlayerID: "p1", ConnectionID: "c1", Name: "Ada", Connected: true, IsHost: true}
	rm, err := reg.CreateRoom("word", host, room.Settings{MaxPlayers: 4}, "")
	require.NoError(t, err)

	view := SerializeRoom(&fakePlugin{id: "word", ns: "word"}, rm, "c1").(map[string]any)
	assert.Equal(t, rm.Code, view["code"])
	players := view["players"].([]map[string]any)
	require.Len(t, players, 1)
	assert.Equal(t, true, players[0]["isYou"])
}
