package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	t.Cleanup(reg.Close)
	return reg
}

func testPlayer(playerID, connID string) *Player {
	return &Player{
		PlayerID:     playerID,
		ConnectionID: connID,
		Name:         "Player " + playerID,
		Connected:    true,
		JoinedAt:     time.Now(),
	}
}

func TestCreateRoomRegistersHost(t *testing.T) {
	reg := newTestRegistry(t)

	host := testPlayer("p1", "c1")
	room, err := reg.CreateRoom("cycles", host, Settings{MaxPlayers: 8}, "")
	require.NoError(t, err)

	assert.Len(t, room.Code, 6)
	assert.Equal(t, PhaseLobby, room.CurrentPhase())
	assert.True(t, host.IsHost)
	assert.Equal(t, "p1", room.HostPlayerID)
	assert.Same(t, room, reg.GetByCode(room.Code))
	assert.Same(t, room, reg.GetByConnection("c1"))
}

func TestCreateRoomCodeOverride(t *testing.T) {
	reg := newTestRegistry(t)

	room, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{}, "QRXZP7")
	require.NoError(t, err)
	assert.Equal(t, "QRXZP7", room.Code)

	_, err = reg.CreateRoom("cycles", testPlayer("p2", "c2"), Settings{}, "QRXZP7")
	assert.ErrorIs(t, err, ErrCodeTaken)
}

func TestAddPlayerRejections(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.AddPlayer("NOSUCH", testPlayer("p9", "c9"))
	assert.ErrorIs(t, err, ErrRoomNotFound)

	room, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{MaxPlayers: 2}, "")
	require.NoError(t, err)

	_, err = reg.AddPlayer(room.Code, testPlayer("p2", "c2"))
	require.NoError(t, err)

	_, err = reg.AddPlayer(room.Code, testPlayer("p3", "c3"))
	assert.ErrorIs(t, err, ErrRoomFull)

	room.SetPhase(PhaseRunning)
	reg.RemovePlayer("c2")
	_, err = reg.AddPlayer(room.Code, testPlayer("p4", "c4"))
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestRemovePlayerTransfersHost(t *testing.T) {
	reg := newTestRegistry(t)

	host := testPlayer("p1", "c1")
	room, err := reg.CreateRoom("cycles", host, Settings{MaxPlayers: 8}, "")
	require.NoError(t, err)
	other := testPlayer("p2", "c2")
	_, err = reg.AddPlayer(room.Code, other)
	require.NoError(t, err)

	gone, left := reg.RemovePlayer("c1")
	require.Same(t, room, gone)
	require.Same(t, host, left)

	assert.True(t, other.IsHost)
	assert.Equal(t, "p2", room.HostPlayerID)
	assert.Equal(t, "c2", room.HostConnectionID)
	assert.NotNil(t, reg.GetByCode(room.Code))
}

func TestRemoveLastPlayerDestroysRoom(t *testing.T) {
	reg := newTestRegistry(t)
	room, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{}, "")
	require.NoError(t, err)

	reg.RemovePlayer("c1")
	assert.Nil(t, reg.GetByCode(room.Code))
	assert.Nil(t, reg.GetByConnection("c1"))
	assert.Equal(t, 0, reg.Count())
}

func TestMarkDisconnectedAndReconnect(t *testing.T) {
	reg := newTestRegistry(t)
	host := testPlayer("p1", "c1")
	room, err := reg.CreateRoom("cycles", host, Settings{}, "")
	require.NoError(t, err)

	_, p := reg.MarkDisconnected("c1")
	require.Same(t, host, p)
	assert.False(t, p.Connected)
	require.NotNil(t, p.DisconnectedAt)

	got, p2 := reg.Reconnect("c1", "c1-new")
	require.Same(t, room, got)
	require.Same(t, host, p2)
	assert.True(t, p2.Connected)
	assert.Nil(t, p2.DisconnectedAt)
	assert.Equal(t, "c1-new", p2.ConnectionID)
	assert.Equal(t, "c1-new", room.HostConnectionID)
	assert.Nil(t, reg.GetByConnection("c1"))
	assert.Same(t, room, reg.GetByConnection("c1-new"))
}

func TestReconnectAlreadyMigratedFallsBackToPlayerID(t *testing.T) {
	reg := newTestRegistry(t)
	host := testPlayer("p1", "c1")
	room, err := reg.CreateRoom("cycles", host, Settings{}, "")
	require.NoError(t, err)

	// First rebind wins
	reg.Reconnect("c1", "c2")

	// The stale path misses, then the manual rebind by player id succeeds
	gone, p := reg.Reconnect("c1", "c3")
	assert.Nil(t, gone)
	assert.Nil(t, p)

	got, p2 := reg.ReconnectByPlayerID(room.Code, "p1", "c3")
	require.Same(t, room, got)
	require.Same(t, host, p2)
	assert.Equal(t, "c3", p2.ConnectionID)
}

func TestConnectionIDsUniqueAcrossRooms(t *testing.T) {
	reg := newTestRegistry(t)
	r1, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{}, "")
	require.NoError(t, err)
	r2, err := reg.CreateRoom("cycles", testPlayer("p2", "c2"), Settings{}, "")
	require.NoError(t, err)
	require.NotEqual(t, r1.Code, r2.Code)

	seen := make(map[string]bool)
	for _, r := range reg.Rooms() {
		for _, p := range r.Players() {
			assert.False(t, seen[p.ConnectionID], "connection id %s seen twice", p.ConnectionID)
			seen[p.ConnectionID] = true
		}
	}
}

func TestChatRingBounded(t *testing.T) {
	reg := newTestRegistry(t)
	room, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{}, "")
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		room.AppendChat(ChatMessage{PlayerID: "p1", Message: "msg", Timestamp: time.Now()})
	}
	assert.Len(t, room.ChatHistory(), 100)
}

func TestReapIdleDestroysStaleRooms(t *testing.T) {
	reg := newTestRegistry(t)
	room, err := reg.CreateRoom("cycles", testPlayer("p1", "c1"), Settings{}, "")
	require.NoError(t, err)

	room.mu.Lock()
	room.LastActivity = time.Now().Add(-3 * time.Hour)
	room.mu.Unlock()

	reg.reapIdle()
	assert.Nil(t, reg.GetByCode(room.Code))
}
