package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn satisfies wsConnection for tests without a network.
type mockConn struct {
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newMockConn() *mockConn {
	return &mockConn{inbound: make(chan []byte, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		m.written = append(m.written, data)
	}
	return nil
}

func (m *mockConn) Close() error                      { m.closed = true; return nil }
func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

type recordingDispatcher struct {
	frames      []Frame
	conns       []string
	disconnects []string
	panicOn     string
}

func (d *recordingDispatcher) HandleFrame(connectionID string, frame Frame) {
	if d.panicOn != "" && frame.Event == d.panicOn {
		panic("handler exploded")
	}
	d.conns = append(d.conns, connectionID)
	d.frames = append(d.frames, frame)
}

func (d *recordingDispatcher) HandleDisconnect(connectionID string) {
	d.disconnects = append(d.disconnects, connectionID)
}

func newTestHub(t *testing.T) (*Hub, *recordingDispatcher) {
	t.Helper()
	h, err := New([]string{"http://localhost:3000"}, "100-M")
	require.NoError(t, err)
	d := &recordingDispatcher{}
	h.SetDispatcher(d)
	return h, d
}

// addClient registers a client with a mock connection, without pumps.
func addClient(h *Hub, id string) (*Client, *mockConn) {
	conn := newMockConn()
	c := newClient(id, conn, h)
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c, conn
}

func drainFrames(t *testing.T, c *Client) []outFrame {
	t.Helper()
	var out []outFrame
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var f struct {
				Event   string          `json:"event"`
				Payload json.RawMessage `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, outFrame{Event: f.Event, Payload: f.Payload})
		default:
			return out
		}
	}
}

func TestDispatchRoutesToDispatcher(t *testing.T) {
	h, d := newTestHub(t)
	c, _ := addClient(h, "c1")

	h.dispatch(c, Frame{Event: "room:create", Payload: json.RawMessage(`{"playerName":"Ada"}`)})

	require.Len(t, d.frames, 1)
	assert.Equal(t, "room:create", d.frames[0].Event)
	assert.Equal(t, []string{"c1"}, d.conns)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	h, d := newTestHub(t)
	d.panicOn = "boom:event"
	c, _ := addClient(h, "c1")

	require.NotPanics(t, func() {
		h.dispatch(c, Frame{Event: "boom:event"})
	})

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Event)
}

func TestGroupFanout(t *testing.T) {
	h, _ := newTestHub(t)
	c1, _ := addClient(h, "c1")
	c2, _ := addClient(h, "c2")
	c3, _ := addClient(h, "c3")

	h.JoinGroup("ABCDEF", "c1")
	h.JoinGroup("ABCDEF", "c2")
	// c3 stays outside the group

	h.SendToRoomNow("ABCDEF", "chat:message", map[string]string{"message": "hi"})

	assert.Len(t, drainFrames(t, c1), 1)
	assert.Len(t, drainFrames(t, c2), 1)
	assert.Empty(t, drainFrames(t, c3))
}

func TestLeaveGroupStopsDelivery(t *testing.T) {
	h, _ := newTestHub(t)
	c1, _ := addClient(h, "c1")

	h.JoinGroup("ABCDEF", "c1")
	h.LeaveGroup("ABCDEF", "c1")

	h.SendToRoomNow("ABCDEF", "x", nil)
	assert.Empty(t, drainFrames(t, c1))
	assert.Empty(t, h.RoomConnections("ABCDEF"))
}

func TestSendToConnection(t *testing.T) {
	h, _ := newTestHub(t)
	c1, _ := addClient(h, "c1")

	h.SendToConnection("c1", "room:created", map[string]string{"code": "ABCDEF"})
	h.SendToConnection("ghost", "room:created", nil) // unknown connection: no-op

	frames := drainFrames(t, c1)
	require.Len(t, frames, 1)
	assert.Equal(t, "room:created", frames[0].Event)
}

func TestSendError(t *testing.T) {
	h, _ := newTestHub(t)
	c1, _ := addClient(h, "c1")

	h.SendError("c1", "Room not found", CodeRoomNotFound)

	frames := drainFrames(t, c1)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Event)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(frames[0].Payload.(json.RawMessage), &p))
	assert.Equal(t, CodeRoomNotFound, p.Code)
}

func TestHandleDisconnectCleansGroups(t *testing.T) {
	h, d := newTestHub(t)
	c1, _ := addClient(h, "c1")
	h.JoinGroup("ABCDEF", "c1")

	h.handleDisconnect(c1)

	assert.Equal(t, 0, h.ConnectionCount())
	assert.Empty(t, h.RoomConnections("ABCDEF"))
	assert.Equal(t, []string{"c1"}, d.disconnects)
}

func TestEnqueueAfterCloseDropsFrame(t *testing.T) {
	h, _ := newTestHub(t)
	c, _ := addClient(h, "c1")
	h.JoinGroup("ABCDEF", "c1")

	// A fanout can snapshot the member list just before the disconnect path
	// closes the send channel; the late enqueue must drop, not panic.
	h.handleDisconnect(c)

	require.NotPanics(t, func() {
		h.SendToRoomNow("ABCDEF", "sync", nil)
		c.enqueue([]byte(`{"event":"sync"}`))
	})
	assert.Empty(t, drainFrames(t, c))
}

func TestReadPumpParsesFrames(t *testing.T) {
	h, d := newTestHub(t)
	c, conn := addClient(h, "c1")

	conn.inbound <- []byte(`{"event":"chat:message","payload":{"message":"hi"}}`)
	conn.inbound <- []byte(`not json`)
	close(conn.inbound)

	c.readPump()

	require.Len(t, d.frames, 1)
	assert.Equal(t, "chat:message", d.frames[0].Event)

	// Malformed frame produced an error reply, connection stayed up until EOF
	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Event)
	assert.Equal(t, []string{"c1"}, d.disconnects)
}
