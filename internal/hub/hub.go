package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
)

// Hub owns the transport layer: it upgrades connections, tracks multicast
// groups keyed by room code, and fans frames out with per-room broadcast
// throttling. All application semantics live behind the Dispatcher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client // room code -> connection id -> client

	throttle   *throttler
	dispatcher Dispatcher

	allowedOrigins []string
	connectLimiter *limiter.Limiter
}

// New builds a hub. connectRate is a ulule/limiter formatted rate for per-IP
// connection attempts (e.g. "100-M").
func New(allowedOrigins []string, connectRate string) (*Hub, error) {
	rate, err := limiter.NewRateFromFormatted(connectRate)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		clients:        make(map[string]*Client),
		groups:         make(map[string]map[string]*Client),
		allowedOrigins: allowedOrigins,
		connectLimiter: limiter.New(memory.NewStore(), rate),
	}
	h.throttle = newThrottler(DefaultBroadcastWindow, h.fanout)
	return h, nil
}

// SetDispatcher wires the coordinator in; must be called before ServeWs.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// ServeWs upgrades an HTTP request to a WebSocket connection and starts the
// client pumps. Long-poll fallback and per-message compression are not
// offered; the upgrade either succeeds or the request fails.
func (h *Hub) ServeWs(c *gin.Context) {
	ip := c.ClientIP()
	limCtx, err := h.connectLimiter.Get(c.Request.Context(), ip)
	if err == nil && limCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect_ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return
	}

	upgrader := websocket.Upgrader{
		EnableCompression: false,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Allow non-browser clients (e.g., for testing)
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range h.allowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), conn, h)

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(context.Background(), "connection established",
		zap.String("connection_id", client.ID), zap.String("ip", ip))

	go client.writePump()
	go client.readPump()
}

// dispatch routes one inbound frame. Plugin faults are trapped here: a panic
// in a handler is reported to the originator and never kills the process.
func (h *Hub) dispatch(c *Client, frame Frame) {
	start := time.Now()
	status := "success"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			logging.Error(context.Background(), "panic in frame handler",
				zap.String("event", frame.Event),
				zap.String("connection_id", c.ID),
				zap.Any("panic", r),
			)
			c.sendFrame("error", ErrorPayload{Message: "Internal server error", Code: CodeInternal})
		}
		metrics.DispatchDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())
		metrics.FrameEvents.WithLabelValues(frame.Event, status).Inc()
	}()

	if h.dispatcher == nil {
		c.sendFrame("error", ErrorPayload{Message: "Server not ready", Code: CodeInternal})
		return
	}
	h.dispatcher.HandleFrame(c.ID, frame)
}

func (h *Hub) handleDisconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	for _, members := range h.groups {
		delete(members, c.ID)
	}
	h.mu.Unlock()
	c.close()

	if h.dispatcher != nil {
		h.dispatcher.HandleDisconnect(c.ID)
	}
	logging.Info(context.Background(), "connection closed", zap.String("connection_id", c.ID))
}

// JoinGroup adds a connection to a room's multicast group.
func (h *Hub) JoinGroup(code, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connectionID]
	if !ok {
		return
	}
	members, ok := h.groups[code]
	if !ok {
		members = make(map[string]*Client)
		h.groups[code] = members
	}
	members[connectionID] = client
}

// LeaveGroup removes a connection from a room's multicast group.
func (h *Hub) LeaveGroup(code, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[code]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.groups, code)
		}
	}
}

// DropGroup tears down a room's multicast group and its throttle state.
func (h *Hub) DropGroup(code string) {
	h.mu.Lock()
	delete(h.groups, code)
	h.mu.Unlock()
	h.throttle.Evict(code)
}

// RoomConnections lists the connection ids in a room's multicast group.
func (h *Hub) RoomConnections(code string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.groups[code]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// SendToRoom broadcasts to a room through the coalescing throttle: at most
// one flush per room per window, latest payload per event wins.
func (h *Hub) SendToRoom(code, event string, payload any) {
	h.throttle.Send(code, event, payload)
}

// SendToRoomNow broadcasts immediately, bypassing the throttle. Used for
// input-responsiveness events such as turn destinations.
func (h *Hub) SendToRoomNow(code, event string, payload any) {
	metrics.BroadcastsSent.Inc()
	h.fanout(code, event, payload)
}

func (h *Hub) fanout(code, event string, payload any) {
	data, err := json.Marshal(outFrame{Event: event, Payload: payload})
	if err != nil {
		logging.Error(context.Background(), "failed to marshal broadcast",
			zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[code]))
	for _, c := range h.groups[code] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.enqueue(data)
	}
}

// SendToConnection sends a frame to one connection; never throttled.
func (h *Hub) SendToConnection(connectionID, event string, payload any) {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()
	if client != nil {
		client.sendFrame(event, payload)
	}
}

// SendError reports a client-caused failure to the originator only.
func (h *Hub) SendError(connectionID, message, code string) {
	h.SendToConnection(connectionID, "error", ErrorPayload{Message: message, Code: code})
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection and drains throttle timers.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.throttle.Close()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.groups = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}
