// Package hub accepts WebSocket connections, parses and validates frames,
// throttles per-room broadcasts and dispatches events to the coordinator.
package hub

import "encoding/json"

// Frame is the wire unit in both directions: a colon-delimited event name and
// a JSON payload. Handler-side payload schemas are owned by the handlers.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is the single application-error shape sent to originators.
// The server never terminates a connection to signal an application error.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Stable error codes for client-caused failures.
const (
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeRoomFull       = "ROOM_FULL"
	CodeGameInProgress = "GAME_IN_PROGRESS"
	CodeInvalidName    = "INVALID_NAME"
	CodeInvalidCode    = "INVALID_CODE"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeNotInRoom      = "NOT_IN_ROOM"
	CodeNotHost        = "NOT_HOST"
	CodeUnknownEvent   = "UNKNOWN_EVENT"
	CodeInternal       = "INTERNAL"
)

// Dispatcher receives parsed frames and disconnect notifications. Implemented
// by the lifecycle coordinator; kept as an interface so the hub has no upward
// dependency.
type Dispatcher interface {
	HandleFrame(connectionID string, frame Frame)
	HandleDisconnect(connectionID string)
}
