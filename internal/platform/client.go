// Package platform is the outbound HTTP client for the external GameBuddies
// platform. All calls are best-effort: failures are logged, fall back to
// locally assembled URLs, and are never fatal to a room.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
)

const requestTimeout = 5 * time.Second

// ReturnRequest asks the platform to route players back to its lobby.
type ReturnRequest struct {
	ReturnAll   bool           `json:"returnAll"`
	PlayerID    string         `json:"playerId,omitempty"`
	InitiatedBy string         `json:"initiatedBy"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ReturnResponse is the platform's answer. On transport failure the client
// synthesizes a response with Ok=true, the fallback URL and APIError set, so
// callers and clients can proceed.
type ReturnResponse struct {
	Ok              bool   `json:"ok"`
	ReturnURL       string `json:"returnUrl"`
	SessionToken    string `json:"sessionToken,omitempty"`
	PlayersReturned int    `json:"playersReturned,omitempty"`
	APIError        string `json:"apiError,omitempty"`
}

// Client talks to the platform API. A circuit breaker short-circuits calls
// while the platform is down so rooms never wait out repeated timeouts.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New builds a platform client. baseURL may be empty, in which case every
// call immediately takes the fallback path.
func New(baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
			logging.Warn(context.Background(), "platform circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// Enabled reports whether a platform base URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// RequestReturnToLobby asks the platform for a return URL. Never returns an
// error: on any failure the deterministic fallback URL is substituted and the
// API error attached.
func (c *Client) RequestReturnToLobby(ctx context.Context, gameID, code string, req ReturnRequest) ReturnResponse {
	if !c.Enabled() {
		return ReturnResponse{Ok: true, ReturnURL: c.GetFallbackReturnURL(code), APIError: "platform not configured"}
	}

	url := fmt.Sprintf("%s/api/games/%s/rooms/%s/return", c.baseURL, gameID, code)
	var resp ReturnResponse
	err := c.post(ctx, url, req, &resp)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues("return", "error").Inc()
		logging.Warn(ctx, "platform return request failed, using fallback URL",
			zap.String("room_code", code), zap.Error(err))
		return ReturnResponse{Ok: true, ReturnURL: c.GetFallbackReturnURL(code), APIError: err.Error()}
	}
	metrics.PlatformRequests.WithLabelValues("return", "success").Inc()
	if resp.ReturnURL == "" {
		resp.ReturnURL = c.GetFallbackReturnURL(code)
	}
	resp.Ok = true
	return resp
}

// UpdatePlayerStatus reports a player status change. Fire-and-forget:
// failures are logged and swallowed.
func (c *Client) UpdatePlayerStatus(ctx context.Context, gameID, code, playerID, status, note string, data map[string]any) {
	if !c.Enabled() {
		return
	}

	url := fmt.Sprintf("%s/api/games/%s/rooms/%s/players/%s/status", c.baseURL, gameID, code, playerID)
	body := map[string]any{
		"status": status,
		"note":   note,
	}
	if data != nil {
		body["data"] = data
	}
	if err := c.post(ctx, url, body, nil); err != nil {
		metrics.PlatformRequests.WithLabelValues("status", "error").Inc()
		logging.Warn(ctx, "platform status update failed",
			zap.String("player_id", playerID), zap.String("status", status), zap.Error(err))
		return
	}
	metrics.PlatformRequests.WithLabelValues("status", "success").Inc()
}

// GetFallbackReturnURL assembles the deterministic lobby URL locally, still
// embedding the room code, for when the API is unreachable.
func (c *Client) GetFallbackReturnURL(code string) string {
	base := c.baseURL
	if base == "" {
		base = "https://gamebuddies.io"
	}
	return fmt.Sprintf("%s/lobby?room=%s", base, code)
}

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("platform returned status %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(result.([]byte), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
