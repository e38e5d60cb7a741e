package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestReturnToLobbySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games/cycles/rooms/ABCDEF/return", r.URL.Path)
		var req ReturnRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.ReturnAll)
		json.NewEncoder(w).Encode(ReturnResponse{
			Ok:              true,
			ReturnURL:       "https://platform.example/lobby?room=ABCDEF",
			PlayersReturned: 3,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp := c.RequestReturnToLobby(context.Background(), "cycles", "ABCDEF", ReturnRequest{
		ReturnAll:   true,
		InitiatedBy: "p1",
		Reason:      "game_over",
	})

	assert.True(t, resp.Ok)
	assert.Equal(t, "https://platform.example/lobby?room=ABCDEF", resp.ReturnURL)
	assert.Equal(t, 3, resp.PlayersReturned)
	assert.Empty(t, resp.APIError)
}

func TestRequestReturnToLobbyFallbackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp := c.RequestReturnToLobby(context.Background(), "cycles", "ABCDEF", ReturnRequest{ReturnAll: true})

	// Failure is still Ok with the fallback URL and the error attached
	assert.True(t, resp.Ok)
	assert.Equal(t, srv.URL+"/lobby?room=ABCDEF", resp.ReturnURL)
	assert.NotEmpty(t, resp.APIError)
}

func TestRequestReturnToLobbyNotConfigured(t *testing.T) {
	c := New("")
	resp := c.RequestReturnToLobby(context.Background(), "cycles", "ABCDEF", ReturnRequest{})

	assert.True(t, resp.Ok)
	assert.Equal(t, "https://gamebuddies.io/lobby?room=ABCDEF", resp.ReturnURL)
	assert.NotEmpty(t, resp.APIError)
}

func TestUpdatePlayerStatusFireAndForget(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.UpdatePlayerStatus(context.Background(), "cycles", "ABCDEF", "p1", "in_game", "round 2", nil)
	assert.Equal(t, "/api/games/cycles/rooms/ABCDEF/players/p1/status", gotPath)

	// Failures must not panic or surface
	srv.Close()
	c.UpdatePlayerStatus(context.Background(), "cycles", "ABCDEF", "p1", "left", "", nil)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here

	for i := 0; i < 10; i++ {
		resp := c.RequestReturnToLobby(context.Background(), "cycles", "ABCDEF", ReturnRequest{})
		assert.True(t, resp.Ok)
		assert.NotEmpty(t, resp.APIError)
	}
	// After enough consecutive failures the breaker short-circuits; calls
	// still succeed via the fallback URL.
	resp := c.RequestReturnToLobby(context.Background(), "cycles", "ABCDEF", ReturnRequest{})
	assert.Equal(t, "http://127.0.0.1:1/lobby?room=ABCDEF", resp.ReturnURL)
}
