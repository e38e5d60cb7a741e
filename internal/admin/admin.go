// Package admin is the read-only HTTP surface: health, server stats and
// per-game room listings.
package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/partyline/server/internal/hub"
	"github.com/partyline/server/internal/plugin"
	"github.com/partyline/server/internal/room"
	"github.com/partyline/server/internal/session"
)

// Handler serves snapshots of the registries. It never mutates anything.
type Handler struct {
	hub      *hub.Hub
	rooms    *room.Registry
	sessions *session.Store
	plugins  *plugin.Registry
	started  time.Time
}

func NewHandler(h *hub.Hub, rooms *room.Registry, sessions *session.Store, plugins *plugin.Registry) *Handler {
	return &Handler{
		hub:      h,
		rooms:    rooms,
		sessions: sessions,
		plugins:  plugins,
		started:  time.Now(),
	}
}

// Register mounts the admin routes on a router group.
func (a *Handler) Register(r gin.IRoutes) {
	r.GET("/health", a.health)
	r.GET("/api/stats", a.stats)
	r.GET("/api/stats/:gameId", a.gameStats)
}

func (a *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"games":     a.plugins.IDs(),
	})
}

func (a *Handler) stats(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"uptime":      time.Since(a.started).Round(time.Second).String(),
			"connections": a.hub.ConnectionCount(),
			"memory": gin.H{
				"allocBytes": mem.Alloc,
				"sysBytes":   mem.Sys,
				"numGC":      mem.NumGC,
				"goroutines": runtime.NumGoroutine(),
			},
		},
		"rooms":    a.roomSummaries(a.rooms.Rooms()),
		"sessions": a.sessions.Count(),
		"games":    a.plugins.Stats(),
	})
}

func (a *Handler) gameStats(c *gin.Context) {
	gameID := c.Param("gameId")
	if a.plugins.Get(gameID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gameId": gameID,
		"rooms":  a.roomSummaries(a.rooms.RoomsByGame(gameID)),
	})
}

// roomSummaries renders rooms without player identities or chat, which do
// not belong on an unauthenticated surface.
func (a *Handler) roomSummaries(rooms []*room.Room) []gin.H {
	out := make([]gin.H, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, gin.H{
			"code":         r.Code,
			"gameId":       r.GameID,
			"phase":        r.CurrentPhase(),
			"players":      r.PlayerCount(),
			"createdAt":    r.CreatedAt.UTC().Format(time.RFC3339),
			"platformRoom": r.IsPlatformRoom,
		})
	}
	return out
}
