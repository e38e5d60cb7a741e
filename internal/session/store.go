// Package session issues and validates opaque reconnect tokens binding a
// stable player id to a room code.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
)

const (
	// TTL is the sliding inactivity window after which a token expires.
	TTL = 30 * time.Minute

	reapInterval = 5 * time.Minute
	tokenBytes   = 32
)

// Session binds a player to a room for reconnection.
type Session struct {
	Token        string
	PlayerID     string
	RoomCode     string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store keeps sessions in memory with a sliding 30 minute expiry.
// One active token per player at a time.
type Store struct {
	mu       sync.Mutex
	byToken  map[string]*Session
	byPlayer map[string]*Session

	now func() time.Time // swapped in tests

	stop chan struct{}
	done chan struct{}
}

func NewStore() *Store {
	s := &Store{
		byToken:  make(map[string]*Session),
		byPlayer: make(map[string]*Session),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Create mints a token for (playerId, roomCode). If the player already holds
// a session for the same room the existing token is reused with refreshed
// activity; a session for a different room is evicted and replaced.
func (s *Store) Create(playerID, roomCode string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byPlayer[playerID]; ok {
		if existing.RoomCode == roomCode {
			existing.LastActivity = s.now()
			return existing.Token
		}
		delete(s.byToken, existing.Token)
		delete(s.byPlayer, playerID)
		metrics.ActiveSessions.Dec()
	}

	sess := &Session{
		Token:        newToken(),
		PlayerID:     playerID,
		RoomCode:     roomCode,
		CreatedAt:    s.now(),
		LastActivity: s.now(),
	}
	s.byToken[sess.Token] = sess
	s.byPlayer[playerID] = sess
	metrics.ActiveSessions.Inc()
	return sess.Token
}

// Validate returns the session for a token, refreshing its activity, or nil
// when the token is unknown or expired. Expired tokens are purged on the spot.
func (s *Store) Validate(token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return nil
	}
	if s.now().Sub(sess.LastActivity) > TTL {
		s.removeLocked(sess)
		return nil
	}
	sess.LastActivity = s.now()
	cp := *sess
	return &cp
}

// DeleteByToken removes a single session. Unknown tokens are a no-op.
func (s *Store) DeleteByToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byToken[token]; ok {
		s.removeLocked(sess)
	}
}

// DeleteByPlayer removes the session held by a player, if any.
func (s *Store) DeleteByPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byPlayer[playerID]; ok {
		s.removeLocked(sess)
	}
}

// DeleteByRoom removes every session bound to a room code.
func (s *Store) DeleteByRoom(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byToken {
		if sess.RoomCode == roomCode {
			s.removeLocked(sess)
		}
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

// Close stops the reaper goroutine.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

func (s *Store) removeLocked(sess *Session) {
	delete(s.byToken, sess.Token)
	// Only drop the player index if it still points at this session; the
	// player may already have been rebound to a newer token.
	if cur, ok := s.byPlayer[sess.PlayerID]; ok && cur.Token == sess.Token {
		delete(s.byPlayer, sess.PlayerID)
	}
	metrics.ActiveSessions.Dec()
}

func (s *Store) reapLoop() {
	defer close(s.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Store) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var expired int
	for _, sess := range s.byToken {
		if now.Sub(sess.LastActivity) > TTL {
			s.removeLocked(sess)
			expired++
		}
	}
	if expired > 0 {
		logging.Info(context.Background(), "reaped expired sessions", zap.Int("count", expired))
	}
}

func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
