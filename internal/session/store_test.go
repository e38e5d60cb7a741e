package session

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

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }
	t.Cleanup(s.Close)
	return s, &now
}

func TestCreateIsIdempotentPerRoom(t *testing.T) {
	s, now := newTestStore(t)

	tok := s.Create("p1", "ABCDEF")
	require.NotEmpty(t, tok)

	*now = now.Add(time.Minute)
	again := s.Create("p1", "ABCDEF")
	assert.Equal(t, tok, again)

	sess := s.Validate(tok)
	require.NotNil(t, sess)
	assert.Equal(t, *now, sess.LastActivity)
}

func TestCreateRebindEvictsOldToken(t *testing.T) {
	s, _ := newTestStore(t)

	old := s.Create("p1", "ABCDEF")
	fresh := s.Create("p1", "GHJKLM")
	assert.NotEqual(t, old, fresh)

	assert.Nil(t, s.Validate(old))
	sess := s.Validate(fresh)
	require.NotNil(t, sess)
	assert.Equal(t, "GHJKLM", sess.RoomCode)
	assert.Equal(t, 1, s.Count())
}

func TestValidateSlidingExpiry(t *testing.T) {
	s, now := newTestStore(t)
	tok := s.Create("p1", "ABCDEF")

	// Just inside the window
	*now = now.Add(30*time.Minute - time.Second)
	require.NotNil(t, s.Validate(tok))

	// Validation refreshed activity, so another 29:59 later it is still alive
	*now = now.Add(30*time.Minute - time.Second)
	require.NotNil(t, s.Validate(tok))

	// Past the window without activity: purged
	*now = now.Add(30*time.Minute + time.Second)
	assert.Nil(t, s.Validate(tok))
	assert.Equal(t, 0, s.Count())

	// Second lookup is still a plain miss
	assert.Nil(t, s.Validate(tok))
}

func TestValidateUnknownToken(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Nil(t, s.Validate("no-such-token"))
}

func TestDeleteByRoom(t *testing.T) {
	s, _ := newTestStore(t)
	t1 := s.Create("p1", "ABCDEF")
	t2 := s.Create("p2", "ABCDEF")
	t3 := s.Create("p3", "GHJKLM")

	s.DeleteByRoom("ABCDEF")
	assert.Nil(t, s.Validate(t1))
	assert.Nil(t, s.Validate(t2))
	assert.NotNil(t, s.Validate(t3))
}

func TestReapDropsExpired(t *testing.T) {
	s, now := newTestStore(t)
	s.Create("p1", "ABCDEF")
	s.Create("p2", "GHJKLM")

	*now = now.Add(31 * time.Minute)
	s.reap()
	assert.Equal(t, 0, s.Count())
}
