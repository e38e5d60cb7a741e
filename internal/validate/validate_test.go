package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerName(t *testing.T) {
	name, err := PlayerName("  Ada   Lovelace ")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)

	_, err = PlayerName("   ")
	assert.ErrorIs(t, err, ErrEmpty)

	// Whitespace-class control characters collapse like any other whitespace.
	name, err = PlayerName("Ada\tLovelace\n")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)

	// Anything else in the control range is rejected outright.
	for _, bad := range []string{"Bob\x07by", "\x00\x01\x02", "Eve\x7f"} {
		_, err = PlayerName(bad)
		assert.ErrorIs(t, err, ErrControlChar, "name %q", bad)
	}

	// Over-long names are truncated to 32 code points
	long := strings.Repeat("é", 50)
	name, err = PlayerName(long)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 32), name)
}

func TestPlayerNameIdempotent(t *testing.T) {
	inputs := []string{"  Ada   Lovelace ", "Ada\tLovelace", strings.Repeat("x", 40)}
	for _, in := range inputs {
		once, err := PlayerName(in)
		require.NoError(t, err)
		twice, err := PlayerName(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestRoomCode(t *testing.T) {
	code, err := RoomCode(" qrxzp7 ")
	require.NoError(t, err)
	assert.Equal(t, "QRXZP7", code)

	for _, bad := range []string{"", "ABC", "ABCDEFG", "ABCDE0", "ABCDEO", "ABCDE1", "ABCDEI"} {
		_, err := RoomCode(bad)
		assert.ErrorIs(t, err, ErrBadCode, "code %q", bad)
	}
}

func TestChatMessage(t *testing.T) {
	msg, err := ChatMessage("  hello\x00 world  ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg)

	_, err = ChatMessage("   ")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = ChatMessage(strings.Repeat("a", 501))
	assert.ErrorIs(t, err, ErrTooLong)

	msg, err = ChatMessage(strings.Repeat("a", 500))
	require.NoError(t, err)
	assert.Len(t, msg, 500)
}

func TestGenerateRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := GenerateRoomCode()
		normalized, err := RoomCode(code)
		require.NoError(t, err)
		assert.Equal(t, code, normalized)
		seen[code] = true
	}
	// 100 draws from a 32^6 space should never collide
	assert.Len(t, seen, 100)
}
