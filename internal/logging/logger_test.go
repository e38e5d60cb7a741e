package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestContextTagsBecomeFields(t *testing.T) {
	ctx := WithPlayer(WithRoom(context.Background(), "ABCDEF"), "p1")

	fields := appendContextFields(ctx, nil)
	assert.Contains(t, fields, zap.String("room_code", "ABCDEF"))
	assert.Contains(t, fields, zap.String("player_id", "p1"))
}

func TestNilContextIsHarmless(t *testing.T) {
	base := []zap.Field{zap.String("event", "x")}
	assert.Equal(t, base, appendContextFields(nil, base))
}
