package session

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/redis"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisMirrorSaveLoad(t *testing.T) {
	mirror := newTestRedisMirror(t)
	ctx := context.Background()

	id := "mirror-" + uuid.NewString()
	snap := models.Snapshot{
		ID: id,
		Transcript: []models.Message{
			{Role: models.RoleSystem, Content: testPrompt},
			{Role: models.RoleUser, Content: "hello"},
		},
		DisplayLog:   []string{"hello"},
		DisplayRoles: []models.Role{models.RoleUser},
		ImageLog:     []string{},
	}
	require.NoError(t, mirror.Save(ctx, snap))

	got, ok := mirror.Load(ctx, id)
	require.True(t, ok)
	assert.Equal(t, snap, *got)

	_, ok = mirror.Load(ctx, id+"-missing")
	assert.False(t, ok)
}

func newTestRedisMirror(t *testing.T) *RedisMirror {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed session tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := redis.Dial(context.Background(), config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisMirror(client, time.Minute)
}
