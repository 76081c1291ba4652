package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftlog/liftlog-api/internal/config"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, HealthCheck(context.Background(), client))

	mr.Close()
	assert.Error(t, HealthCheck(context.Background(), client))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, _ := strconv.Atoi(portStr)
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port})
	assert.Error(t, err)
}
