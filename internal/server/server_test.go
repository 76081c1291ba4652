package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftlog/liftlog-api/internal/config"
)

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, http.NotFoundHandler(), time.Second)
	assert.Equal(t, time.Second, srv.httpServer.WriteTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
