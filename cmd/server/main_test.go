package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(config.ServerConfig{
		Port:         8081,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}, http.NotFoundHandler())

	require.Equal(t, ":8081", srv.Addr)
	require.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)
	require.Equal(t, 10*time.Second, srv.ReadTimeout)
	require.Equal(t, 20*time.Second, srv.WriteTimeout)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, time.Second) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestServe_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}
	err := serve(context.Background(), srv, time.Second)
	require.ErrorContains(t, err, "server error")
}
