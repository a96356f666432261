package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	// Port 0 lets the OS assign an ephemeral port so parallel test runs
	// never collide; discovery binds port 0 directly with fallback disabled.
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Discovery.Port = 0
	cfg.Discovery.FallbackAttempts = 0
	cfg.Messaging.UDPPort = 0
	cfg.Messaging.TCPPort = 0
	cfg.Stream.DatabasePath = filepath.Join(dir, "messages.db")
	return cfg
}

func TestNewConstructsPeerSubsystems(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, c.Fabric)
	require.NotNil(t, c.Peers)
	require.NotNil(t, c.Devices)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)

	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &logger) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
