package alarmcore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/pkg/alarmcore"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientRejectsInvalidProfile(t *testing.T) {
	_, err := alarmcore.NewClient(config.ClientProfile{}, nil, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	require.Error(t, err)
}

func TestNewClientRunsAndStopsOnCancel(t *testing.T) {
	profile := config.ClientProfile{
		ClientID:     "1A2B",
		ServerIP:     "127.0.0.1:0",
		PingInterval: time.Hour,
	}
	c, err := alarmcore.NewClient(profile, nil, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Runtime().IPConnected() }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client Run never returned after cancel")
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := alarmcore.NewServer(config.ServerConfig{
		Reporters: []config.ReporterEntry{{ClientID: "1A2B", PIN: "1234"}, {ClientID: "1A2B", PIN: "5678"}},
	}, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	require.Error(t, err)
}

func TestNewServerRunsAndStopsOnCancel(t *testing.T) {
	cfg := config.ServerConfig{
		BindAddr: "127.0.0.1",
		BindPort: 14589,
		Reporters: []config.ReporterEntry{
			{ClientID: "1A2B", PIN: "1234"},
		},
	}
	s, err := alarmcore.NewServer(cfg, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server Run never returned after cancel")
	}
}
