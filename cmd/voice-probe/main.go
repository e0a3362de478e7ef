// Command voice-probe joins an agent's voice room and reports connection
// state transitions until interrupted. Remote audio is drained, not played;
// the probe verifies token issuance, room join, track subscription and
// presence-based teardown against a live deployment.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentdeck/sessionkit"
	"github.com/agentdeck/sessionkit/internal/dotenv"
	"github.com/agentdeck/sessionkit/pkg/core"
	"github.com/agentdeck/sessionkit/pkg/voice"
)

func main() {
	envFile := flag.String("env", ".env", "Path to env file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	agentName := flag.String("agent", "", "Agent name for token issuance (required)")
	duration := flag.Duration("duration", 0, "Leave the room after this long (0 = until signal)")
	flag.Parse()

	if err := dotenv.Load(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	if *agentName == "" {
		slog.Error("-agent is required")
		os.Exit(1)
	}

	cfg, err := core.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	client, err := sessionkit.New(context.Background(), cfg, sessionkit.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	disconnected := make(chan struct{}, 1)
	session, err := client.VoiceSession(*agentName, voice.Callbacks{
		OnConnectionStateChange: func(state voice.ConnectionState) {
			slog.Info("connection state", "state", state)
			if state == voice.StateDisconnected {
				select {
				case disconnected <- struct{}{}:
				default:
				}
			}
		},
		OnError: func(err error) {
			slog.Error("voice session error", "error", err)
		},
	})
	if err != nil {
		slog.Error("failed to create voice session", "error", err)
		os.Exit(1)
	}

	session.Start(context.Background())
	if session.State() == voice.StateDisconnected {
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var expiry <-chan time.Time
	if *duration > 0 {
		expiry = time.After(*duration)
	}

	select {
	case <-quit:
		slog.Info("interrupted, leaving room")
	case <-expiry:
		slog.Info("duration elapsed, leaving room")
	case <-disconnected:
		slog.Info("session ended remotely")
		return
	}
	session.Stop()
}

func setupLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
