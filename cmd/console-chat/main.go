// Command console-chat runs a streaming chat session from the terminal.
// Each line typed is sent as a user message; the assistant answer streams
// into place. "/reset" clears the conversation. With -listen set, a
// WebSocket bridge additionally pushes message snapshots to UI clients.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/agentdeck/sessionkit"
	"github.com/agentdeck/sessionkit/internal/dotenv"
	"github.com/agentdeck/sessionkit/pkg/bridge"
	"github.com/agentdeck/sessionkit/pkg/chat"
	"github.com/agentdeck/sessionkit/pkg/core"
)

func main() {
	envFile := flag.String("env", ".env", "Path to env file")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	listen := flag.String("listen", "", "Address for the WebSocket UI bridge (default SESSIONKIT_BRIDGE_ADDR)")
	flag.Parse()

	if err := dotenv.Load(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := core.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := sessionkit.New(ctx, cfg, sessionkit.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	addr := *listen
	if addr == "" {
		addr = cfg.BridgeAddr
	}

	var b *bridge.Bridge
	callbacks := consoleCallbacks()
	if addr != "" {
		b = bridge.New(logger)
		defer b.Close()
		bridged := b.ChatCallbacks()
		console := callbacks
		callbacks = chat.Callbacks{
			OnMessageUpdate: func(messages []chat.Message) {
				console.OnMessageUpdate(messages)
				bridged.OnMessageUpdate(messages)
			},
			OnError: func(err error) {
				console.OnError(err)
				bridged.OnError(err)
			},
		}
		go func() {
			slog.Info("bridge listening", "addr", addr)
			if err := http.ListenAndServe(addr, b); err != nil {
				slog.Error("bridge server error", "error", err)
			}
		}()
	}

	session, err := client.ChatSession(callbacks)
	if err != nil {
		slog.Error("failed to create chat session", "error", err)
		os.Exit(1)
	}

	fmt.Println("console-chat: type a message, /reset to clear, ctrl-d to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/reset" {
			session.Reset()
			fmt.Println("(conversation cleared)")
			continue
		}
		session.Send(ctx, line)
		fmt.Println()
	}
}

// consoleCallbacks renders the assistant message in place using a carriage
// return; the final snapshot leaves the full answer on screen.
func consoleCallbacks() chat.Callbacks {
	return chat.Callbacks{
		OnMessageUpdate: func(messages []chat.Message) {
			if len(messages) == 0 {
				return
			}
			last := messages[len(messages)-1]
			if last.Role != chat.RoleAssistant {
				return
			}
			fmt.Printf("\r\033[K> %s", last.Content)
		},
		OnError: func(err error) {
			slog.Warn("exchange failed", "error", err)
		},
	}
}

func setupLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
