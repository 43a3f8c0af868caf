// Command streambot runs the live-stream automation bot and its maintenance
// commands.
//
//	streambot serve               run the bot (webhook, chat, overlay, control surface)
//	streambot eventsub list|sync|delete
//	streambot tokens seal         encrypt plaintext tokens with ENCRYPTION_KEY
//	streambot shoutouts list|set|delete
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()
	setupLogging()

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler from LOG_LEVEL and LOG_FORMAT.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
