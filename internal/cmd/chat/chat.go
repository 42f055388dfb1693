// Package chat parses chat command flags and composes the realtime transport.
package chat

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/emberchat/ember/internal/platform/cmd"
	server "github.com/emberchat/ember/internal/services/chat/app"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr       string `env:"EMBER_CHAT_HTTP_ADDR"    envDefault:":8086"`
	AuthBaseURL    string `env:"EMBER_AUTH_BASE_URL"     envDefault:"http://localhost:8083"`
	RoomsBaseURL   string `env:"EMBER_ROOMS_BASE_URL"    envDefault:"http://localhost:8084"`
	ArchivePath    string `env:"EMBER_CHAT_ARCHIVE_PATH"`
	ResourceSecret string `env:"EMBER_RESOURCE_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.AuthBaseURL, "auth-base-url", cfg.AuthBaseURL, "auth service base URL")
	fs.StringVar(&cfg.RoomsBaseURL, "rooms-base-url", cfg.RoomsBaseURL, "rooms service base URL")
	fs.StringVar(&cfg.ArchivePath, "archive-path", cfg.ArchivePath, "message archive SQLite path, empty keeps messages in memory")
	fs.StringVar(&cfg.ResourceSecret, "resource-secret", cfg.ResourceSecret, "shared secret for internal service calls")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the chat app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			AuthBaseURL:    cfg.AuthBaseURL,
			RoomsBaseURL:   cfg.RoomsBaseURL,
			ResourceSecret: cfg.ResourceSecret,
			ArchivePath:    cfg.ArchivePath,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
