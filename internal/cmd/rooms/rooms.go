// Package rooms parses rooms command flags and composes the room directory service.
package rooms

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/emberchat/ember/internal/platform/cmd"
	server "github.com/emberchat/ember/internal/services/rooms/app"
	"github.com/emberchat/ember/internal/services/rooms/invite"
)

// Config holds rooms command configuration.
type Config struct {
	HTTPAddr       string `env:"EMBER_ROOMS_HTTP_ADDR"    envDefault:":8084"`
	StoragePath    string `env:"EMBER_ROOMS_STORAGE_PATH" envDefault:"rooms.db"`
	AuthBaseURL    string `env:"EMBER_AUTH_BASE_URL"      envDefault:"http://localhost:8083"`
	ResourceSecret string `env:"EMBER_RESOURCE_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "rooms HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "rooms SQLite database path")
	fs.StringVar(&cfg.AuthBaseURL, "auth-base-url", cfg.AuthBaseURL, "auth service base URL")
	fs.StringVar(&cfg.ResourceSecret, "resource-secret", cfg.ResourceSecret, "shared secret for internal endpoints")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the rooms app and serves directory endpoints until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	grants, err := invite.LoadGrantConfigFromEnv(time.Now)
	if err != nil {
		return fmt.Errorf("load grant keys: %w", err)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRooms, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			StoragePath:    cfg.StoragePath,
			AuthBaseURL:    cfg.AuthBaseURL,
			ResourceSecret: cfg.ResourceSecret,
			Grants:         grants,
		}); err != nil {
			return fmt.Errorf("serve rooms: %w", err)
		}
		return nil
	})
}
