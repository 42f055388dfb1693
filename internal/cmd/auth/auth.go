// Package auth parses auth command flags and composes the identity service.
package auth

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/emberchat/ember/internal/platform/cmd"
	server "github.com/emberchat/ember/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	HTTPAddr       string `env:"EMBER_AUTH_HTTP_ADDR"    envDefault:":8083"`
	StoragePath    string `env:"EMBER_AUTH_STORAGE_PATH" envDefault:"auth.db"`
	ResourceSecret string `env:"EMBER_RESOURCE_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "auth HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "auth SQLite database path")
	fs.StringVar(&cfg.ResourceSecret, "resource-secret", cfg.ResourceSecret, "shared secret for internal introspection")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the auth app and serves identity endpoints until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			StoragePath:    cfg.StoragePath,
			ResourceSecret: cfg.ResourceSecret,
		}); err != nil {
			return fmt.Errorf("serve auth: %w", err)
		}
		return nil
	})
}
