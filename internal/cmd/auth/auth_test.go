package auth

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8083" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "auth.db" {
		t.Fatalf("expected default storage path, got %q", cfg.StoragePath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("EMBER_AUTH_HTTP_ADDR", "env-addr")
	t.Setenv("EMBER_AUTH_STORAGE_PATH", "env-db")
	t.Setenv("EMBER_RESOURCE_SECRET", "env-secret")

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-storage-path", "flag-db",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "flag-db" {
		t.Fatalf("expected flag storage path, got %q", cfg.StoragePath)
	}
	if cfg.ResourceSecret != "env-secret" {
		t.Fatalf("expected env resource secret, got %q", cfg.ResourceSecret)
	}
}
