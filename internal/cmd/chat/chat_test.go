package chat

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8086" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.RoomsBaseURL != "http://localhost:8084" {
		t.Fatalf("expected default rooms base url, got %q", cfg.RoomsBaseURL)
	}
	if cfg.ArchivePath != "" {
		t.Fatalf("expected in-memory archive default, got %q", cfg.ArchivePath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("EMBER_CHAT_HTTP_ADDR", "env-addr")
	t.Setenv("EMBER_CHAT_ARCHIVE_PATH", "env-archive.db")

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-archive-path", "flag-archive.db",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ArchivePath != "flag-archive.db" {
		t.Fatalf("expected flag archive path, got %q", cfg.ArchivePath)
	}
}
