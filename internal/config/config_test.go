package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MAX_ROOM_PLAYERS", "")
	t.Setenv("DISCONNECT_GRACE", "")
	t.Setenv("EVENT_BUFFER", "")
	t.Setenv("STALE_ROOM_TTL", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.MaxRoomPlayers != 8 {
		t.Errorf("MaxRoomPlayers = %d, want %d", cfg.MaxRoomPlayers, 8)
	}
	if cfg.DisconnectGrace != 10*time.Second {
		t.Errorf("DisconnectGrace = %v, want %v", cfg.DisconnectGrace, 10*time.Second)
	}
	if cfg.EventBuffer != 64 {
		t.Errorf("EventBuffer = %d, want %d", cfg.EventBuffer, 64)
	}
	if cfg.StaleRoomTTL != time.Hour {
		t.Errorf("StaleRoomTTL = %v, want %v", cfg.StaleRoomTTL, time.Hour)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/kibaeon")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_ROOM_PLAYERS", "4")
	t.Setenv("DISCONNECT_GRACE", "2s")
	t.Setenv("EVENT_BUFFER", "16")

	cfg := Load()

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.DatabaseURL != "postgres://localhost/kibaeon" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "postgres://localhost/kibaeon")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.MaxRoomPlayers != 4 {
		t.Errorf("MaxRoomPlayers = %d, want %d", cfg.MaxRoomPlayers, 4)
	}
	if cfg.DisconnectGrace != 2*time.Second {
		t.Errorf("DisconnectGrace = %v, want %v", cfg.DisconnectGrace, 2*time.Second)
	}
	if cfg.EventBuffer != 16 {
		t.Errorf("EventBuffer = %d, want %d", cfg.EventBuffer, 16)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("MAX_ROOM_PLAYERS", "abc")
	t.Setenv("DISCONNECT_GRACE", "soon")

	cfg := Load()

	if cfg.MaxRoomPlayers != 8 {
		t.Errorf("MaxRoomPlayers = %d, want %d (fallback)", cfg.MaxRoomPlayers, 8)
	}
	if cfg.DisconnectGrace != 10*time.Second {
		t.Errorf("DisconnectGrace = %v, want %v (fallback)", cfg.DisconnectGrace, 10*time.Second)
	}
}

func TestLoad_MaxRoomPlayersFloor(t *testing.T) {
	t.Setenv("MAX_ROOM_PLAYERS", "1")

	cfg := Load()

	if cfg.MaxRoomPlayers != 2 {
		t.Errorf("MaxRoomPlayers = %d, want %d", cfg.MaxRoomPlayers, 2)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORT=9191\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv only fills unset variables; clear PORT so the file can supply it.
	os.Unsetenv("PORT")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}

	cfg := Load()
	if cfg.Port != "9191" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9191")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q (environment wins)", cfg.LogLevel, "warn")
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("LoadDotEnv() on missing file error: %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Errorf("LoadDotEnv(\"\") error: %v", err)
	}
}
