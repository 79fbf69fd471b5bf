package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	LogLevel        string
	MaxRoomPlayers  int
	DisconnectGrace time.Duration
	EventBuffer     int
	// StaleRoomTTL bounds how long a persisted room may go unwritten
	// before startup discards it instead of restoring it.
	StaleRoomTTL    time.Duration
}

func Load() Config {
	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MaxRoomPlayers:  getEnvInt("MAX_ROOM_PLAYERS", 8),
		DisconnectGrace: getEnvDuration("DISCONNECT_GRACE", 10*time.Second),
		EventBuffer:     getEnvInt("EVENT_BUFFER", 64),
		StaleRoomTTL:    getEnvDuration("STALE_ROOM_TTL", time.Hour),
	}
	if cfg.MaxRoomPlayers < 2 {
		cfg.MaxRoomPlayers = 2
	}
	return cfg
}

// LoadDotEnv reads key=value pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
