package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Config is the bot configuration, constructed once at startup and
// passed to whatever needs it.
type Config struct {
	BotToken   string
	DBPath     string
	AdminUsers []int64
	LogLevel   string
}

// LoadConfig reads configuration from a .env file (when present) and
// the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken: os.Getenv("EVENTS_BOT_TOKEN"),
		DBPath:   os.Getenv("EVENTS_BOT_DB"),
		LogLevel: os.Getenv("EVENTS_BOT_LOG_LEVEL"),
	}

	if cfg.BotToken == "" {
		return nil, errors.New("EVENTS_BOT_TOKEN is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("EVENTS_BOT_DB is required")
	}

	// Admin Telegram ids, colon-separated.
	for _, part := range strings.Split(os.Getenv("EVENTS_BOT_ADMIN_USERS"), ":") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad admin user id %q", part)
		}
		cfg.AdminUsers = append(cfg.AdminUsers, id)
	}

	return cfg, nil
}
