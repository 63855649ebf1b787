// Package passkeyd parses command configuration for the passkeyd server.
package passkeyd

import (
	"context"
	"flag"
	"log/slog"
	"strings"

	"github.com/passkeyd/passkeyd/internal/app"
)

// Config holds passkeyd command configuration.
type Config struct {
	HTTPAddr string
	DBPath   string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config, with environment fallbacks.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr: envOrDefault(lookup, "PASSKEYD_HTTP_ADDR", "localhost:8085"),
		DBPath:   envOrDefault(lookup, "PASSKEYD_DB_PATH", ""),
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the passkeyd server.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	return app.Run(ctx, cfg.HTTPAddr, cfg.DBPath, logger)
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
