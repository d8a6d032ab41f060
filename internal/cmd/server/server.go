// Package server parses configuration for the auth server command.
package server

import (
	"context"
	"flag"
	"strings"

	"github.com/repset/repset/internal/app"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr: envOrDefault(lookup, []string{"REPSET_HTTP_ADDR"}, "localhost:8080"),
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The auth HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.HTTPAddr)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
