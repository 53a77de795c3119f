package config

import (
	"fmt"
	"strings"
)

// hexUpper is the alphabet block digests are rendered in.
const hexUpper = "0123456789ABCDEF"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if strings.ContainsAny(cfg.Database, `/\`) {
		return fmt.Errorf("database name must not contain path separators")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.Mining.Workers < 1 {
		return fmt.Errorf("mining.workers must be at least 1")
	}
	for _, c := range cfg.Difficulty {
		if !strings.ContainsRune(hexUpper, c) {
			return fmt.Errorf("difficulty must be an uppercase hex prefix, got %q", cfg.Difficulty)
		}
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
