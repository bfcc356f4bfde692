package config

// Precedence (highest wins): CLI flags, environment variables, defaults.

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays DOTGAME_* environment variables onto cfg. Only
// non-empty, parseable values override; call it before binding flags.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DOTGAME_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("DOTGAME_HTTP"); ok {
		// An explicitly empty value disables the HTTP surface.
		cfg.HTTPAddr = v
	}
	if v := envInt("DOTGAME_READ_BUFFER"); v > 0 {
		cfg.ReadBufferSize = v
	}
	if v := envInt("DOTGAME_MAX_PACKET"); v > 0 {
		cfg.MaxPacketBody = v
	}
	if v := envDuration("DOTGAME_WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = v
	}
	if v := envDuration("DOTGAME_SHUTDOWN_GRACE"); v > 0 {
		cfg.ShutdownGrace = v
	}
	if envBool("DOTGAME_PURGE_ON_DISCONNECT") {
		cfg.PurgeOnDisconnect = true
	}
	if v := envDuration("DOTGAME_COLOR_TTL"); v > 0 {
		cfg.ColorTTL = v
	}

	// Redis
	if v := os.Getenv("DOTGAME_REDIS"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("DOTGAME_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := envInt("DOTGAME_REDIS_DB"); v > 0 {
		cfg.RedisDB = v
	}

	// Logging
	if v := os.Getenv("DOTGAME_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if envBool("DOTGAME_LOG_PRETTY") {
		cfg.LogPretty = true
	}
	if v := os.Getenv("DOTGAME_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// envDuration accepts Go duration syntax ("750ms", "2m") or whole seconds.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
