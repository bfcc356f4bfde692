// Package config holds the game server settings and their defaults,
// environment overlay, command-line binding and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/cyberinferno/dotgame/logger"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr     string
	HTTPAddr       string // empty disables the HTTP surface
	ReadBufferSize int
	MaxPacketBody  int
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration

	// PurgeOnDisconnect removes a player's points when its session ends.
	PurgeOnDisconnect bool

	ColorTTL      time.Duration
	RedisAddr     string // empty keeps color memory in-process
	RedisPassword string
	RedisDB       int

	ServiceName string
	LogLevel    string
	LogPretty   bool
	LogDir      string
}

// BindFlags registers a flag for every setting on fs, using the current
// values of c as defaults so flags override environment and defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ListenAddr, "listen", "l", c.ListenAddr, "Game protocol listen address (host:port)")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "Admin HTTP address for health, metrics and websocket (empty disables)")
	fs.IntVar(&c.ReadBufferSize, "read-buffer", c.ReadBufferSize, "Bytes per socket read")
	fs.IntVar(&c.MaxPacketBody, "max-packet", c.MaxPacketBody, "Largest accepted packet body in bytes")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Per-peer write timeout")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "Time to wait for sessions on shutdown")
	fs.BoolVar(&c.PurgeOnDisconnect, "purge-on-disconnect", c.PurgeOnDisconnect, "Remove a player's points when it disconnects")
	fs.DurationVar(&c.ColorTTL, "color-ttl", c.ColorTTL, "How long a username keeps its color (0 keeps forever)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for shared color memory (empty uses memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "Human-readable console logs")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "Directory for daily rotated log files")
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() error {
	var errs []error

	if err := validateAddr(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen address: %w", err))
	}
	if c.HTTPAddr != "" {
		if err := validateAddr(c.HTTPAddr); err != nil {
			errs = append(errs, fmt.Errorf("http address: %w", err))
		}
	}
	if c.RedisAddr != "" {
		if err := validateAddr(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("redis address: %w", err))
		}
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read buffer size must be positive, got %d", c.ReadBufferSize))
	}
	if c.MaxPacketBody < 16 {
		errs = append(errs, fmt.Errorf("max packet body must be at least 16 bytes, got %d", c.MaxPacketBody))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout))
	}
	if c.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("shutdown grace must be positive, got %s", c.ShutdownGrace))
	}
	if c.ColorTTL < 0 {
		errs = append(errs, fmt.Errorf("color ttl must not be negative, got %s", c.ColorTTL))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
