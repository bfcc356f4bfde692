package config

import "time"

// All tuneable defaults live here so CLI flags, environment loading and
// tests agree on them.
const (
	// DefaultListenAddr is where the game protocol listens.
	DefaultListenAddr = "127.0.0.1:8888"

	// DefaultHTTPAddr serves health, metrics, state and the websocket gateway.
	DefaultHTTPAddr = "127.0.0.1:8889"

	// DefaultReadBufferSize is the size of a single socket read.
	DefaultReadBufferSize = 1024

	// DefaultMaxPacketBody caps one packet body: 256 full field records.
	DefaultMaxPacketBody = 256 * (2 + 255)

	// DefaultWriteTimeout bounds one packet write to a peer.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultShutdownGrace is how long shutdown waits for sessions to end.
	DefaultShutdownGrace = 5 * time.Second

	// DefaultColorTTL is how long a username keeps its assigned color.
	DefaultColorTTL = time.Hour

	// DefaultLogLevel is the minimum level logged.
	DefaultLogLevel = "info"

	// DefaultServiceName tags log entries and log file names.
	DefaultServiceName = "dotgame"
)

// Default returns a Config populated with the defaults above.
func Default() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		HTTPAddr:       DefaultHTTPAddr,
		ReadBufferSize: DefaultReadBufferSize,
		MaxPacketBody:  DefaultMaxPacketBody,
		WriteTimeout:   DefaultWriteTimeout,
		ShutdownGrace:  DefaultShutdownGrace,
		ColorTTL:       DefaultColorTTL,
		LogLevel:       DefaultLogLevel,
		ServiceName:    DefaultServiceName,
	}
}
