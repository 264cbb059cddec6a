package websocket

import "time"

// Config tunes connection heartbeats and buffering.
type Config struct {
	WriteTimeout   time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string // empty allows any origin
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   5 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
		SendBuffer:     100,
		MaxMessageSize: 16 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}
