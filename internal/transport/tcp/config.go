package tcp

import (
	"strings"
	"time"
)

// Config defines listener and per-connection I/O settings.
type Config struct {
	ListenAddr     string
	ReadBufferSize int
	WriteTimeout   time.Duration
	DialTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":18080",
		ReadBufferSize: 16 * 1024,
		WriteTimeout:   10 * time.Second,
		DialTimeout:    5 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}
