package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the server's runtime configuration, populated from flags
// and SALUD_-prefixed environment variables.
type Config struct {
	Bind         string
	Port         int
	PublicURL    string // external base URL baked into join QR codes
	RoomTTL      time.Duration
	HostLease    time.Duration
	ReapInterval time.Duration
	Rounds       int // rounds per game unless the client asks otherwise
	ExportFile   string
	Verbose      bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.RoomTTL <= 0 {
		return errors.New("room-ttl must be positive")
	}
	if c.HostLease <= 0 {
		return errors.New("host-lease must be positive")
	}
	if c.Rounds < 1 {
		return errors.New("rounds must be at least 1")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
