package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/mcwire/internal/protocol/session"
)

var (
	ErrInvalidListenAddr = errors.New("server: invalid listen address")
	ErrInvalidMaxPlayers = errors.New("server: invalid max players")
	ErrInvalidWorkers    = errors.New("server: invalid worker pool size")
)

// ServiceConfig configures the wire server and its admin surface.
type ServiceConfig struct {
	ServerID          string
	ListenAddr        string
	AdminListenAddr   string
	AdminToken        string
	AdminCORSOrigins  []string
	MOTD              string
	MaxPlayers        int
	EnforceSecureChat bool
	KeyringPath       string
	Workers           int
	WorkerBacklog     int
	MailboxBatch      int
	Session           session.Config
}

// DefaultServiceConfig returns the standalone defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ServerID:          "mcwire.local",
		ListenAddr:        ":25565",
		AdminListenAddr:   "",
		MOTD:              "A mcwire server",
		MaxPlayers:        20,
		EnforceSecureChat: false,
		Workers:           4,
		WorkerBacklog:     256,
		MailboxBatch:      32,
		Session:           session.DefaultConfig(),
	}
}

// WithDefaults fills zero values from DefaultServiceConfig.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if strings.TrimSpace(c.ServerID) == "" {
		c.ServerID = d.ServerID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.MaxPlayers == 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.WorkerBacklog == 0 {
		c.WorkerBacklog = d.WorkerBacklog
	}
	if c.MailboxBatch <= 0 {
		c.MailboxBatch = d.MailboxBatch
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Validate reports the first unusable field.
func (c ServiceConfig) Validate() error {
	if !strings.Contains(c.ListenAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidListenAddr, c.ListenAddr)
	}
	if c.AdminListenAddr != "" && !strings.Contains(c.AdminListenAddr, ":") {
		return fmt.Errorf("%w: admin %q", ErrInvalidListenAddr, c.AdminListenAddr)
	}
	if c.MaxPlayers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPlayers, c.MaxPlayers)
	}
	if c.Workers < 1 || c.WorkerBacklog < 1 {
		return fmt.Errorf("%w: workers=%d backlog=%d", ErrInvalidWorkers, c.Workers, c.WorkerBacklog)
	}
	return nil
}
