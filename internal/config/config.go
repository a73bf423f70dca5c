// Package config loads wirectl TOML files on top of the server defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/mcwire/internal/protocol/frame"
	"github.com/danmuck/mcwire/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid value")

// wirectl config.toml key mapping to server runtime settings.
type fileConfig struct {
	ID                string      `toml:"id"`
	Addr              string      `toml:"addr"`
	AdminListenAddr   string      `toml:"admin_listen_addr"`
	AdminToken        string      `toml:"admin_token"`
	AdminCORSOrigins  []string    `toml:"admin_cors_origins"`
	MOTD              string      `toml:"motd"`
	MaxPlayers        int         `toml:"max_players"`
	EnforceSecureChat bool        `toml:"enforce_secure_chat"`
	KeyringPath       string      `toml:"keyring_path"`
	Workers           int         `toml:"workers"`
	WorkerBacklog     int         `toml:"worker_backlog"`
	MailboxBatch      int         `toml:"mailbox_batch"`
	Session           fileSession `toml:"session"`
}

type fileSession struct {
	ConnectTimeout    string      `toml:"connect_timeout"`
	HandshakeTimeout  string      `toml:"handshake_timeout"`
	ReadTimeout       string      `toml:"read_timeout"`
	WriteTimeout      string      `toml:"write_timeout"`
	KeepAliveInterval string      `toml:"keepalive_interval"`
	MaxPayloadBytes   int         `toml:"max_payload_bytes"`
	Backoff           fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// LoadServiceConfig decodes path and overlays every key it defines on
// server.DefaultServiceConfig.
func LoadServiceConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load wirectl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.ServiceConfig{}, fmt.Errorf("load wirectl config: %w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("id") {
		cfg.ServerID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("motd") {
		cfg.MOTD = raw.MOTD
	}
	if meta.IsDefined("max_players") {
		cfg.MaxPlayers = raw.MaxPlayers
	}
	if meta.IsDefined("enforce_secure_chat") {
		cfg.EnforceSecureChat = raw.EnforceSecureChat
	}
	if meta.IsDefined("keyring_path") {
		cfg.KeyringPath = strings.TrimSpace(raw.KeyringPath)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("worker_backlog") {
		cfg.WorkerBacklog = raw.WorkerBacklog
	}
	if meta.IsDefined("mailbox_batch") {
		cfg.MailboxBatch = raw.MailboxBatch
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"session", "connect_timeout"}, raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{[]string{"session", "handshake_timeout"}, raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{[]string{"session", "read_timeout"}, raw.Session.ReadTimeout, &cfg.Session.ReadTimeout},
		{[]string{"session", "write_timeout"}, raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
		{[]string{"session", "keepalive_interval"}, raw.Session.KeepAliveInterval, &cfg.Session.KeepAliveInterval},
		{[]string{"session", "backoff", "initial_delay"}, raw.Session.Backoff.InitialDelay, &cfg.Session.Backoff.InitialDelay},
		{[]string{"session", "backoff", "max_delay"}, raw.Session.Backoff.MaxDelay, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v < 0 {
			return server.ServiceConfig{}, fmt.Errorf("load wirectl config: %w: %s=%q", ErrInvalidConfig, strings.Join(d.key, "."), d.raw)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_payload_bytes") {
		n := raw.Session.MaxPayloadBytes
		if n <= 0 || n > frame.MaxPayloadBytes {
			return server.ServiceConfig{}, fmt.Errorf("load wirectl config: %w: session.max_payload_bytes=%d (1..%d)", ErrInvalidConfig, n, frame.MaxPayloadBytes)
		}
		cfg.Session.Limits.MaxPayloadBytes = n
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Session.Backoff.Multiplier
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Session.Backoff.Jitter
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load wirectl config: %w", err)
	}
	return cfg, nil
}
