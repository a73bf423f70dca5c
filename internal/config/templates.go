package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server", "wirectl":
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `id = "mcwire.local"
addr = ":25565"
admin_listen_addr = "127.0.0.1:7070"
admin_token = ""
admin_cors_origins = []
motd = "A mcwire server"
max_players = 20
enforce_secure_chat = false
# authorized_keys style file; the comment field holds the player uuid
keyring_path = ""
workers = 4
worker_backlog = 256
mailbox_batch = 32

[session]
connect_timeout = "5s"
handshake_timeout = "10s"
read_timeout = "30s"
write_timeout = "15s"
keepalive_interval = "15s"
max_payload_bytes = 8388608

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
