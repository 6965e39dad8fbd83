package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindHost   = "host"
	KindWorker = "worker"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		return hostTemplate, nil
	case KindWorker:
		return workerTemplate, nil
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

// CheckKeys rejects keys the given kind does not understand. The loaders
// ignore unknown keys, so a typo would otherwise silently keep a default.
func CheckKeys(path, kind string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var target any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		target = &hostFile{}
	case KindWorker:
		target = &workerFile{}
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s has unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Load validates path as the given kind.
func Load(path, kind string) error {
	if err := CheckKeys(path, kind); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		_, err := LoadHostConfig(path)
		return err
	default:
		_, err := LoadWorkerConfig(path)
		return err
	}
}

const hostTemplate = `name = "universe"
worker_command = ["universe-worker"]
# worker_url = "ws://127.0.0.1:9200/ws"
# worker_token = "change-me"

[authority]
channel = "universe"
heartbeat_interval = "1s"
max_pending_pongs = 3
strict = false
`

const workerTemplate = `name = "universe-worker"
listen = false
listen_addr = "127.0.0.1:9200"
cors_origins = ["http://localhost:3000"]
db_path = "universe.db"
db_required = false
seed_demo = true
# auth_token = "change-me"

[authority]
channel = "universe"
strict = false
provision_timeout = "10s"
`
