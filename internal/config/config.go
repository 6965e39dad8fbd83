package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/universe/internal/authority"
)

var (
	ErrMissingWorkerCommand = errors.New("config: host needs worker_command or worker_url")
	ErrMissingListenAddr    = errors.New("config: worker listen mode needs listen_addr")
)

// HostConfig configures cmd/universe.
type HostConfig struct {
	Name      string
	Authority authority.Config
	// WorkerCommand spawns a stdio worker; WorkerURL dials a websocket worker
	// instead when set.
	WorkerCommand []string
	WorkerURL     string
	WorkerToken   string
}

// WorkerConfig configures cmd/universe-worker.
type WorkerConfig struct {
	Name        string
	Authority   authority.Config
	ListenAddr  string
	Listen      bool
	CorsOrigins []string
	DBPath      string
	DBRequired  bool
	SeedDemo    bool
	// AuthToken guards the websocket endpoint; empty leaves it open.
	AuthToken string
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		Name:          "universe",
		Authority:     authority.DefaultConfig(),
		WorkerCommand: []string{"universe-worker"},
	}
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Name:        "universe-worker",
		Authority:   authority.DefaultConfig(),
		ListenAddr:  "127.0.0.1:9200",
		CorsOrigins: []string{"http://localhost:3000"},
		DBPath:      "universe.db",
		SeedDemo:    true,
	}
}

// authorityFile holds the keys shared by both kinds. Durations accept Go
// duration strings or an integer _ms variant.
type authorityFile struct {
	Channel             string `toml:"channel"`
	HeartbeatInterval   string `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64  `toml:"heartbeat_interval_ms"`
	MaxPendingPongs     int    `toml:"max_pending_pongs"`
	Strict              bool   `toml:"strict"`
	ProvisionTimeout    string `toml:"provision_timeout"`
	ProvisionTimeoutMS  int64  `toml:"provision_timeout_ms"`
}

type hostFile struct {
	Name          string        `toml:"name"`
	WorkerCommand []string      `toml:"worker_command"`
	WorkerURL     string        `toml:"worker_url"`
	WorkerToken   string        `toml:"worker_token"`
	Authority     authorityFile `toml:"authority"`
}

type workerFile struct {
	Name        string        `toml:"name"`
	Listen      bool          `toml:"listen"`
	ListenAddr  string        `toml:"listen_addr"`
	CorsOrigins []string      `toml:"cors_origins"`
	DBPath      string        `toml:"db_path"`
	DBRequired  bool          `toml:"db_required"`
	SeedDemo    bool          `toml:"seed_demo"`
	AuthToken   string        `toml:"auth_token"`
	Authority   authorityFile `toml:"authority"`
}

// LoadHostConfig reads path over the defaults, then applies UNIVERSE_*
// environment overrides. An empty path skips the file.
func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	if strings.TrimSpace(path) != "" {
		var raw hostFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return HostConfig{}, fmt.Errorf("load host config: %w", err)
		}
		if meta.IsDefined("name") {
			if name := strings.TrimSpace(raw.Name); name != "" {
				cfg.Name = name
			}
		}
		if meta.IsDefined("worker_command") {
			cfg.WorkerCommand = normalizeList(raw.WorkerCommand)
		}
		if meta.IsDefined("worker_url") {
			cfg.WorkerURL = strings.TrimSpace(raw.WorkerURL)
		}
		if meta.IsDefined("worker_token") {
			cfg.WorkerToken = strings.TrimSpace(raw.WorkerToken)
		}
		if err := applyAuthority(meta, raw.Authority, &cfg.Authority); err != nil {
			return HostConfig{}, err
		}
	}
	if err := applyHostEnv(&cfg); err != nil {
		return HostConfig{}, err
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

// LoadWorkerConfig reads path over the defaults, then applies UNIVERSE_*
// environment overrides. An empty path skips the file.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if strings.TrimSpace(path) != "" {
		var raw workerFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("load worker config: %w", err)
		}
		if meta.IsDefined("name") {
			if name := strings.TrimSpace(raw.Name); name != "" {
				cfg.Name = name
			}
		}
		if meta.IsDefined("listen") {
			cfg.Listen = raw.Listen
		}
		if meta.IsDefined("listen_addr") {
			cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
		}
		if meta.IsDefined("cors_origins") {
			cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
		}
		if meta.IsDefined("db_path") {
			cfg.DBPath = strings.TrimSpace(raw.DBPath)
		}
		if meta.IsDefined("db_required") {
			cfg.DBRequired = raw.DBRequired
		}
		if meta.IsDefined("seed_demo") {
			cfg.SeedDemo = raw.SeedDemo
		}
		if meta.IsDefined("auth_token") {
			cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
		}
		if err := applyAuthority(meta, raw.Authority, &cfg.Authority); err != nil {
			return WorkerConfig{}, err
		}
	}
	if err := applyWorkerEnv(&cfg); err != nil {
		return WorkerConfig{}, err
	}
	if err := ValidateWorkerConfig(cfg); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func applyAuthority(meta toml.MetaData, raw authorityFile, cfg *authority.Config) error {
	if meta.IsDefined("authority", "channel") {
		if channel := strings.TrimSpace(raw.Channel); channel != "" {
			cfg.Channel = channel
		}
	}
	if meta.IsDefined("authority", "heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return fmt.Errorf("parse authority.heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("authority", "heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("authority", "max_pending_pongs") {
		cfg.MaxPendingPongs = raw.MaxPendingPongs
	}
	if meta.IsDefined("authority", "strict") {
		cfg.Strict = raw.Strict
	}
	if meta.IsDefined("authority", "provision_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ProvisionTimeout))
		if err != nil {
			return fmt.Errorf("parse authority.provision_timeout: %w", err)
		}
		cfg.ProvisionTimeout = d
	}
	if meta.IsDefined("authority", "provision_timeout_ms") {
		cfg.ProvisionTimeout = time.Duration(raw.ProvisionTimeoutMS) * time.Millisecond
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("host config missing name")
	}
	if len(cfg.WorkerCommand) == 0 && strings.TrimSpace(cfg.WorkerURL) == "" {
		return ErrMissingWorkerCommand
	}
	if err := cfg.Authority.Validate(); err != nil {
		return fmt.Errorf("host config: %w", err)
	}
	return nil
}

func ValidateWorkerConfig(cfg WorkerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("worker config missing name")
	}
	if cfg.Listen && strings.TrimSpace(cfg.ListenAddr) == "" {
		return ErrMissingListenAddr
	}
	if err := cfg.Authority.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
