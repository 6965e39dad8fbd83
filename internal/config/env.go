package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/danmuck/universe/internal/authority"
)

// Unset variables leave the pointer nil so file values survive.
type authorityEnv struct {
	Channel           *string        `env:"UNIVERSE_CHANNEL"`
	HeartbeatInterval *time.Duration `env:"UNIVERSE_HEARTBEAT_INTERVAL"`
	MaxPendingPongs   *int           `env:"UNIVERSE_MAX_PENDING_PONGS"`
	Strict            *bool          `env:"UNIVERSE_STRICT"`
	ProvisionTimeout  *time.Duration `env:"UNIVERSE_PROVISION_TIMEOUT"`
}

type hostEnv struct {
	Authority authorityEnv
	WorkerURL *string `env:"UNIVERSE_WORKER_URL"`
	Token     *string `env:"UNIVERSE_AUTH_TOKEN"`
}

type workerEnv struct {
	Authority authorityEnv
	Listen      *bool    `env:"UNIVERSE_LISTEN"`
	ListenAddr  *string  `env:"UNIVERSE_LISTEN_ADDR"`
	CorsOrigins []string `env:"UNIVERSE_CORS_ORIGINS" envSeparator:","`
	DBPath      *string  `env:"UNIVERSE_DB_PATH"`
	DBRequired  *bool    `env:"UNIVERSE_DB_REQUIRED"`
	Token       *string  `env:"UNIVERSE_AUTH_TOKEN"`
}

func applyHostEnv(cfg *HostConfig) error {
	var raw hostEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	raw.Authority.apply(&cfg.Authority)
	if raw.WorkerURL != nil {
		cfg.WorkerURL = *raw.WorkerURL
	}
	if raw.Token != nil {
		cfg.WorkerToken = *raw.Token
	}
	return nil
}

func applyWorkerEnv(cfg *WorkerConfig) error {
	var raw workerEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	raw.Authority.apply(&cfg.Authority)
	if raw.Listen != nil {
		cfg.Listen = *raw.Listen
	}
	if raw.ListenAddr != nil {
		cfg.ListenAddr = *raw.ListenAddr
	}
	if len(raw.CorsOrigins) > 0 {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if raw.DBPath != nil {
		cfg.DBPath = *raw.DBPath
	}
	if raw.DBRequired != nil {
		cfg.DBRequired = *raw.DBRequired
	}
	if raw.Token != nil {
		cfg.AuthToken = *raw.Token
	}
	return nil
}

func (raw authorityEnv) apply(cfg *authority.Config) {
	if raw.Channel != nil {
		cfg.Channel = *raw.Channel
	}
	if raw.HeartbeatInterval != nil {
		cfg.HeartbeatInterval = *raw.HeartbeatInterval
	}
	if raw.MaxPendingPongs != nil {
		cfg.MaxPendingPongs = *raw.MaxPendingPongs
	}
	if raw.Strict != nil {
		cfg.Strict = *raw.Strict
	}
	if raw.ProvisionTimeout != nil {
		cfg.ProvisionTimeout = *raw.ProvisionTimeout
	}
}
