package authority

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/universe/internal/universe"
)

const (
	DefaultHeartbeatInterval = time.Second
	DefaultMaxPendingPongs   = 3
	DefaultProvisionTimeout  = 10 * time.Second
)

var (
	ErrInvalidHeartbeatInterval = errors.New("authority: heartbeat interval must be positive")
	ErrInvalidPendingThreshold  = errors.New("authority: max pending pongs must be positive")
	ErrInvalidProvisionTimeout  = errors.New("authority: provision timeout must be positive")
)

type Config struct {
	Channel string
	// HeartbeatInterval is the ping period of the Initiator.
	HeartbeatInterval time.Duration
	// MaxPendingPongs is how many pings may go unanswered before the link is
	// declared dead.
	MaxPendingPongs int
	// Strict makes unauthorized graph mutations return an error.
	Strict bool
	// ProvisionTimeout bounds the Responder's initialize work.
	ProvisionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Channel:           universe.Channel,
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxPendingPongs:   DefaultMaxPendingPongs,
		ProvisionTimeout:  DefaultProvisionTimeout,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Channel = strings.TrimSpace(c.Channel)
	if c.Channel == "" {
		c.Channel = def.Channel
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.MaxPendingPongs == 0 {
		c.MaxPendingPongs = def.MaxPendingPongs
	}
	if c.ProvisionTimeout == 0 {
		c.ProvisionTimeout = def.ProvisionTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidHeartbeatInterval, c.HeartbeatInterval)
	}
	if c.MaxPendingPongs <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPendingThreshold, c.MaxPendingPongs)
	}
	if c.ProvisionTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProvisionTimeout, c.ProvisionTimeout)
	}
	return nil
}
