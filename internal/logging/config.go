package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "UNIVERSE_LOG_LEVEL"
	EnvLogTimestamp = "UNIVERSE_LOG_TIMESTAMP"
	EnvLogNoColor   = "UNIVERSE_LOG_NOCOLOR"
	EnvLogBypass    = "UNIVERSE_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
	// ProfileWorker logs to stderr; stdout carries the worker transport.
	ProfileWorker
)

// Config controls the process-wide logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass skips the console writer and emits raw JSON lines.
	Bypass bool
	Out    *os.File
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func ConfigureWorker() {
	Configure(ProfileWorker)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

func defaultConfig(profile Profile) Config {
	cfg := Config{Out: os.Stdout}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	case ProfileWorker:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
		cfg.Out = os.Stderr
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	cfg.NoColor = !isatty.IsTerminal(cfg.Out.Fd()) && !isatty.IsCygwinTerminal(cfg.Out.Fd())
	return cfg
}

func apply(cfg Config) {
	var out io.Writer = cfg.Out
	if !cfg.Bypass {
		out = zerolog.ConsoleWriter{
			Out:        colorable.NewColorable(cfg.Out),
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
			PartsExclude: func() []string {
				if cfg.Timestamp {
					return nil
				}
				return []string{zerolog.TimestampFieldName}
			}(),
		}
	}
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	zerolog.SetGlobalLevel(cfg.Level)
	setLogger(ctx.Logger())
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
