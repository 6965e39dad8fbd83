package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel, ok: false},
		{raw: "diagnostics", want: zerolog.TraceLevel, ok: true},
		{raw: " Debug ", want: zerolog.DebugLevel, ok: true},
		{raw: "warning", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel, ok: false},
	}
	for _, tc := range cases {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q)=(%v,%v) want (%v,%v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogBypass, "true")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.Bypass {
		t.Fatalf("expected bypass enabled")
	}
}

func TestWorkerProfileWritesToStderr(t *testing.T) {
	cfg := defaultConfig(ProfileWorker)
	if cfg.Out.Name() != "/dev/stderr" {
		t.Fatalf("unexpected worker output: %s", cfg.Out.Name())
	}
}
