package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/testutil/testlog"
)

func TestSharedTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  SharedToken
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			logs.Infof("auth/shared-token: stored=%q input=%q err=%v", tc.stored, tc.input, err)
		})
	}
}

func TestForTokenLeavesEndpointOpen(t *testing.T) {
	testlog.Start(t)
	if v := ForToken("  "); v != nil {
		t.Fatalf("expected no validator for empty token, got %v", v)
	}
	if err := ForToken("s3cret").Validate("s3cret"); err != nil {
		t.Fatalf("expected token accepted, got %v", err)
	}
}

func TestRequestToken(t *testing.T) {
	testlog.Start(t)
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header = Header("abc")
	if got := RequestToken(req); got != "abc" {
		t.Fatalf("expected bearer token, got %q", got)
	}

	req = httptest.NewRequest("GET", "/ws?token=xyz", nil)
	if got := RequestToken(req); got != "xyz" {
		t.Fatalf("expected query token, got %q", got)
	}
	if Header("") != nil {
		t.Fatalf("expected nil header for empty token")
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}
