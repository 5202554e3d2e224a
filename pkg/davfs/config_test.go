package davfs

import (
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/astrodata/respath/pkg/xerrors"
)

var errTest = errors.New("connection reset")

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TimeoutConnect != 30*time.Second {
		t.Errorf("TimeoutConnect = %v", cfg.TimeoutConnect)
	}
	if cfg.TimeoutRead != 1500*time.Second {
		t.Errorf("TimeoutRead = %v", cfg.TimeoutRead)
	}
	if cfg.FrontendConnections != 2 || cfg.BackendConnections != 1 {
		t.Errorf("connections = %d/%d", cfg.FrontendConnections, cfg.BackendConnections)
	}
	if !cfg.CopyViaLocal {
		t.Error("CopyViaLocal should default on")
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("RESPATH_HTTP_TIMEOUT_CONNECT", "5")
	t.Setenv("RESPATH_HTTP_DIGEST", "sha-256")
	t.Setenv("RESPATH_HTTP_PUT_SEND_EXPECT_HEADER", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TimeoutConnect != 5*time.Second {
		t.Errorf("TimeoutConnect = %v", cfg.TimeoutConnect)
	}
	if cfg.Digest != "sha-256" {
		t.Errorf("Digest = %q", cfg.Digest)
	}
	if !cfg.SendExpectOnPut {
		t.Error("SendExpectOnPut not set")
	}
}

func TestConfigRejectsBadDigest(t *testing.T) {
	t.Setenv("RESPATH_HTTP_DIGEST", "crc32")
	if _, err := ConfigFromEnv(); !xerrors.Is(err, xerrors.KindInvalid) {
		t.Fatalf("err = %v, want invalid", err)
	}
}

func TestBearerTokenFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/token"
	writeToken := func(perm os.FileMode) {
		t.Helper()
		if err := os.WriteFile(path, []byte("secret\n"), perm); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, perm); err != nil {
			t.Fatal(err)
		}
	}

	writeToken(0o600)
	cfg := Config{BearerToken: path}
	tok, err := cfg.bearerToken()
	if err != nil || tok != "secret" {
		t.Fatalf("token = %q, %v", tok, err)
	}

	writeToken(0o644)
	if _, err := cfg.bearerToken(); !xerrors.Is(err, xerrors.KindPermission) {
		t.Fatalf("err = %v, want permission", err)
	}

	// A non-file value is the token itself.
	cfg = Config{BearerToken: "literal-token"}
	tok, err = cfg.bearerToken()
	if err != nil || tok != "literal-token" {
		t.Fatalf("literal token = %q, %v", tok, err)
	}
}

func TestClientKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	key := dir + "/client.key"
	if err := os.WriteFile(key, []byte("key material"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(key, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{ClientCert: dir + "/client.crt", ClientKey: key}
	if _, err := cfg.tlsConfig(); !xerrors.Is(err, xerrors.KindPermission) {
		t.Fatalf("err = %v, want permission", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(3, 1.0, 3.0)

	if !p.Retryable("GET", http.StatusServiceUnavailable, nil) {
		t.Error("503 GET should retry")
	}
	if !p.Retryable("PUT", 0, errTest) {
		t.Error("transport error on PUT should retry")
	}
	if p.Retryable("POST", http.StatusServiceUnavailable, nil) {
		t.Error("POST is not retryable")
	}
	if p.Retryable("GET", http.StatusForbidden, nil) {
		t.Error("403 should not retry")
	}

	d1 := p.Delay(1, nil)
	d2 := p.Delay(2, nil)
	if d1 < time.Second || d1 > 3*time.Second {
		t.Errorf("first delay %v outside backoff window", d1)
	}
	if diff := d2 - 2*d1; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("delay did not double: %v then %v", d1, d2)
	}
}

func TestRetryAfter(t *testing.T) {
	if d, ok := retryAfter("7"); !ok || d != 7*time.Second {
		t.Errorf("seconds form = %v, %v", d, ok)
	}
	date := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d, ok := retryAfter(date)
	if !ok || d <= 0 || d > 30*time.Second {
		t.Errorf("date form = %v, %v", d, ok)
	}
	if _, ok := retryAfter("soon"); ok {
		t.Error("garbage accepted")
	}
}
