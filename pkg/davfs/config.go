// Package davfs implements resource access over HTTP and WebDAV. Plain
// HTTP endpoints get a reduced feature set; servers advertising WebDAV
// compliance class 1 additionally support collections, server-side
// copies and recursive listing. The package registers itself for the
// http and https schemes on import.
package davfs

import (
	"time"

	"github.com/spf13/viper"

	"github.com/astrodata/respath/pkg/xerrors"
)

// Config carries the tunables for HTTP access. All fields can be set
// through RESPATH_HTTP_* environment variables.
type Config struct {
	// TimeoutConnect bounds connection establishment, TimeoutRead the
	// whole request.
	TimeoutConnect time.Duration
	TimeoutRead    time.Duration

	// Retry backoff factor is drawn once per process from
	// [BackoffMin, BackoffMax] seconds so that clients started together
	// do not retry in lockstep.
	BackoffMin  float64
	BackoffMax  float64
	MaxAttempts int

	// Persistent connection counts for the two pools: the front end
	// receives every metadata request, the back ends only redirected
	// payload requests and so keep no idle connections by default.
	FrontendConnections int
	BackendConnections  int

	// TLS material. CABundle points at a PEM file appended to the
	// system roots; ClientCert/ClientKey enable mutual TLS and must be
	// set together.
	CABundle   string
	ClientCert string
	ClientKey  string

	// BearerToken is either the token itself or the path of a file
	// holding it. A token file must not be readable by group or other.
	BearerToken string

	// Digest selects the checksum requested from the server on uploads
	// via Want-Digest. Empty disables the header.
	Digest string

	// SendExpectOnPut adds Expect: 100-continue to upload probes, which
	// some storage front ends require before issuing a redirect.
	SendExpectOnPut bool

	// CopyViaLocal forces server-side COPY to be replaced by a
	// download/upload cycle. Some servers advertise COPY but implement
	// it incorrectly for third-party storage back ends.
	CopyViaLocal bool

	// EndpointCachePath enables persistent WebDAV endpoint
	// classification across processes. Empty keeps it in memory only.
	EndpointCachePath string
}

var validDigests = map[string]bool{
	"adler32": true,
	"md5":     true,
	"sha-256": true,
	"sha-512": true,
}

// ConfigFromEnv builds a Config from RESPATH_HTTP_* environment
// variables, applying defaults for everything unset.
func ConfigFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("respath")
	v.AutomaticEnv()

	v.SetDefault("http_timeout_connect", 30.0)
	v.SetDefault("http_timeout_read", 1500.0)
	v.SetDefault("http_backoff_min", 1.0)
	v.SetDefault("http_backoff_max", 3.0)
	v.SetDefault("http_max_attempts", 4)
	v.SetDefault("http_frontend_persistent_connections", 2)
	v.SetDefault("http_backend_persistent_connections", 1)
	v.SetDefault("http_put_send_expect_header", false)
	v.SetDefault("http_copy_via_local", true)

	cfg := Config{
		TimeoutConnect:      secondsDuration(v.GetFloat64("http_timeout_connect")),
		TimeoutRead:         secondsDuration(v.GetFloat64("http_timeout_read")),
		BackoffMin:          v.GetFloat64("http_backoff_min"),
		BackoffMax:          v.GetFloat64("http_backoff_max"),
		MaxAttempts:         v.GetInt("http_max_attempts"),
		FrontendConnections: v.GetInt("http_frontend_persistent_connections"),
		BackendConnections:  v.GetInt("http_backend_persistent_connections"),
		CABundle:            v.GetString("http_cacert_bundle"),
		ClientCert:          v.GetString("http_auth_client_cert"),
		ClientKey:           v.GetString("http_auth_client_key"),
		BearerToken:         v.GetString("http_auth_bearer_token"),
		Digest:              v.GetString("http_digest"),
		SendExpectOnPut:     v.GetBool("http_put_send_expect_header"),
		CopyViaLocal:        v.GetBool("http_copy_via_local"),
		EndpointCachePath:   v.GetString("http_endpoint_cache"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Digest != "" && !validDigests[c.Digest] {
		return xerrors.E(xerrors.KindInvalid, "config", "http_digest="+c.Digest)
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return xerrors.E(xerrors.KindInvalid, "config", "client certificate and key must be set together")
	}
	if c.BackoffMax < c.BackoffMin {
		return xerrors.E(xerrors.KindInvalid, "config", "http_backoff_max below http_backoff_min")
	}
	return nil
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
