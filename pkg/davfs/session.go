package davfs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/astrodata/respath/pkg/xerrors"
)

// SessionStore hands out one http.Client per endpoint root. Two stores
// exist side by side: the front-end store keeps persistent connections
// to the server receiving metadata requests, while the back-end store
// serves redirected payload requests against arbitrary storage servers
// and holds no idle connections to them.
type SessionStore struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	cfg     Config
	idle    int
}

func newSessionStore(cfg Config, idleConns int) *SessionStore {
	return &SessionStore{
		clients: make(map[string]*http.Client),
		cfg:     cfg,
		idle:    idleConns,
	}
}

// For returns the client for the given endpoint root, creating it on
// first use. Redirects are never followed automatically: callers decide
// per request whether to chase or capture them.
func (s *SessionStore) For(root string) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[root]; ok {
		return c, nil
	}

	tlsConf, err := s.cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   s.cfg.TimeoutConnect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConf,
		TLSHandshakeTimeout: s.cfg.TimeoutConnect,
		MaxIdleConnsPerHost: s.idle,
		DisableKeepAlives:   s.idle <= 0,
		ForceAttemptHTTP2:   true,
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   s.cfg.TimeoutRead,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	s.clients[root] = c
	return c, nil
}

// Invalidate closes idle connections and drops every cached client.
func (s *SessionStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.CloseIdleConnections()
	}
	s.clients = make(map[string]*http.Client)
}

func (c Config) tlsConfig() (*tls.Config, error) {
	conf := &tls.Config{}
	if c.CABundle != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindOf(err), "tls", c.CABundle, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, xerrors.E(xerrors.KindInvalid, "tls", c.CABundle)
		}
		conf.RootCAs = pool
	}
	if c.ClientCert != "" {
		info, err := os.Stat(c.ClientKey)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindOf(err), "tls", c.ClientKey, err)
		}
		// Like a token file, the private key must be kept to its owner.
		if info.Mode().Perm()&0o077 != 0 {
			return nil, xerrors.E(xerrors.KindPermission, "tls", c.ClientKey)
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindOf(err), "tls", c.ClientCert, err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// bearerToken resolves the configured bearer token. A value naming an
// existing file is read from disk on every call so rotated tokens are
// picked up; the file must be private to its owner.
func (c Config) bearerToken() (string, error) {
	v := c.BearerToken
	if v == "" {
		return "", nil
	}
	info, err := os.Stat(v)
	if err != nil {
		// Not a file: the value is the token itself.
		return v, nil
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", xerrors.E(xerrors.KindPermission, "auth", v)
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindOf(err), "auth", v, err)
	}
	return strings.TrimSpace(string(data)), nil
}
