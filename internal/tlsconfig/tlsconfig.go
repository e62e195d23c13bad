// Package tlsconfig builds server and client *tls.Config values from
// per-service certificate bundles, with a hot-reload path and a fixed
// registry of known downstream services. Built directly on crypto/tls
// and crypto/x509.
package tlsconfig

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// Bundle describes one service's certificate material on disk.
type Bundle struct {
	ServiceName      string
	CertPath         string
	KeyPath          string
	CACertPath       string // optional: enables client-cert verification
	ClientCertPath   string // optional: this process's own client identity
	ClientKeyPath    string
	RequireClientCert bool
}

// Manager owns one Bundle and the live tls.Config pair derived from it. The
// derived configs are stored behind atomic.Pointer so Reload can swap in new
// material without tearing down listeners that hold a reference to the old
// *tls.Config (Go's http.Server re-reads Config.GetConfigForClient per
// handshake, so swapping the pointer is sufficient).
type Manager struct {
	mu       sync.Mutex
	bundle   Bundle
	server   atomic.Pointer[tls.Config]
	client   atomic.Pointer[tls.Config] // nil when bundle has no client cert
}

// NewManager builds a Manager and performs the first load. Returns
// errs.ErrInvalidCertificate / errs.ErrInvalidKey / errs.ErrCertificateNotFound
// on bad input.
func NewManager(bundle Bundle) (*Manager, error) {
	m := &Manager{bundle: bundle}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// ServerConfig returns the current server-side tls.Config. Safe for
// concurrent use; reflects the most recent successful Reload.
func (m *Manager) ServerConfig() *tls.Config {
	return m.server.Load()
}

// ClientConfig returns the current client-side tls.Config, or nil if the
// bundle carries no client certificate (the service only terminates TLS, it
// never dials out with its own identity).
func (m *Manager) ClientConfig() *tls.Config {
	return m.client.Load()
}

// Reload rebuilds both configs atomically from disk. Live connections keep
// using the *tls.Config snapshot they started with; only new connections
// observe the reloaded material.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reload()
}

func (m *Manager) reload() error {
	b := m.bundle

	if err := validatePEMFile(b.CertPath, certificateMarker); err != nil {
		return fmt.Errorf("%s: %w", b.ServiceName, err)
	}
	if err := validatePEMFile(b.KeyPath, privateKeyMarker); err != nil {
		return fmt.Errorf("%s: %w", b.ServiceName, err)
	}

	cert, err := tls.LoadX509KeyPair(b.CertPath, b.KeyPath)
	if err != nil {
		return fmt.Errorf("%s: load keypair: %w", b.ServiceName, err)
	}

	serverCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if b.CACertPath != "" {
		pool, err := loadCertPool(b.CACertPath)
		if err != nil {
			return fmt.Errorf("%s: load ca: %w", b.ServiceName, err)
		}
		serverCfg.ClientCAs = pool
		if b.RequireClientCert {
			serverCfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			serverCfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	} else {
		serverCfg.ClientAuth = tls.NoClientCert
	}
	// A listener keeps the first *tls.Config it was handed; this callback
	// gives each new handshake the most recently stored config instead.
	serverCfg.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		return m.server.Load(), nil
	}

	var clientCfg *tls.Config
	if b.ClientCertPath != "" && b.ClientKeyPath != "" {
		if err := validatePEMFile(b.ClientCertPath, certificateMarker); err != nil {
			return fmt.Errorf("%s: %w", b.ServiceName, err)
		}
		if err := validatePEMFile(b.ClientKeyPath, privateKeyMarker); err != nil {
			return fmt.Errorf("%s: %w", b.ServiceName, err)
		}
		clientCert, err := tls.LoadX509KeyPair(b.ClientCertPath, b.ClientKeyPath)
		if err != nil {
			return fmt.Errorf("%s: load client keypair: %w", b.ServiceName, err)
		}
		clientCfg = &tls.Config{
			Certificates: []tls.Certificate{clientCert},
			MinVersion:   tls.VersionTLS12,
		}
		if b.CACertPath != "" {
			pool, err := loadCertPool(b.CACertPath)
			if err != nil {
				return fmt.Errorf("%s: load ca for client: %w", b.ServiceName, err)
			}
			clientCfg.RootCAs = pool
		}
	}

	m.server.Store(serverCfg)
	if clientCfg != nil {
		m.client.Store(clientCfg)
	}
	return nil
}

const (
	certificateMarker = "-----BEGIN CERTIFICATE-----"
	privateKeyMarker  = "-----BEGIN"
)

func validatePEMFile(path, marker string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", errs.ErrCertificateNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errs.ErrCertificateNotFound, path)
		}
		return err
	}
	if !bytes.Contains(data, []byte(marker)) {
		return fmt.Errorf("%w: %s missing %q", errs.ErrInvalidCertificate, path, marker)
	}
	if marker == privateKeyMarker && !bytes.Contains(data, []byte("PRIVATE KEY-----")) {
		return fmt.Errorf("%w: %s missing PRIVATE KEY marker", errs.ErrInvalidKey, path)
	}
	return nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates parsed from %s", errs.ErrInvalidCertificate, path)
	}
	return pool, nil
}

// ValidateBundle reports whether both cert and key files are present and
// carry the expected PEM markers, without building a tls.Config.
func ValidateBundle(b Bundle) bool {
	if err := validatePEMFile(b.CertPath, certificateMarker); err != nil {
		return false
	}
	if err := validatePEMFile(b.KeyPath, privateKeyMarker); err != nil {
		return false
	}
	return true
}

// ParseMinVersion maps a config string ("1.2", "1.3") to a tls constant,
// defaulting to TLS 1.2 for empty/unrecognized input.
func ParseMinVersion(s string) uint16 {
	switch strings.TrimSpace(s) {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
