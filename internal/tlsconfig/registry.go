package tlsconfig

import "fmt"

// KnownServices enumerates the downstream services the platform terminates
// or dials mTLS to, with their canonical on-disk cert layout and whether
// mTLS is required by default.
var KnownServices = []string{
	"api", "llm", "embedding", "qdrant", "redis", "postgres", "minio", "directory", "email", "meet",
}

// DefaultBundle returns the canonical certs/<service>/{server,client}.{crt,key}
// bundle for a known service, with mTLS required by default.
func DefaultBundle(service, certsRoot string) Bundle {
	base := fmt.Sprintf("%s/%s", certsRoot, service)
	return Bundle{
		ServiceName:       service,
		CertPath:          base + "/server.crt",
		KeyPath:           base + "/server.key",
		CACertPath:        base + "/ca.crt",
		ClientCertPath:    base + "/client.crt",
		ClientKeyPath:     base + "/client.key",
		RequireClientCert: true,
	}
}

// IsKnownService reports whether name is in the default service registry.
func IsKnownService(name string) bool {
	for _, s := range KnownServices {
		if s == name {
			return true
		}
	}
	return false
}

// Registry holds a Manager per configured service, built at boot.
type Registry struct {
	managers map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Load builds (or rebuilds) the Manager for one service bundle.
func (r *Registry) Load(bundle Bundle) error {
	m, err := NewManager(bundle)
	if err != nil {
		return err
	}
	r.managers[bundle.ServiceName] = m
	return nil
}

// Manager returns the service's Manager, or nil if it was never loaded.
func (r *Registry) Manager(service string) *Manager {
	return r.managers[service]
}

// ReloadAll reloads every registered service's certificate material from
// disk. The first error is returned; subsequent services are still attempted
// so one stale bundle doesn't block a reload of the others.
func (r *Registry) ReloadAll() error {
	var firstErr error
	for name, m := range r.managers {
		if err := m.Reload(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reload %s: %w", name, err)
		}
	}
	return firstErr
}
