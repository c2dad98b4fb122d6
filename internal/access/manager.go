// Package access authenticates gateway requests against the configured API keys.
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/modelrelay/modelrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

// Provider validates credentials for incoming requests.
type Provider interface {
	Identifier() string
	Authenticate(ctx context.Context, r *http.Request) (*Result, *AuthError)
}

// Result conveys authentication outcome.
type Result struct {
	Provider  string
	Principal string
	Metadata  map[string]string
}

// Manager coordinates authentication providers. With no providers every
// request is allowed.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetProviders replaces the active provider list.
func (m *Manager) SetProviders(providers []Provider) {
	if m == nil {
		return
	}
	cloned := make([]Provider, len(providers))
	copy(cloned, providers)
	m.mu.Lock()
	m.providers = cloned
	m.mu.Unlock()
}

// Providers returns a snapshot of the active providers.
func (m *Manager) Providers() []Provider {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]Provider, len(m.providers))
	copy(snapshot, m.providers)
	return snapshot
}

// Enabled reports whether any provider is active.
func (m *Manager) Enabled() bool {
	return len(m.Providers()) > 0
}

// ApplyConfig rebuilds the provider list from cfg's API keys.
func (m *Manager) ApplyConfig(cfg *config.SDKConfig) {
	if m == nil {
		return
	}
	before := len(m.Providers())
	var providers []Provider
	if cfg != nil {
		if p := NewConfigKeyProvider(cfg.APIKeys); p != nil {
			providers = append(providers, p)
		}
	}
	m.SetProviders(providers)
	switch {
	case before == 0 && len(providers) > 0:
		log.Info("api key authentication enabled")
	case before > 0 && len(providers) == 0:
		log.Info("api key authentication disabled")
	}
}

// Authenticate evaluates providers until one succeeds.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*Result, *AuthError) {
	if m == nil {
		return nil, nil
	}
	providers := m.Providers()
	if len(providers) == 0 {
		return nil, nil
	}

	var invalid bool
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		res, authErr := provider.Authenticate(ctx, r)
		if authErr == nil {
			return res, nil
		}
		switch authErr.Code {
		case AuthErrorCodeNotHandled, AuthErrorCodeNoCredentials:
			continue
		case AuthErrorCodeInvalidCredential:
			invalid = true
			continue
		}
		return nil, authErr
	}

	if invalid {
		return nil, NewInvalidCredentialError()
	}
	return nil, NewNoCredentialsError()
}
