package access

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// ConfigKeyProviderName identifies the provider backed by the api-keys list.
const ConfigKeyProviderName = "config-api-key"

type configKeyProvider struct {
	keys []string
}

// NewConfigKeyProvider returns a provider accepting any of keys, or nil when
// no usable key is configured.
func NewConfigKeyProvider(keys []string) Provider {
	normalized := normalizeKeys(keys)
	if len(normalized) == 0 {
		return nil
	}
	return &configKeyProvider{keys: normalized}
}

func (p *configKeyProvider) Identifier() string {
	return ConfigKeyProviderName
}

func (p *configKeyProvider) Authenticate(_ context.Context, r *http.Request) (*Result, *AuthError) {
	if p == nil || len(p.keys) == 0 {
		return nil, NewNotHandledError()
	}
	authHeader := r.Header.Get("Authorization")
	apiKeyHeader := r.Header.Get("X-Api-Key")
	if authHeader == "" && apiKeyHeader == "" {
		return nil, NewNoCredentialsError()
	}

	candidates := []struct {
		value  string
		source string
	}{
		{extractBearerToken(authHeader), "authorization"},
		{apiKeyHeader, "x-api-key"},
	}
	for _, candidate := range candidates {
		if candidate.value == "" {
			continue
		}
		if p.matches(candidate.value) {
			return &Result{
				Provider:  p.Identifier(),
				Principal: candidate.value,
				Metadata:  map[string]string{"source": candidate.source},
			}, nil
		}
	}
	return nil, NewInvalidCredentialError()
}

func (p *configKeyProvider) matches(value string) bool {
	for _, key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(value)) == 1 {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func normalizeKeys(keys []string) []string {
	normalized := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, exists := seen[trimmedKey]; exists {
			continue
		}
		seen[trimmedKey] = struct{}{}
		normalized = append(normalized, trimmedKey)
	}
	return normalized
}
