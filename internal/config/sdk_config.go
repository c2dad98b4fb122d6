// Package config provides configuration management for the modelrelay controller,
// gateway and chat client. It handles loading and parsing YAML configuration files,
// applying environment overrides and defaults, and exposes the settings shared by
// the HTTP surfaces (API keys, outbound proxy, streaming behaviour).
package config

// SDKConfig holds the settings consumed by the HTTP handlers and the access layer.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server used for outbound requests
	// to workers and to a remote controller.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// APIKeys is a list of keys accepted as bearer tokens on the gateway.
	// An empty list disables the check.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the gateway emits SSE heartbeats (": keep-alive\n\n").
	// <= 0 disables keep-alives. Default is 0.
	KeepAliveSeconds int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty"`
}
