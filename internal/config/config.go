package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGatewayPort            = 8000
	DefaultControllerPort         = 21001
	DefaultHeartBeatExpiration    = 90
	DefaultProbeTimeout           = 5
	DefaultWorkerTimeout          = 100
	DefaultWorkerStreamTimeout    = 120
	DefaultControllerQueryTimeout = 10
	DefaultOwnedBy                = "modelrelay"
	DefaultTemperature            = 0.7
	DefaultTopP                   = 1.0
	DefaultRepetitionPenalty      = 1.0
	DefaultMaxNewTokens           = 512
	DefaultInputCharLimit         = 12000
	DefaultPprofAddr              = "127.0.0.1:6060"

	TextModeCumulative  = "cumulative"
	TextModeIncremental = "incremental"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the network interface the gateway binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the gateway listen port.
	Port int `yaml:"port" json:"port"`

	// Controller configures the registry role and how other roles reach it.
	Controller ControllerConfig `yaml:"controller" json:"controller"`

	// Gateway configures the OpenAI-compatible surface.
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	// Worker configures outbound calls to the generation worker.
	Worker WorkerConfig `yaml:"worker" json:"worker"`

	// Chat configures the terminal chat client.
	Chat ChatConfig `yaml:"chat" json:"chat"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir overrides the directory used for log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxTotalSizeMB bounds the total size of the log directory. <= 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// Pprof exposes net/http/pprof on its own listener.
	Pprof PprofConfig `yaml:"pprof" json:"pprof"`
}

// PprofConfig holds the profiling listener settings.
type PprofConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Addr   string `yaml:"addr" json:"addr"`
}

// ControllerConfig holds registry settings.
type ControllerConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`

	// Address is the base URL other roles use to reach a remote controller,
	// e.g. "http://10.0.0.5:21001". Empty means the local controller port.
	Address string `yaml:"address" json:"address"`

	// HeartBeatExpiration is the liveness window in seconds.
	HeartBeatExpiration int `yaml:"heart-beat-expiration" json:"heart-beat-expiration"`

	// SweepInterval is how often expired workers are swept, in seconds.
	// Zero or anything above the expiration window uses the window itself.
	SweepInterval int `yaml:"sweep-interval" json:"sweep-interval"`

	// ProbeTimeout bounds the worker status probe in seconds.
	ProbeTimeout int `yaml:"probe-timeout" json:"probe-timeout"`

	// QueryTimeout bounds gateway and chat lookups against a remote controller, in seconds.
	QueryTimeout int `yaml:"query-timeout" json:"query-timeout"`
}

// GatewayConfig holds gateway-only settings.
type GatewayConfig struct {
	Enable bool `yaml:"enable" json:"enable"`

	// OwnedBy is reported as owned_by in /v1/models.
	OwnedBy string `yaml:"owned-by" json:"owned-by"`
}

// WorkerConfig holds settings for calls to the generation worker.
type WorkerConfig struct {
	// Timeout bounds non-streaming generate calls, in seconds.
	Timeout int `yaml:"timeout" json:"timeout"`

	// StreamTimeout bounds the stream open and the idle gap between frames, in seconds.
	StreamTimeout int `yaml:"stream-timeout" json:"stream-timeout"`

	// TextMode is "cumulative" when each frame carries the full text so far,
	// or "incremental" when it carries only the new piece.
	TextMode string `yaml:"text-mode" json:"text-mode"`
}

// ChatConfig holds defaults for the terminal chat client.
type ChatConfig struct {
	Model             string  `yaml:"model" json:"model"`
	SystemPrompt      string  `yaml:"system-prompt" json:"system-prompt"`
	Temperature       float64 `yaml:"temperature" json:"temperature"`
	TopP              float64 `yaml:"top-p" json:"top-p"`
	RepetitionPenalty float64 `yaml:"repetition-penalty" json:"repetition-penalty"`
	MaxNewTokens      int     `yaml:"max-new-tokens" json:"max-new-tokens"`
	InputCharLimit    int     `yaml:"input-char-limit" json:"input-char-limit"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the YAML file at path, applies environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional behaves like LoadConfig but, when optional is true, a missing
// or empty file yields the default configuration instead of an error.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		if !optional || !errors.Is(errRead, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", errRead)
		}
		data = nil
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if errParse := yaml.Unmarshal(data, cfg); errParse != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", errParse)
		}
	} else if !optional {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyEnvOverrides() {
	if v, ok := lookupEnv("HOST"); ok {
		cfg.Host = v
		cfg.Controller.Host = v
	}
	if v, ok := lookupEnvInt("API_PORT", "PORT"); ok {
		cfg.Port = v
	}
	if v, ok := lookupEnvInt("CONTROLLER_PORT"); ok {
		cfg.Controller.Port = v
	}
	if v, ok := lookupEnv("CONTROLLER_ADDRESS"); ok {
		cfg.Controller.Address = v
	}
	if v, ok := lookupEnv("MODEL_NAME"); ok {
		cfg.Chat.Model = v
	}
	if v, ok := lookupEnv("API_KEY"); ok {
		cfg.APIKeys = append(cfg.APIKeys, v)
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok && strings.EqualFold(v, "debug") {
		cfg.Debug = true
	}
	if v, ok := lookupEnv("LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := lookupEnvInt("WORKER_TIMEOUT"); ok {
		cfg.Worker.Timeout = v
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Port <= 0 {
		cfg.Port = DefaultGatewayPort
	}
	if cfg.Controller.Port <= 0 {
		cfg.Controller.Port = DefaultControllerPort
	}
	if cfg.Controller.HeartBeatExpiration <= 0 {
		cfg.Controller.HeartBeatExpiration = DefaultHeartBeatExpiration
	}
	if cfg.Controller.SweepInterval <= 0 || cfg.Controller.SweepInterval > cfg.Controller.HeartBeatExpiration {
		cfg.Controller.SweepInterval = cfg.Controller.HeartBeatExpiration
	}
	if cfg.Controller.ProbeTimeout <= 0 {
		cfg.Controller.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Controller.QueryTimeout <= 0 {
		cfg.Controller.QueryTimeout = DefaultControllerQueryTimeout
	}
	cfg.Controller.Address = strings.TrimRight(strings.TrimSpace(cfg.Controller.Address), "/")
	if strings.TrimSpace(cfg.Gateway.OwnedBy) == "" {
		cfg.Gateway.OwnedBy = DefaultOwnedBy
	}
	if cfg.Worker.Timeout <= 0 {
		cfg.Worker.Timeout = DefaultWorkerTimeout
	}
	if cfg.Worker.StreamTimeout <= 0 {
		cfg.Worker.StreamTimeout = DefaultWorkerStreamTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Worker.TextMode)) {
	case TextModeIncremental:
		cfg.Worker.TextMode = TextModeIncremental
	default:
		cfg.Worker.TextMode = TextModeCumulative
	}
	if cfg.Chat.Temperature <= 0 {
		cfg.Chat.Temperature = DefaultTemperature
	}
	if cfg.Chat.TopP <= 0 {
		cfg.Chat.TopP = DefaultTopP
	}
	if cfg.Chat.RepetitionPenalty <= 0 {
		cfg.Chat.RepetitionPenalty = DefaultRepetitionPenalty
	}
	if cfg.Chat.MaxNewTokens <= 0 {
		cfg.Chat.MaxNewTokens = DefaultMaxNewTokens
	}
	if cfg.Chat.InputCharLimit <= 0 {
		cfg.Chat.InputCharLimit = DefaultInputCharLimit
	}
	cfg.Pprof.Addr = strings.TrimSpace(cfg.Pprof.Addr)
	if cfg.Pprof.Addr == "" {
		cfg.Pprof.Addr = DefaultPprofAddr
	}
}

// GatewayListenAddr returns the host:port the gateway binds to.
func (cfg *Config) GatewayListenAddr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// ControllerListenAddr returns the host:port the controller binds to.
func (cfg *Config) ControllerListenAddr() string {
	return net.JoinHostPort(cfg.Controller.Host, strconv.Itoa(cfg.Controller.Port))
}

// ControllerURL returns the base URL used to reach the controller.
func (cfg *Config) ControllerURL() string {
	if cfg.Controller.Address != "" {
		return cfg.Controller.Address
	}
	host := strings.TrimSpace(cfg.Controller.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Controller.Port))
}

// HeartBeatExpiration returns the liveness window.
func (cfg *Config) HeartBeatExpiration() time.Duration {
	return time.Duration(cfg.Controller.HeartBeatExpiration) * time.Second
}

// SweepInterval returns the sweeper period.
func (cfg *Config) SweepInterval() time.Duration {
	return time.Duration(cfg.Controller.SweepInterval) * time.Second
}

// ProbeTimeout returns the worker status probe budget.
func (cfg *Config) ProbeTimeout() time.Duration {
	return time.Duration(cfg.Controller.ProbeTimeout) * time.Second
}

// ControllerQueryTimeout returns the budget for remote controller lookups.
func (cfg *Config) ControllerQueryTimeout() time.Duration {
	return time.Duration(cfg.Controller.QueryTimeout) * time.Second
}

// WorkerTimeout returns the budget for non-streaming generate calls.
func (cfg *Config) WorkerTimeout() time.Duration {
	return time.Duration(cfg.Worker.Timeout) * time.Second
}

// WorkerStreamTimeout returns the stream open and idle budget.
func (cfg *Config) WorkerStreamTimeout() time.Duration {
	return time.Duration(cfg.Worker.StreamTimeout) * time.Second
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

func lookupEnvInt(keys ...string) (int, bool) {
	raw, ok := lookupEnv(keys...)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
