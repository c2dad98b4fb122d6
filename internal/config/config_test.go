package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"HOST", "API_PORT", "PORT", "CONTROLLER_PORT", "CONTROLLER_ADDRESS", "MODEL_NAME", "API_KEY", "LOG_LEVEL", "LOG_DIR", "WORKER_TIMEOUT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigOptionalMissingFileUsesDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultGatewayPort {
		t.Fatalf("port = %d, want %d", cfg.Port, DefaultGatewayPort)
	}
	if cfg.Controller.Port != DefaultControllerPort {
		t.Fatalf("controller port = %d, want %d", cfg.Controller.Port, DefaultControllerPort)
	}
	if cfg.HeartBeatExpiration() != 90*time.Second {
		t.Fatalf("expiration = %v, want 90s", cfg.HeartBeatExpiration())
	}
	if cfg.SweepInterval() != cfg.HeartBeatExpiration() {
		t.Fatalf("sweep interval = %v, want expiration window", cfg.SweepInterval())
	}
	if cfg.Worker.TextMode != TextModeCumulative {
		t.Fatalf("text mode = %q, want cumulative", cfg.Worker.TextMode)
	}
	if cfg.ControllerURL() != "http://127.0.0.1:21001" {
		t.Fatalf("controller url = %q", cfg.ControllerURL())
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	clearConfigEnv(t)

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: 9000
api-keys:
  - sk-test
controller:
  address: "http://ctrl:21001/"
  heart-beat-expiration: 30
  sweep-interval: 60
worker:
  text-mode: Incremental
streaming:
  keepalive-seconds: 15
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Port)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "sk-test" {
		t.Fatalf("api keys = %v", cfg.APIKeys)
	}
	if cfg.ControllerURL() != "http://ctrl:21001" {
		t.Fatalf("controller url = %q", cfg.ControllerURL())
	}
	if cfg.SweepInterval() != 30*time.Second {
		t.Fatalf("sweep interval = %v, want clamp to 30s", cfg.SweepInterval())
	}
	if cfg.Worker.TextMode != TextModeIncremental {
		t.Fatalf("text mode = %q, want incremental", cfg.Worker.TextMode)
	}
	if cfg.Streaming.KeepAliveSeconds != 15 {
		t.Fatalf("keepalive = %d, want 15", cfg.Streaming.KeepAliveSeconds)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("API_KEY", "sk-env")
	t.Setenv("CONTROLLER_PORT", "22001")
	t.Setenv("MODEL_NAME", "tiny-llm")

	cfg, err := LoadConfigOptional("", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "sk-env" {
		t.Fatalf("api keys = %v", cfg.APIKeys)
	}
	if cfg.Controller.Port != 22001 {
		t.Fatalf("controller port = %d, want 22001", cfg.Controller.Port)
	}
	if cfg.Chat.Model != "tiny-llm" {
		t.Fatalf("chat model = %q", cfg.Chat.Model)
	}
}
