package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 8000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	initial, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	reloaded := make(chan *config.Config, 4)
	w, err := NewWatcher(path, func(cfg *config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.SetConfig(initial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Run(ctx)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	if err = os.WriteFile(path, []byte("port: 8000\napi-keys:\n  - sk-reloaded\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "sk-reloaded" {
			t.Fatalf("reloaded keys = %v", cfg.APIKeys)
		}
		if w.Config() != cfg {
			t.Fatalf("watcher did not record the reloaded config")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("config was not reloaded")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 8000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	calls := 0
	w, err := NewWatcher(path, func(*config.Config) { calls++ })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer func() { _ = w.watcher.Close() }()
	w.SetConfig(config.Default())

	w.reloadConfigIfChanged()
	if calls != 0 {
		t.Fatalf("unchanged file triggered %d reloads", calls)
	}

	if err = os.WriteFile(path, []byte("port: 9000\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	w.reloadConfigIfChanged()
	w.reloadConfigIfChanged()
	if calls != 1 || w.Config().Port != 9000 {
		t.Fatalf("calls = %d, port = %d", calls, w.Config().Port)
	}
}

func TestDescribeChanges(t *testing.T) {
	oldCfg := config.Default()
	newCfg := config.Default()
	newCfg.Debug = true
	newCfg.Port = 9000
	changes := describeChanges(oldCfg, newCfg)
	if len(changes) != 2 {
		t.Fatalf("changes = %q", changes)
	}
}
