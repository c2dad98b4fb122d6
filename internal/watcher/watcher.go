// Package watcher watches the configuration file and triggers hot reloads.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/modelrelay/modelrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration when its file changes and hands the new
// value to a callback.
type Watcher struct {
	configPath string

	mu             sync.RWMutex
	config         *config.Config
	lastConfigHash string

	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer

	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher
}

// NewWatcher creates a watcher for configPath.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	absPath, errAbs := filepath.Abs(configPath)
	if errAbs != nil {
		absPath = configPath
	}
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     filepath.Clean(absPath),
		reloadCallback: reloadCallback,
		watcher:        watcher,
	}, nil
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
	if data, err := os.ReadFile(w.configPath); err == nil && len(data) > 0 {
		w.lastConfigHash = hashBytes(data)
	}
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Run watches until ctx is cancelled, then releases the fsnotify handle.
// The parent directory is watched so editors that replace the file by rename
// are still noticed.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if errAdd := w.watcher.Add(dir); errAdd != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, errAdd)
		_ = w.watcher.Close()
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)

	defer func() {
		w.stopConfigReloadTimer()
		_ = w.watcher.Close()
	}()
	w.processEvents(ctx)
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
