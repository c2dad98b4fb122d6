package watcher

import (
	"fmt"
	"os"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

// scheduleConfigReload coalesces bursts of events into one reload.
func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	newHash := hashBytes(data)

	w.mu.RLock()
	currentHash := w.lastConfigHash
	oldConfig := w.config
	w.mu.RUnlock()
	if currentHash == newHash {
		log.Debugf("config file content unchanged, skipping reload")
		return
	}

	newConfig, errLoad := config.LoadConfig(w.configPath)
	if errLoad != nil {
		log.Errorf("failed to reload config: %v", errLoad)
		return
	}
	w.mu.Lock()
	w.config = newConfig
	w.lastConfigHash = newHash
	w.mu.Unlock()

	for _, change := range describeChanges(oldConfig, newConfig) {
		log.Debugf("config change: %s", change)
	}
	log.Infof("config reloaded from %s", w.configPath)
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
}

// describeChanges lists the hot-reloadable settings that differ, plus the
// ones that only take effect after a restart.
func describeChanges(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var changes []string
	if oldCfg.Debug != newCfg.Debug {
		changes = append(changes, fmt.Sprintf("debug: %t -> %t", oldCfg.Debug, newCfg.Debug))
	}
	if len(oldCfg.APIKeys) != len(newCfg.APIKeys) {
		changes = append(changes, fmt.Sprintf("api-keys: %d -> %d entries", len(oldCfg.APIKeys), len(newCfg.APIKeys)))
	}
	if oldCfg.Streaming.KeepAliveSeconds != newCfg.Streaming.KeepAliveSeconds {
		changes = append(changes, fmt.Sprintf("streaming.keepalive-seconds: %d -> %d", oldCfg.Streaming.KeepAliveSeconds, newCfg.Streaming.KeepAliveSeconds))
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile || oldCfg.LogDir != newCfg.LogDir {
		changes = append(changes, "log output")
	}
	if oldCfg.GatewayListenAddr() != newCfg.GatewayListenAddr() || oldCfg.ControllerListenAddr() != newCfg.ControllerListenAddr() {
		changes = append(changes, "listen address (restart required)")
	}
	return changes
}
