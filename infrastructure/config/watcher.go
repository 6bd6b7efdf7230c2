package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DynamicConfig represents runtime-changeable configuration: loader tuning
// and tree limits can be adjusted without a restart.
type DynamicConfig struct {
	Loader   LoaderConfig   `yaml:"loader"`
	Limits   LimitsConfig   `yaml:"limits"`
	Metadata ConfigMetadata `yaml:"metadata"`
}

// ConfigMetadata holds metadata about the configuration
type ConfigMetadata struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

// Watcher watches a dynamic configuration file for changes.
type Watcher struct {
	path        string
	watcher     *fsnotify.Watcher
	current     *DynamicConfig
	mu          sync.RWMutex
	onChange    []func(*DynamicConfig)
	logger      *zap.Logger
	stopCh      chan struct{}
	lastModTime time.Time
}

// NewWatcher loads the initial dynamic configuration and begins watching
// the file for changes.
func NewWatcher(configPath string, logger *zap.Logger) (*Watcher, error) {
	current, err := loadDynamicFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsWatcher.Add(configPath); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	// Also watch the directory for atomic saves (rename operations)
	if err := fsWatcher.Add(filepath.Dir(configPath)); err != nil {
		logger.Warn("Failed to watch config directory", zap.Error(err))
	}

	w := &Watcher{
		path:    configPath,
		watcher: fsWatcher,
		current: current,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// Current returns the active dynamic configuration.
func (w *Watcher) Current() *DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file, debouncing duplicate events by modification
// time. A malformed file keeps the previous configuration active.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("Config file unreadable after change event", zap.Error(err))
		return
	}

	w.mu.Lock()
	if !info.ModTime().After(w.lastModTime) {
		w.mu.Unlock()
		return
	}
	w.lastModTime = info.ModTime()
	w.mu.Unlock()

	updated, err := loadDynamicFromFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload dynamic config, keeping previous", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = updated
	callbacks := append([]func(*DynamicConfig){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("Dynamic config reloaded",
		zap.String("version", updated.Metadata.Version),
	)
	for _, fn := range callbacks {
		fn(updated)
	}
}

func loadDynamicFromFile(path string) (*DynamicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DynamicConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Loader.MaxBatchSize < 0 || cfg.Limits.MaxTreeDepth < 0 {
		return nil, fmt.Errorf("dynamic config contains negative limits")
	}
	return &cfg, nil
}
