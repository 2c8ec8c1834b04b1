package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadFunc receives a freshly loaded and validated config
type ReloadFunc func(cfg *Config)

// Watcher reloads the config when the config file or its rules file changes.
// Invalid configs are logged and dropped; the callback only sees valid ones.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	files    map[string]struct{}
	debounce time.Duration
	onReload ReloadFunc

	done     chan struct{}
	timer    *time.Timer
	timerMu  sync.Mutex
	stopOnce sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	ConfigPath string
	RulesFile  string
	Debounce   time.Duration
	OnReload   ReloadFunc
}

// NewWatcher creates a config watcher. Directories are watched instead of
// files so that editors replacing the file by rename are picked up.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.OnReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}
	loader := NewLoader(config.ConfigPath)
	configPath := loader.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}

	files := map[string]struct{}{filepath.Clean(configPath): {}}
	if config.RulesFile != "" {
		rules := config.RulesFile
		if !filepath.IsAbs(rules) {
			rules = filepath.Join(filepath.Dir(configPath), rules)
		}
		files[filepath.Clean(rules)] = struct{}{}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		loader:   loader,
		files:    files,
		debounce: config.Debounce,
		onReload: config.OnReload,
		done:     make(chan struct{}),
	}, nil
}

// Start starts watching
func (w *Watcher) Start() error {
	dirs := make(map[string]struct{})
	for file := range w.files {
		dirs[filepath.Dir(file)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.eventLoop()

	log.Info().
		Str("path", w.loader.GetConfigPath()).
		Int("files", len(w.files)).
		Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	log.Info().Msg("Config watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if _, watched := w.files[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of events into one reload
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Error().Err(err).Msg("Config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Reloaded config is invalid, keeping previous")
		return
	}

	log.Info().Str("path", w.loader.GetConfigPath()).Msg("Config reloaded")
	w.onReload(cfg)
}
