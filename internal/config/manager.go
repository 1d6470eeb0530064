package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes one reload of a watched file.
type ChangeEvent struct {
	File      string
	Action    string // initial_load, create, modify, polling_detected
	Data      []byte
	Timestamp time.Time
}

// ChangeHandler applies a changed file. An error keeps the previous
// configuration in effect.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a config directory and hands file contents to the handlers
// registered for each file name.
type Manager struct {
	dir      string
	handlers map[string][]ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	done     sync.WaitGroup
	logger   *zap.Logger
	mu       sync.Mutex
	// serializes loads so handlers see changes in order
	loadMu sync.Mutex

	debounce      time.Duration
	pollInterval  time.Duration
	enablePolling bool
}

// NewManager creates a manager for dir.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Manager{
		dir:          dir,
		handlers:     make(map[string][]ChangeHandler),
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		logger:       logger,
		debounce:     50 * time.Millisecond,
		pollInterval: 10 * time.Second,
	}, nil
}

// RegisterHandler registers a handler for a file name in the watched directory.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// EnablePolling adds a modification-time poll for filesystems where fsnotify
// is unreliable (some container volume mounts).
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enablePolling = true
	if interval > 0 {
		m.pollInterval = interval
	}
}

// Start loads every registered file that exists and begins watching.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	files := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		files = append(files, name)
	}
	polling := m.enablePolling
	m.mu.Unlock()

	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	for _, name := range files {
		path := filepath.Join(m.dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := m.load(path, "initial_load"); err != nil {
			return err
		}
	}

	m.done.Add(1)
	go m.watchLoop(ctx)
	if polling {
		m.done.Add(1)
		go m.pollLoop(ctx, files)
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.dir),
		zap.Int("watched_files", len(files)),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop stops watching and waits for the loops to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	err := m.watcher.Close()
	m.done.Wait()
	m.logger.Info("Configuration manager stopped")
	return err
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop(ctx context.Context, files []string) {
	defer m.done.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	lastMod := make(map[string]time.Time)
	for _, name := range files {
		if info, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
			lastMod[name] = info.ModTime()
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, name := range files {
				path := filepath.Join(m.dir, name)
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod[name]) {
					continue
				}
				lastMod[name] = info.ModTime()
				if err := m.load(path, "polling_detected"); err != nil {
					m.logger.Error("Failed to reload config file", zap.String("file", name), zap.Error(err))
				}
			}
		}
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	m.mu.Lock()
	_, watched := m.handlers[name]
	m.mu.Unlock()
	if !watched {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	default:
		// Removal keeps the last good configuration.
		return
	}

	// Editors often write in several steps.
	time.Sleep(m.debounce)
	if err := m.load(event.Name, action); err != nil {
		m.logger.Error("Failed to reload config file",
			zap.String("file", name),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) load(path, action string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	name := filepath.Base(path)

	m.mu.Lock()
	handlers := append([]ChangeHandler(nil), m.handlers[name]...)
	m.mu.Unlock()

	event := ChangeEvent{File: name, Action: action, Data: data, Timestamp: time.Now()}
	for _, h := range handlers {
		if err := h(event); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	m.logger.Info("Configuration reloaded", zap.String("file", name), zap.String("action", action))
	return nil
}

// WatchModels registers apply for the models file. apply only runs with a
// configuration that parsed and validated.
func (m *Manager) WatchModels(filename string, apply func(ModelsConfig)) {
	m.RegisterHandler(filename, func(event ChangeEvent) error {
		mc, err := ParseModels(event.Data)
		if err != nil {
			return err
		}
		apply(mc)
		return nil
	})
}
