package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type checkerState struct {
	checker   Checker
	enabled   bool
	timeout   time.Duration
	critical  bool
	lastCheck time.Time
}

// Manager runs registered checks on demand and in the background.
type Manager struct {
	checkers      map[string]*checkerState
	lastResults   map[string]CheckResult
	started       bool
	checkInterval time.Duration
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:      make(map[string]*checkerState),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = &checkerState{
		checker:  checker,
		enabled:  true,
		timeout:  checker.Timeout(),
		critical: checker.Critical(),
	}
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.Critical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// SetEnabled turns a registered checker on or off.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.checkers[name]
	if !ok {
		return fmt.Errorf("checker %s not found", name)
	}
	state.enabled = enabled
	if !enabled {
		delete(m.lastResults, name)
	}
	return nil
}

// Check runs every enabled checker concurrently and remembers the results.
func (m *Manager) Check(ctx context.Context) Report {
	start := time.Now()
	m.mu.RLock()
	states := make(map[string]*checkerState, len(m.checkers))
	for name, state := range m.checkers {
		if state.enabled {
			states[name] = state
		}
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(states))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, state := range states {
		wg.Add(1)
		go func(name string, state *checkerState) {
			defer wg.Done()
			result := m.runCheck(ctx, state)
			mu.Lock()
			components[name] = result
			mu.Unlock()
		}(name, state)
	}
	wg.Wait()

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	report := summarize(components)
	report.Latency = time.Since(start)
	return report
}

// Overall runs the checks and drops the per-component results.
func (m *Manager) Overall(ctx context.Context) Report {
	report := m.Check(ctx)
	report.Components = nil
	return report
}

// LastReport summarizes the most recent results without running checks.
func (m *Manager) LastReport() Report {
	m.mu.RLock()
	components := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		components[name] = result
	}
	m.mu.RUnlock()
	return summarize(components)
}

func (m *Manager) IsReady(ctx context.Context) bool { return m.Overall(ctx).Ready }

// IsLive only reports process liveness; dependency failures never restart us.
func (m *Manager) IsLive(context.Context) bool { return true }

func (m *Manager) runCheck(ctx context.Context, state *checkerState) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, state.timeout)
	defer cancel()

	start := time.Now()
	result := state.checker.Check(checkCtx)
	result.Component = state.checker.Name()
	result.Critical = state.critical
	result.Latency = time.Since(start)
	result.CheckedAt = start

	m.mu.Lock()
	state.lastCheck = start
	m.mu.Unlock()
	return result
}

func summarize(components map[string]CheckResult) Report {
	counts := Counts{Total: len(components)}
	criticalFailures, otherFailures := 0, 0
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			counts.Healthy++
		case StatusDegraded:
			counts.Degraded++
		case StatusUnhealthy:
			counts.Unhealthy++
			if result.Critical {
				criticalFailures++
			} else {
				otherFailures++
			}
		}
		if result.Critical {
			counts.Critical++
		}
	}

	report := Report{CheckedAt: time.Now(), Counts: counts, Components: components}
	switch {
	case counts.Total == 0:
		report.Status = StatusUnknown
		report.Message = "No health checks enabled"
	case criticalFailures > 0:
		report.Status = StatusUnhealthy
		report.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
	case counts.Degraded > 0:
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("%d component(s) degraded", counts.Degraded)
		report.Ready = true
	case otherFailures > 0:
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("%d non-critical component(s) failing", otherFailures)
		report.Ready = true
	default:
		report.Status = StatusHealthy
		report.Message = fmt.Sprintf("All %d components healthy", counts.Total)
		report.Ready = true
	}
	return report
}

// SetCheckInterval changes the background interval. Call before Start.
func (m *Manager) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval > 0 {
		m.checkInterval = interval
	}
}

// Start begins background health checking
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	go m.backgroundChecker(ctx, m.checkInterval)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop stops background health checking
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) backgroundChecker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			report := m.Check(checkCtx)
			cancel()
			if report.Status != StatusHealthy {
				m.logger.Warn("Health degraded",
					zap.String("status", string(report.Status)),
					zap.String("message", report.Message))
			}
		}
	}
}
