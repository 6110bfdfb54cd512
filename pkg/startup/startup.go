package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is a unit of service infrastructure with a lifecycle. Dependencies
// declare what they require so the manager can start them in order and stop
// them in reverse.
type Dependency interface {
	Name() string
	Requires() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts start/stop closures into a Dependency.
type Func struct {
	DependencyName string
	DependsOn      []string
	StartFunc      func(ctx context.Context) error
	StopFunc       func(ctx context.Context) error
}

func (f Func) Name() string       { return f.DependencyName }
func (f Func) Requires() []string { return f.DependsOn }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Manager starts registered dependencies in requirement order, retrying the
// whole set with fibonacci backoff until maxAttempts is exhausted.
type Manager struct {
	dependencies map[string]Dependency
	order        []string
	statuses     map[string]status
	logger       ectologger.Logger
	maxAttempts  int
}

func NewManager(logger ectologger.Logger, maxAttempts int) *Manager {
	return &Manager{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]status),
		logger:       logger,
		maxAttempts:  maxAttempts,
	}
}

func (m *Manager) Add(dependency Dependency) {
	if _, ok := m.dependencies[dependency.Name()]; !ok {
		m.order = append(m.order, dependency.Name())
	}
	m.dependencies[dependency.Name()] = dependency
}

// Start brings up every registered dependency. Already-started dependencies
// are skipped on retry, so a failure partway through only retries the rest.
func (m *Manager) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range m.order {
			if err := m.startDependency(ctx, m.dependencies[name]); err != nil {
				m.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}

		if lastErr == nil {
			return nil
		}

		if attempt >= m.maxAttempts {
			break
		}

		m.logger.Infof("Retrying in %d seconds (attempt %d/%d)", a, attempt, m.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a) * time.Second):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *Manager) startDependency(ctx context.Context, dependency Dependency) error {
	if m.statuses[dependency.Name()] == statusStarted {
		return nil
	}

	for _, required := range dependency.Requires() {
		requiredDep, ok := m.dependencies[required]
		if !ok {
			return fmt.Errorf("dependency '%s' requires unregistered dependency '%s'", dependency.Name(), required)
		}
		if m.statuses[required] != statusStarted {
			if err := m.startDependency(ctx, requiredDep); err != nil {
				return err
			}
		}
	}

	m.logger.WithField("dependency", dependency.Name()).Infof("Starting dependency '%s'", dependency.Name())
	m.statuses[dependency.Name()] = statusPending
	if err := dependency.Start(ctx); err != nil {
		m.statuses[dependency.Name()] = statusFailed
		return err
	}
	m.statuses[dependency.Name()] = statusStarted
	return nil
}

// Stop shuts down started dependencies in reverse registration order. Stop
// continues past individual failures so one stuck dependency does not leave
// the rest running.
func (m *Manager) Stop(ctx context.Context) error {
	var lastErr error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if m.statuses[name] != statusStarted {
			continue
		}

		m.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := m.dependencies[name].Stop(ctx); err != nil {
			m.logger.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			lastErr = err
			continue
		}
		m.statuses[name] = statusStopped
	}
	return lastErr
}
