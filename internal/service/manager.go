package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// Manager owns the long-running services of the process. Services start
// one at a time in registration order, so a service may rely on everything
// registered before it being up (the supervisor polls cameras the registry
// has already seeded). They stop in reverse order.
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	eventBus    *EventBus
	mu          sync.RWMutex
	started     []Service
	stopTimeout time.Duration

	countsMu    sync.Mutex
	eventCounts map[EventType]uint64
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(100),
		stopTimeout: 10 * time.Second,
		eventCounts: make(map[EventType]uint64),
	}
}

// SetStopTimeout bounds each service's Stop during Shutdown. A service that
// overruns it is marked failed and abandoned; shutdown moves on.
func (m *Manager) SetStopTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.stopTimeout = d
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds a service. Services implementing ServiceWithEvents get the
// manager's event bus.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts the registered services in order. A service that fails is
// marked with StatusError and the rest still start; the failures are
// returned joined.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))
	m.monitorEvents(ctx)

	var errs []error
	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
			continue
		}

		m.started = append(m.started, svc)
		status.SetStatus(StatusRunning)
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	return errors.Join(errs...)
}

// monitorEvents counts every event on the bus by type until the bus closes
// or ctx is done
func (m *Manager) monitorEvents(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.countsMu.Lock()
				m.eventCounts[event.Type]++
				m.countsMu.Unlock()
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// EventCounts returns how many events of each type were seen since Start.
// Events dropped by a full subscriber buffer are not counted.
func (m *Manager) EventCounts() map[string]uint64 {
	m.countsMu.Lock()
	defer m.countsMu.Unlock()

	out := make(map[string]uint64, len(m.eventCounts))
	for t, n := range m.eventCounts {
		out[string(t)] = n
	}
	return out
}

// Shutdown stops the started services in reverse order, each bounded by
// the stop timeout. It returns an error only when ctx expires first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.eventBus.Close()

	m.logger.Info("Shutting down services", "count", len(m.started))

	for i := len(m.started) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown timeout: %w", err)
		}
		m.stop(ctx, m.started[i])
	}
	m.started = nil

	m.logger.Info("All services stopped")
	return nil
}

func (m *Manager) stop(ctx context.Context, svc Service) {
	status := m.statuses[svc.Name()]
	status.SetStatus(StatusStopping)
	m.logger.Info("Stopping service", "service", svc.Name())

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Stop(stopCtx) }()

	select {
	case err := <-done:
		if err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
		} else {
			status.SetStatus(StatusStopped)
			m.logger.Info("Service stopped", "service", svc.Name())
		}
	case <-stopCtx.Done():
		status.SetError(fmt.Errorf("stop did not finish within %s", m.stopTimeout))
		m.logger.Warn("Service did not stop in time, abandoning it",
			"service", svc.Name(),
			"timeout", m.stopTimeout,
		)
	}

	m.eventBus.Publish(Event{
		Type:   EventTypeServiceStopped,
		Source: "manager",
		Data:   map[string]interface{}{"service": svc.Name()},
	})
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
