package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/parbench/pkg/logging"
)

// Manager runs registered hooks in reverse order when the process stops
type Manager struct {
	shutdownFuncs []hook
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	doneChan      chan struct{}
	once          sync.Once
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		timeout:  timeout,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, hook{name: name, fn: fn})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.doneChan) })
}

// WaitWithContext blocks until SIGINT/SIGTERM, Trigger, or ctx ends, then runs the hooks
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
		m.Trigger()
	case <-m.doneChan:
		m.logger.Info("Shutdown requested")
	case <-ctx.Done():
		m.Trigger()
		m.Shutdown()
		return ctx.Err()
	}
	m.Shutdown()
	return nil
}

// Shutdown executes all registered shutdown functions under one deadline
// and returns the errors joined.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		h := m.shutdownFuncs[i]
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", map[string]interface{}{"hook": h.name, "error": err})
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	m.shutdownFuncs = nil

	m.logger.Info("Graceful shutdown complete")
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %d hook(s) failed: %v", len(errs), errs)
	}
	return nil
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}

// WaitForJobs polls checkFunc until it reports true or the deadline passes
func WaitForJobs(checkFunc func() bool, pollInterval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if checkFunc() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for jobs: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
