// Package daemon runs the background workers: periodic retention sweeps and
// anything else that must outlive a single request.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DaemonFunc represents the work a daemon does.
type DaemonFunc func(ctx context.Context, name string) error

// Manager supervises multiple daemons and restarts them if they crash.
type Manager struct {
	logger  *slog.Logger
	daemons map[string]DaemonFunc
	wg      sync.WaitGroup
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		daemons: make(map[string]DaemonFunc),
	}
}

// Add registers a daemon by name.
func (m *Manager) Add(name string, fn DaemonFunc) {
	m.daemons[name] = fn
}

// Start runs all daemons in their own goroutines.
func (m *Manager) Start(ctx context.Context) {
	for name, fn := range m.daemons {
		m.wg.Add(1)
		go m.runDaemon(ctx, name, fn)
	}
}

// Wait blocks until all daemons have stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// runDaemon supervises a single daemon, restarting on error.
func (m *Manager) runDaemon(ctx context.Context, name string, fn DaemonFunc) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Daemon received shutdown signal", "daemon", name)
			return
		default:
			err := fn(ctx, name)
			if err != nil {
				m.logger.Error("Daemon crashed, restarting in 2s", "daemon", name, "error", err)
				time.Sleep(2 * time.Second)
				continue
			}
			m.logger.Info("Daemon exited cleanly", "daemon", name)
			return
		}
	}
}
