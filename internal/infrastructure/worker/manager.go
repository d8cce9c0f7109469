package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerManager manages lifecycle of multiple workers.
// Workers stop in reverse registration order.
type WorkerManager struct {
	workers []Worker
	logger  *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{
		workers: make([]Worker, 0),
		logger:  logger,
	}
}

// Register adds a worker to be managed
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, worker)
	m.logger.Info("Worker registered",
		zap.String("worker_name", worker.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts all registered workers. A worker that fails to start
// stops the ones already running and the error is returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("Starting all workers", zap.Int("count", len(m.workers)))

	for i, worker := range m.workers {
		if err := worker.Start(m.ctx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", worker.Name()),
				zap.Error(err))
			m.stopWorkers(m.workers[:i])
			m.cancel()
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.logger.Info("Worker started", zap.String("worker_name", worker.Name()))
	}

	m.isRunning = true
	return nil
}

// StopAll gracefully stops all workers
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		m.logger.Warn("Workers not running, nothing to stop")
		return nil
	}
	m.isRunning = false

	m.logger.Info("Stopping all workers", zap.Int("count", len(m.workers)))

	if m.cancel != nil {
		m.cancel()
	}

	if failed := m.stopWorkers(m.workers); failed > 0 {
		return fmt.Errorf("failed to stop %d workers", failed)
	}

	m.logger.Info("All workers stopped successfully")
	return nil
}

func (m *WorkerManager) stopWorkers(workers []Worker) int {
	failed := 0
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			failed++
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", w.Name()))
	}
	return failed
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
