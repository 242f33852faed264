package service

import (
	"log/slog"

	"github.com/panjf2000/ants/v2"
)

// WorkerPool runs settlement session loops on a bounded ants pool.
// Submit blocks while every worker is busy, which back-pressures the consumer.
type WorkerPool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) (*WorkerPool, error) {
	pool, err := ants.NewPool(config.Size, ants.WithPanicHandler(func(p any) {
		logger.Error("Panic recovered in worker", "panic", p)
	}))
	if err != nil {
		return nil, err
	}

	return &WorkerPool{
		pool:   pool,
		logger: logger,
	}, nil
}

// Submit schedules a task on the pool
func (w *WorkerPool) Submit(task func()) error {
	if err := w.pool.Submit(task); err != nil {
		w.logger.Error("Failed to submit task to worker pool", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the worker pool.
func (w *WorkerPool) Shutdown() {
	w.logger.Info("Shutting down worker pool", "running_workers", w.pool.Running())
	w.pool.Release()
}

// Running returns the number of running workers in the pool.
func (w *WorkerPool) Running() int {
	return w.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (w *WorkerPool) Capacity() int {
	return w.pool.Cap()
}
