package worker

import (
	"context"
	"sync"
	"time"

	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/metrics"
)

// Worker is a periodic background task
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type funcWorker struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (w funcWorker) Name() string                  { return w.name }
func (w funcWorker) Interval() time.Duration       { return w.interval }
func (w funcWorker) Run(ctx context.Context) error { return w.run(ctx) }

// Func adapts a function into a Worker
func Func(name string, interval time.Duration, run func(ctx context.Context) error) Worker {
	return funcWorker{name: name, interval: interval, run: run}
}

// Manager runs registered workers, each on its own ticker
type Manager struct {
	workers    []Worker
	runTimeout time.Duration
	logger     logger.Logger
	metrics    *metrics.Metrics

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewManager creates a manager. Each run is bounded by runTimeout.
func NewManager(runTimeout time.Duration, logger logger.Logger, metrics *metrics.Metrics) *Manager {
	if runTimeout <= 0 {
		runTimeout = time.Minute
	}
	return &Manager{
		runTimeout: runTimeout,
		logger:     logger,
		metrics:    metrics,
		stopChan:   make(chan struct{}),
	}
}

// Register adds a worker. Workers with a non positive interval are ignored.
func (m *Manager) Register(w Worker) {
	if w.Interval() <= 0 {
		m.logger.Warn("Worker disabled, interval is not positive", "worker", w.Name())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", "worker", w.Name(), "interval", w.Interval().String())
}

// Start launches every registered worker. Each runs once immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workers {
		m.wg.Add(1)
		go m.runWorker(ctx, w)
	}
	m.logger.Info("Workers started", "count", len(m.workers))
}

func (m *Manager) runWorker(ctx context.Context, w Worker) {
	defer m.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	m.execute(ctx, w)

	for {
		select {
		case <-ticker.C:
			m.execute(ctx, w)
		case <-ctx.Done():
			m.logger.Info("Worker stopped", "worker", w.Name())
			return
		case <-m.stopChan:
			m.logger.Info("Worker stopped", "worker", w.Name())
			return
		}
	}
}

func (m *Manager) execute(ctx context.Context, w Worker) {
	runCtx, cancel := context.WithTimeout(ctx, m.runTimeout)
	defer cancel()

	start := time.Now()
	if err := w.Run(runCtx); err != nil {
		m.metrics.BackgroundTaskRuns.WithLabelValues(w.Name(), "error").Inc()
		m.logger.Error("Worker run failed", "worker", w.Name(), "error", err)
		return
	}
	m.metrics.BackgroundTaskRuns.WithLabelValues(w.Name(), "success").Inc()
	m.logger.Debug("Worker run finished", "worker", w.Name(), "duration", time.Since(start).String())
}

// Stop signals every worker and waits for them to return
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// Names lists the registered workers
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.workers))
	for i, w := range m.workers {
		names[i] = w.Name()
	}
	return names
}
