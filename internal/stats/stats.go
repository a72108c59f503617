// Package stats runs the background half of the system: a pool of workers
// refreshing per-collection statistics and the Prometheus endpoint serving
// them.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Service ties the refresh worker pool to the metrics server and owns their
// shared lifecycle. Both halves run until one of them stops, then the other
// is wound down within a bounded window.
type Service struct {
	pool    WorkerPool
	metrics MetricsServer

	// ctx interrupts everything outright. It must be the parent of
	// gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// gracefulCtx requests an orderly stop: workers finish their cycle, the
	// metrics server drains its connections.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	running chan struct{} // Closed whenever Run is not executing.
}

// WorkerPool is an interface that defines the methods for a worker pool.
type WorkerPool interface {
	Run(ctx context.Context) error
}

// MetricsServer is an interface that defines the methods for a metrics server.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

var (
	// errServiceClosed is returned when the service is already closed.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when the service takes too long to shut down.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates a stats service over the provided worker pool and metrics server.
func New(ctx context.Context, pool WorkerPool, metrics MetricsServer, args ...Option) *Service {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: 2 * time.Minute,
	}
	for _, arg := range args {
		arg(&opts)
	}

	// Closed from the start so that Quit before Run does not block.
	running := make(chan struct{})
	close(running)

	return &Service{
		pool:    pool,
		metrics: metrics,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the refresh workers and the metrics endpoint and blocks until
// both have stopped, or until one has stopped and the other stayed degraded
// past the allowed window.
func (s *Service) Run() error {
	select {
	case <-s.gracefulCtx.Done():
		return errServiceClosed
	default:
	}

	slog.Info("Stats service starting", "degraded_window", s.maxDegradedDuration)

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel()

	results := make(chan error, 2)
	go func() { results <- s.refreshLoop() }()
	go func() { results <- s.serveMetrics() }()

	// Either half stopping winds down the other through gracefulCtx. Give
	// the survivor a bounded window before giving up on its error.
	err := <-results
	slog.Info("Stats service winding down")

	select {
	case other := <-results:
		return errors.Join(err, other)
	case <-time.After(s.maxDegradedDuration):
		slog.Warn("Stats service teardown stalled", "waited", s.maxDegradedDuration)
		return errors.Join(err, ErrTeardownTimeout)
	}
}

// refreshLoop runs the worker pool until the graceful context is canceled.
func (s *Service) refreshLoop() error {
	defer s.gracefulCancel()

	slog.Info("Starting statistics workers")
	if err := s.pool.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Statistics workers failed", "err", err)
		return fmt.Errorf("statistics workers: %v", err)
	}
	slog.Info("Statistics workers stopped")
	return nil
}

// serveMetrics exposes the registry until told to stop or the listener fails.
func (s *Service) serveMetrics() error {
	defer s.gracefulCancel()

	slog.Info("Starting metrics endpoint")
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		slog.Info("Closing metrics endpoint", "reason", s.ctx.Err())
		s.metrics.Close()
		return nil
	case <-s.gracefulCtx.Done():
		if err := s.metrics.Shutdown(s.ctx); err != nil {
			slog.Error("Metrics endpoint shutdown failed", "err", err)
			return fmt.Errorf("metrics shutdown: %v", err)
		}
	case err := <-serveErr:
		if err != nil {
			slog.Error("Metrics endpoint failed", "err", err)
			return fmt.Errorf("metrics endpoint: %v", err)
		}
	}
	slog.Info("Metrics endpoint stopped")
	return nil
}

// Quit stops the service and blocks until Run has returned. A forced quit
// cancels in-flight work and closes the metrics listener outright.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping stats service", "force", force)

	if force {
		s.cancel()
		s.metrics.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running
}
