package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
)

// Pool runs one refresh worker per tracked collection.
//
// The tracked set follows the watched allow-list of asset kinds; the scores
// collection is not an asset kind and is always tracked.
type Pool struct {
	cm        dConfigManager
	collector dCollector

	refreshInterval time.Duration

	mu       sync.Mutex
	workers  map[string]context.CancelFunc
	workerWG sync.WaitGroup

	metricsMu     sync.Mutex
	activeWorkers prometheus.Gauge
}

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	AllowedKinds() []string
	IsAllowed(string) bool
}

type dCollector interface {
	Refresh(ctx context.Context, kind string) error
}

// NewPool creates a new worker pool instance with the provided config manager, collector, and Prometheus registerer.
func NewPool(cm dConfigManager, collector dCollector, refreshInterval time.Duration, reg prometheus.Registerer) (*Pool, error) {
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stats_active_workers",
		Help: "Number of active workers in the stats service.",
	})
	if err := reg.Register(activeWorkers); err != nil {
		return nil, fmt.Errorf("failed to register active workers gauge: %v", err)
	}

	return &Pool{
		cm:              cm,
		collector:       collector,
		refreshInterval: refreshInterval,
		workers:         make(map[string]context.CancelFunc),
		activeWorkers:   activeWorkers,
	}, nil
}

// Run orchestrates and manages the pool of workers.
//
// It watches the dynamic configuration and keeps one worker per tracked
// collection, each periodically refreshing that collection's gauges.
//
// This is blocking until an error occurs or the context is canceled and all workers are done.
//
// Always returns a non-nil error, which is either a context error or a watcher error.
func (m *Pool) Run(ctx context.Context) error {
	slog.Info("Stats worker pool started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := m.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	// Initial sync
	m.syncWorkers(ctx)

	// Debounce timer for handling bursts of events
	debounceDuration := 5 * time.Second
	debounceTimer := time.NewTimer(debounceDuration)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker pool")
			m.workerWG.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDuration)

		case <-debounceTimer.C:
			// Timer expired, perform the resync
			slog.Info("Resyncing workers after configuration change")
			m.syncWorkers(ctx)
			slog.Debug("Completed resyncing workers")

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// tracked returns the collections the pool should currently watch.
func (m *Pool) tracked() []string {
	kinds := m.cm.AllowedKinds()
	out := make([]string, 0, len(kinds)+1)
	out = append(out, kinds...)
	return append(out, constants.ScoresKind)
}

// syncWorkers diffs the tracked set and starts/stops goroutines.
func (m *Pool) syncWorkers(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// stop removed
	for kind, cancel := range m.workers {
		if kind == constants.ScoresKind {
			continue
		}
		if !m.cm.IsAllowed(kind) {
			cancel()
			delete(m.workers, kind)
		}
	}
	// start added
	for _, kind := range m.tracked() {
		if _, ok := m.workers[kind]; ok {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker sync")
			return // normal shutdown
		default:
		}
		kindCtx, cancel := context.WithCancel(ctx)
		m.workers[kind] = cancel
		slog.Info("Starting collection worker", "kind", kind)
		m.workerWG.Add(1)
		go m.kindWorker(kindCtx, kind)
	}
}

// kindWorker refreshes the gauges of a single collection until ctx is canceled.
func (m *Pool) kindWorker(ctx context.Context, kind string) {
	defer m.workerWG.Done()

	m.metricsMu.Lock()
	m.activeWorkers.Inc()
	m.metricsMu.Unlock()

	defer func() {
		m.metricsMu.Lock()
		m.activeWorkers.Dec()
		m.metricsMu.Unlock()
	}()

	baseBackoff := 5 * time.Second
	maxBackoff := 30 * time.Second
	backoff := baseBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := m.collector.Refresh(ctx, kind)

			wait := m.refreshInterval
			if err != nil {
				slog.Warn("Failed to refresh collection stats", "kind", kind, "err", err)
				// #nosec:G404 We don't need cryptographic randomness.
				wait = time.Duration(rand.Int63n(int64(backoff)))
				backoff = min(backoff*2, maxBackoff)
			} else {
				backoff = baseBackoff
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				slog.Debug("Collection worker context canceled", "kind", kind)
				return // normal shutdown
			}
		}
	}
}
