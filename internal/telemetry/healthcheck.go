package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Pinger probes the backend. *backend.Client implements it.
type Pinger interface {
	Ping(ctx context.Context, path string) error
}

// HealthChecker periodically checks backend health.
type HealthChecker struct {
	pinger        Pinger
	path          string
	checkInterval time.Duration
	timeout       time.Duration
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	lastError     atomic.Value // string
	metrics       *Metrics
	eventBus      *EventBus
	logger        *slog.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewHealthChecker creates a health checker and starts probing immediately.
// eventBus and metrics may be nil.
func NewHealthChecker(pinger Pinger, path string, checkInterval, timeout time.Duration, metrics *Metrics, eventBus *EventBus, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	hc := &HealthChecker{
		pinger:        pinger,
		path:          path,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       metrics,
		eventBus:      eventBus,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}

	// unhealthy until the first check
	hc.healthy.Store(false)

	go hc.run()
	return hc
}

func (hc *HealthChecker) run() {
	hc.check()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.check()
		case <-hc.stopCh:
			return
		}
	}
}

func (hc *HealthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	if err := hc.pinger.Ping(ctx, hc.path); err != nil {
		hc.updateHealth(false, err.Error())
		return
	}
	hc.updateHealth(true, "")
}

func (hc *HealthChecker) updateHealth(healthy bool, errMsg string) {
	was := hc.healthy.Swap(healthy)
	_, checked := hc.lastCheck.Load().(time.Time)
	hc.lastCheck.Store(time.Now())
	hc.lastError.Store(errMsg)
	if errMsg != "" {
		hc.logger.Debug("backend health check failed", "error", errMsg)
	}

	hc.metrics.UpdateBackendHealth(healthy)

	if hc.eventBus != nil && (!checked || was != healthy) {
		h := healthy
		hc.eventBus.Publish(Event{
			Type:      EventBackendHealth,
			Timestamp: time.Now(),
			Healthy:   &h,
			Error:     errMsg,
		})
	}
}

// Healthy returns whether the backend is currently healthy.
func (hc *HealthChecker) Healthy() bool {
	return hc.healthy.Load()
}

// LastCheck returns the time of the last health check.
func (hc *HealthChecker) LastCheck() time.Time {
	if v, ok := hc.lastCheck.Load().(time.Time); ok {
		return v
	}
	return time.Time{}
}

// LastError returns the last error message, if any.
func (hc *HealthChecker) LastError() string {
	if v, ok := hc.lastError.Load().(string); ok {
		return v
	}
	return ""
}

// Shutdown stops the health checker. It is safe to call more than once.
func (hc *HealthChecker) Shutdown() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
}
