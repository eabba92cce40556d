// Package health keeps the last known health of the bot for /health.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"AstroBot/entity"
	"AstroBot/internal/lib/sl"
)

// Prober probes every registered service and reports failures by id.
type Prober interface {
	ProbeAll(ctx context.Context) map[string]error
}

// Bundles reports the state of the resource cache.
type Bundles interface {
	DefaultLoaded() bool
	CacheAge() time.Duration
}

type Monitor struct {
	prober   Prober
	bundles  Bundles
	interval time.Duration
	mu       sync.RWMutex
	status   entity.HealthStatus
	log      *slog.Logger
	now      func() time.Time
}

func NewMonitor(prober Prober, bundles Bundles, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		bundles:  bundles,
		interval: interval,
		status:   entity.HealthStatus{Status: entity.StatusUnhealthy, DegradedServiceIDs: []string{}},
		log:      log.With(sl.Module("health")),
		now:      time.Now,
	}
}

// Run checks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe round and stores the result.
func (m *Monitor) Check(ctx context.Context) entity.HealthStatus {
	failed := m.prober.ProbeAll(ctx)
	degraded := make([]string, 0, len(failed))
	for id := range failed {
		degraded = append(degraded, id)
	}
	sort.Strings(degraded)

	status := entity.StatusHealthy
	switch {
	case !m.bundles.DefaultLoaded():
		status = entity.StatusUnhealthy
	case len(degraded) > 0:
		status = entity.StatusDegraded
	}

	next := entity.HealthStatus{
		Status:                status,
		DegradedServiceIDs:    degraded,
		BundleCacheAgeSeconds: m.bundles.CacheAge().Seconds(),
		CheckedAt:             m.now(),
	}

	m.mu.Lock()
	prev := m.status.Status
	m.status = next
	m.mu.Unlock()

	if prev != status {
		m.log.Info("health changed", slog.String("from", prev), slog.String("to", status), slog.Any("degraded", degraded))
	}
	return next
}

// Status returns the last stored result without probing.
func (m *Monitor) Status() entity.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.DegradedServiceIDs = append([]string{}, m.status.DegradedServiceIDs...)
	return s
}
