package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/metrics"
	"github.com/regbridge/subtrack/internal/registry"
)

// Monitor owns the periodic sweeps: SLA timeouts over the registry hot set
// and archival of old terminal records. Both use the registry's normal
// APIs; there is no privileged bypass.
type Monitor struct {
	registry *registry.Registry
	engine   *delivery.Engine
	cfg      config.RegistryConfig
	now      func() time.Time
}

func NewMonitor(reg *registry.Registry, engine *delivery.Engine, cfg config.RegistryConfig) *Monitor {
	return &Monitor{registry: reg, engine: engine, cfg: cfg, now: time.Now}
}

// Recover re-hydrates registry and delivery state on boot. Must complete
// before the service accepts new work.
func (m *Monitor) Recover(ctx context.Context) error {
	if err := m.registry.Reload(ctx); err != nil {
		return err
	}
	return m.engine.Recover(ctx)
}

// Start launches the sweep loops. They exit when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.timeoutLoop(ctx)
	go m.archiveLoop(ctx)
}

func (m *Monitor) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TimeoutSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepTimeouts(ctx)
		}
	}
}

// SweepTimeouts transitions every expired non-terminal submission to
// timeout. The sweep works on a snapshot so no registry lock is held while
// transitions persist.
func (m *Monitor) SweepTimeouts(ctx context.Context) int {
	now := m.now().UTC()
	timedOut := 0

	for _, sub := range m.registry.Snapshot() {
		if sub.TimeoutAt.IsZero() || sub.TimeoutAt.After(now) {
			continue
		}

		_, err := m.registry.Apply(ctx, sub.ID, domain.StatusTimeout, "sla timeout exceeded", map[string]any{
			"timeout_at": sub.TimeoutAt.Format(time.RFC3339),
		})
		if err != nil {
			var invalid *registry.InvalidTransitionError
			if errors.As(err, &invalid) {
				// Raced with a concurrent transition; the next sweep will
				// catch it if it is still live.
				continue
			}
			slog.Error("timeout sweep: failed to transition submission",
				"submission_id", sub.ID, "error", err)
			continue
		}
		timedOut++
		metrics.SubmissionsTimedOut.Inc()
	}

	if timedOut > 0 {
		slog.Info("timeout sweep complete", "timed_out", timedOut)
	}
	return timedOut
}

func (m *Monitor) archiveLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ArchiveSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepArchive(ctx)
		}
	}
}

// SweepArchive moves terminal records older than the retention window to
// archival storage.
func (m *Monitor) SweepArchive(ctx context.Context) int {
	cutoff := m.now().UTC().Add(-m.cfg.RetentionPeriod)
	moved, err := m.registry.Archive(ctx, cutoff)
	if err != nil {
		slog.Error("archive sweep failed", "error", err)
		return 0
	}
	if moved > 0 {
		slog.Info("archive sweep complete", "archived", moved)
	}
	return moved
}
