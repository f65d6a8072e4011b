package autonomy

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentcoord/bus"
	"github.com/hupe1980/agentcoord/core"
	"github.com/hupe1980/agentcoord/logging"
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Logger receives monitor diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger

	// Clock drives the scan timer. Defaults to RealClock.
	Clock core.Clock

	// Interval between scans.
	Interval time.Duration
}

// Monitor periodically scans situation snapshots and publishes alerts for
// critical items, independently of the decision loop. It raises awareness; it
// never decides.
type Monitor struct {
	provider core.SituationProvider
	bus      *bus.Bus
	opts     MonitorOptions
}

// NewMonitor wires a situation monitor.
func NewMonitor(provider core.SituationProvider, b *bus.Bus, optFns ...func(o *MonitorOptions)) *Monitor {
	opts := MonitorOptions{
		Logger:   logging.NoOpLogger{},
		Clock:    core.RealClock{},
		Interval: time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Monitor{provider: provider, bus: b, opts: opts}
}

// WithMonitorLogger overrides the monitor logger.
func WithMonitorLogger(l logging.Logger) func(o *MonitorOptions) {
	return func(o *MonitorOptions) { o.Logger = l }
}

// WithMonitorClock overrides the monitor clock.
func WithMonitorClock(c core.Clock) func(o *MonitorOptions) {
	return func(o *MonitorOptions) { o.Clock = c }
}

// WithMonitorInterval overrides the scan interval.
func WithMonitorInterval(d time.Duration) func(o *MonitorOptions) {
	return func(o *MonitorOptions) { o.Interval = d }
}

// Run scans until ctx is cancelled. Scan faults are logged and the next tick
// proceeds normally.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.opts.Clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := m.Scan(ctx); err != nil {
				m.opts.Logger.Error("monitor scan failed: %v", err)
			}
		}
	}
}

// Scan performs one pass: fetch a snapshot and publish an alert for every
// critical item. Exported so callers can trigger a scan out of band.
func (m *Monitor) Scan(ctx context.Context) error {
	situation, err := m.provider.GetSituation(ctx)
	if err != nil {
		return fmt.Errorf("situation snapshot: %w", err)
	}

	for _, item := range situation.ItemsAtRisk(core.RiskCritical) {
		m.bus.Publish(core.ChannelAlerts, core.Alert{
			Kind:      "critical_stock",
			SubjectID: item.SubjectID,
			Urgency:   core.UrgencyCritical.String(),
			Data: map[string]any{
				"stock":               item.Stock,
				"reorder_level":       item.ReorderLevel,
				"days_until_stockout": item.DaysUntilStockout,
			},
			Timestamp: m.opts.Clock.Now().UTC(),
		})
		m.opts.Logger.Warn("critical stock alert subject=%s stock=%d", item.SubjectID, item.Stock)
	}
	return nil
}
