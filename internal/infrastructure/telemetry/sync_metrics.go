package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics holds the instruments of the offline sync subsystem
type SyncMetrics struct {
	runs       *Counter
	synced     *Counter
	conflicts  *Counter
	syncErrors *Counter
	commits    *Counter
	queueDepth *Gauge
	duration   *Histogram
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	var (
		m   SyncMetrics
		err error
	)
	if m.runs, err = NewCounter(meter, "ordersync_sync_runs_total", "Sync runs by final status", "{run}"); err != nil {
		return nil, err
	}
	if m.synced, err = NewCounter(meter, "ordersync_synced_entries_total", "Queued entries committed remotely", "{entry}"); err != nil {
		return nil, err
	}
	if m.conflicts, err = NewCounter(meter, "ordersync_conflicts_total", "Queued entries left queued on a stock conflict", "{entry}"); err != nil {
		return nil, err
	}
	if m.syncErrors, err = NewCounter(meter, "ordersync_sync_errors_total", "Queued entries left queued on a remote error", "{entry}"); err != nil {
		return nil, err
	}
	if m.commits, err = NewCounter(meter, "ordersync_gateway_commits_total", "Remote commits by stock path", "{commit}"); err != nil {
		return nil, err
	}
	if m.queueDepth, err = NewGauge(meter, "ordersync_queue_depth", "Entries waiting in the offline queue", "{entry}"); err != nil {
		return nil, err
	}
	if m.duration, err = NewHistogram(meter, "ordersync_sync_duration_seconds", "Duration of sync runs", "s", SyncDurationBuckets...); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRun records a finished run
func (m *SyncMetrics) RecordRun(ctx context.Context, status, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.Inc(ctx, AttrStatus.String(status), AttrTrigger.String(trigger))
	m.duration.RecordDuration(ctx, d, AttrTrigger.String(trigger))
}

// RecordSynced counts one committed entry of kind
func (m *SyncMetrics) RecordSynced(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.synced.Inc(ctx, AttrKind.String(kind))
}

// RecordConflict counts one conflicting entry of kind
func (m *SyncMetrics) RecordConflict(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.conflicts.Inc(ctx, AttrKind.String(kind))
}

// RecordError counts one failed entry of kind
func (m *SyncMetrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.syncErrors.Inc(ctx, AttrKind.String(kind))
}

// RecordCommit counts one remote commit on path
func (m *SyncMetrics) RecordCommit(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.commits.Inc(ctx, AttrPath.String(path))
}

// RecordQueueDepth sets the current queue depth
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, depth)
}
