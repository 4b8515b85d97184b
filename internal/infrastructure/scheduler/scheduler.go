// Package scheduler starts sync runs in the background: on a cron schedule and
// whenever the remote store becomes reachable again.
package scheduler

import (
	"context"
	"errors"

	"github.com/erp/ordersync/internal/domain/offline"
)

// ErrInvalidConfig is returned when a trigger is configured incorrectly
var ErrInvalidConfig = errors.New("invalid scheduler configuration")

// Syncer runs one sync. The coordinator is the only implementation.
type Syncer interface {
	Sync(ctx context.Context, trigger offline.SyncTrigger) offline.SyncResult
}

// Pinger checks that the remote store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}
