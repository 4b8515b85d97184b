package offline

import (
	"context"
)

// Pending is a snapshot of everything waiting in the queue, in creation order
type Pending struct {
	Orders []PendingOrder
	Mermas []PendingMerma
}

// IsEmpty reports whether nothing is queued
func (p Pending) IsEmpty() bool {
	return len(p.Orders) == 0 && len(p.Mermas) == 0
}

// Queue is the durable local queue of work waiting to be synchronized.
//
// Entries are append-ordered and keyed by local id. An entry leaves the queue only
// through Remove, after its remote commit is confirmed. Any persistence failure is
// returned to the caller: a lost enqueue means lost user work.
//
// MarkAttempted records that a commit of the entry is about to be sent. Listed
// entries carry the count in Attempts.
type Queue interface {
	EnqueueOrder(ctx context.Context, order *PendingOrder) error
	EnqueueMerma(ctx context.Context, merma *PendingMerma) error
	ListPending(ctx context.Context) (Pending, error)
	Remove(ctx context.Context, localID string) error
	MarkAttempted(ctx context.Context, localID string) error
	Count(ctx context.Context) (int64, error)
}
