package offline

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus classifies a finished sync run
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusPartial SyncStatus = "PARTIAL"
	SyncStatusFailed  SyncStatus = "FAILED"
	SyncStatusSkipped SyncStatus = "SKIPPED"
)

// SyncTrigger names what started a sync run
type SyncTrigger string

const (
	TriggerManual       SyncTrigger = "manual"
	TriggerConnectivity SyncTrigger = "connectivity"
	TriggerSchedule     SyncTrigger = "schedule"
)

// EntryKind distinguishes queued orders from queued mermas
type EntryKind string

const (
	EntryKindOrder EntryKind = "order"
	EntryKindMerma EntryKind = "merma"
)

// SyncError is a retryable failure of one queued entry
type SyncError struct {
	LocalID string    `json:"local_id"`
	Kind    EntryKind `json:"kind"`
	Message string    `json:"message"`
}

// StockConflict is a queued entry that could not be committed because stock
// changed since it was created. The entry stays queued for a human to re-check.
type StockConflict struct {
	LocalID             string          `json:"local_id"`
	Kind                EntryKind       `json:"kind"`
	ProductID           string          `json:"product_id"`
	Requested           decimal.Decimal `json:"requested"`
	AvailableAtSyncTime decimal.Decimal `json:"available_at_sync_time"`
}

// SyncResult summarizes one sync run
type SyncResult struct {
	Trigger          SyncTrigger     `json:"trigger"`
	SyncedCount      int             `json:"synced_count"`
	SyncedMermaCount int             `json:"synced_merma_count"`
	Errors           []SyncError     `json:"errors"`
	Conflicts        []StockConflict `json:"conflicts"`
	Skipped          bool            `json:"skipped"`
	FallbackUsed     bool            `json:"fallback_used"`
	Interrupted      bool            `json:"interrupted"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// AddError records a retryable failure
func (r *SyncResult) AddError(localID string, kind EntryKind, err error) {
	r.Errors = append(r.Errors, SyncError{LocalID: localID, Kind: kind, Message: err.Error()})
}

// AddConflict records a stock conflict
func (r *SyncResult) AddConflict(c StockConflict) {
	r.Conflicts = append(r.Conflicts, c)
}

// TotalSynced returns orders plus mermas committed in the run
func (r *SyncResult) TotalSynced() int {
	return r.SyncedCount + r.SyncedMermaCount
}

// NeedsAttention reports whether the user must look at conflicts
func (r *SyncResult) NeedsAttention() bool {
	return len(r.Conflicts) > 0
}

// Status classifies the run
func (r *SyncResult) Status() SyncStatus {
	if r.Skipped {
		return SyncStatusSkipped
	}
	failed := len(r.Errors) + len(r.Conflicts)
	switch {
	case failed == 0:
		return SyncStatusSuccess
	case r.TotalSynced() > 0:
		return SyncStatusPartial
	default:
		return SyncStatusFailed
	}
}

// Duration returns how long the run took
func (r *SyncResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
