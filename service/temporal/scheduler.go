package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet syncing.
// Each wallet gets its own schedule that triggers the SyncWalletWorkflow.
type Scheduler interface {
	// UpsertSyncSchedule creates the wallet's schedule or replaces its
	// interval and accounts.
	UpsertSyncSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error

	// DeleteSyncSchedule deletes the schedule for a wallet.
	// This stops the wallet from being synced.
	DeleteSyncSchedule(ctx context.Context, walletID string) error
}

var _ Scheduler = (*Client)(nil)

// ScheduleIDPrefix starts the schedule and workflow IDs of every wallet sync.
const ScheduleIDPrefix = "sync-wallet-"

// scheduleID returns the Temporal schedule ID for a wallet.
func scheduleID(walletID string) string {
	return ScheduleIDPrefix + walletID
}
