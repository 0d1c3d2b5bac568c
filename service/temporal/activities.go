package temporal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	natspkg "github.com/brojonat/comchain/service/nats"
	"github.com/brojonat/comchain/service/resolver"
	"github.com/brojonat/comchain/service/stream"
)

// DefaultMaxRecords caps how many records one sync run consumes. A run that
// hits the cap reports Truncated: the next run starts again from the newest
// record, so history older than the cap is not backfilled.
const DefaultMaxRecords = 1000

// SyncAccount is one currency sub-account tracked by a sync schedule.
type SyncAccount struct {
	Address  string `json:"address"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
}

// SyncWalletInput contains the input parameters for syncing a wallet.
type SyncWalletInput struct {
	WalletID string        `json:"wallet_id"`
	Accounts []SyncAccount `json:"accounts"`

	// MaxRecords bounds one run. Zero means DefaultMaxRecords.
	MaxRecords int `json:"max_records,omitempty"`
}

// SyncWalletResult contains the result of syncing a wallet.
type SyncWalletResult struct {
	WalletID  string    `json:"wallet_id"`
	RunID     string    `json:"run_id"`
	Written   int       `json:"written"`
	Skipped   int       `json:"skipped"`
	Published int       `json:"published"`
	Truncated bool      `json:"truncated,omitempty"`
	SyncTime  time.Time `json:"sync_time"`
	Error     *string   `json:"error,omitempty"`
}

// SyncAccountsInput contains parameters for the SyncAccounts activity.
type SyncAccountsInput struct {
	WalletID   string        `json:"wallet_id"`
	RunID      string        `json:"run_id"`
	Accounts   []SyncAccount `json:"accounts"`
	MaxRecords int           `json:"max_records"`
}

// SyncAccountsResult contains the result of the SyncAccounts activity.
type SyncAccountsResult struct {
	Written   int        `json:"written"`
	Skipped   int        `json:"skipped"` // Already existed in DB
	Published int        `json:"published"`
	Watermark *time.Time `json:"watermark,omitempty"`

	// Truncated is set when the record cap stopped the run before it
	// reached the watermark or the end of history.
	Truncated bool `json:"truncated,omitempty"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	InsertRecord(ctx context.Context, r *ledger.Record) (bool, error)
	LatestRecordTime(ctx context.Context, account string) (*time.Time, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishRecordBatch(ctx context.Context, events []*natspkg.RecordEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	ledger    stream.Fetcher
	labels    resolver.LabelLookup
	publisher PublisherInterface
	pageSize  int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. Publisher may be nil.
func NewActivities(
	store StoreInterface,
	fetcher stream.Fetcher,
	labels resolver.LabelLookup,
	publisher PublisherInterface,
	pageSize int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		ledger:    fetcher,
		labels:    labels,
		publisher: publisher,
		pageSize:  pageSize,
		metrics:   m,
		logger:    logger,
	}
}

// SyncAccounts copies new ledger records for a wallet's accounts into the
// store and publishes the ones that were not stored before.
//
// The merged stream is read newest first and stops at the oldest of the
// accounts' latest stored dates, so every account is caught up. Records at
// or after that point that are already stored are skipped by the insert.
func (a *Activities) SyncAccounts(ctx context.Context, input SyncAccountsInput) (*SyncAccountsResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("SyncAccounts", input.WalletID, time.Since(start).Seconds())
	}()

	if len(input.Accounts) == 0 {
		return nil, errors.New("no accounts to sync")
	}

	watermark, err := a.watermark(ctx, input.Accounts)
	if err != nil {
		return nil, err
	}

	maxRecords := input.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	a.logger.DebugContext(ctx, "syncing wallet accounts",
		"wallet_id", input.WalletID,
		"run_id", input.RunID,
		"accounts", len(input.Accounts),
		"watermark", watermark,
		"max_records", maxRecords,
	)

	configs := make([]stream.SourceConfig, len(input.Accounts))
	for i, acct := range input.Accounts {
		configs[i] = stream.SourceConfig{
			Account:  ledger.AccountRef{Address: ledger.NormalizeAddress(acct.Address), Type: acct.Type},
			Currency: acct.Currency,
			Limit:    a.pageSize,
		}
	}

	// A fresh resolver session per run keeps labels from going stale.
	session := resolver.NewSession(a.labels, a.metrics, a.logger)
	merged, err := stream.Open(stream.Options{Accounts: configs}, a.ledger, session, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record stream: %w", err)
	}

	result := &SyncAccountsResult{Watermark: watermark}
	written := make(map[string]int)
	skipped := make(map[string]int)
	var events []*natspkg.RecordEvent

	for consumed := 0; ; consumed++ {
		if consumed == maxRecords {
			result.Truncated = a.moreToSync(ctx, merged, watermark)
			break
		}
		record, err := merged.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to read ledger history",
				"wallet_id", input.WalletID,
				"error", err,
			)
			return nil, fmt.Errorf("failed to read ledger history: %w", err)
		}
		if watermark != nil && record.Date.Before(*watermark) {
			break
		}

		inserted, err := a.store.InsertRecord(ctx, record)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to write record",
				"record_id", record.ID,
				"account", record.Account,
				"error", err,
			)
			return nil, fmt.Errorf("failed to write record %s: %w", record.ID, err)
		}
		if !inserted {
			result.Skipped++
			skipped[record.Account]++
			continue
		}
		result.Written++
		written[record.Account]++
		events = append(events, natspkg.FromRecord(record))
	}

	if result.Truncated {
		a.logger.WarnContext(ctx, "sync run stopped at record cap, older history is not backfilled",
			"wallet_id", input.WalletID,
			"run_id", input.RunID,
			"max_records", maxRecords,
		)
	}

	for account, n := range written {
		a.metrics.RecordRecordsWritten(account, n)
	}
	for account, n := range skipped {
		a.metrics.RecordRecordsSkipped(account, "duplicate", n)
	}

	if len(events) > 0 && a.publisher != nil {
		if err := a.publisher.PublishRecordBatch(ctx, events); err != nil {
			// Records are stored; a failed publish is not worth a retry.
			a.logger.ErrorContext(ctx, "failed to publish record events",
				"wallet_id", input.WalletID,
				"count", len(events),
				"error", err,
			)
		} else {
			result.Published = len(events)
		}
	}

	a.logger.InfoContext(ctx, "wallet accounts synced",
		"wallet_id", input.WalletID,
		"run_id", input.RunID,
		"written", result.Written,
		"skipped", result.Skipped,
		"published", result.Published,
		"resolved_labels", session.Len(),
	)

	return result, nil
}

// moreToSync peeks one record past the cap. Nothing is written, so a read
// error only means the answer is unknown and counts as more.
func (a *Activities) moreToSync(ctx context.Context, merged *stream.Stream, watermark *time.Time) bool {
	record, err := merged.Next(ctx)
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		return true
	}
	return watermark == nil || !record.Date.Before(*watermark)
}

// watermark returns the oldest latest-stored date across accounts, or nil
// if any account has nothing stored.
func (a *Activities) watermark(ctx context.Context, accounts []SyncAccount) (*time.Time, error) {
	var oldest *time.Time
	for _, acct := range accounts {
		latest, err := a.store.LatestRecordTime(ctx, acct.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to read latest record for %s: %w", acct.Address, err)
		}
		if latest == nil {
			return nil, nil
		}
		if oldest == nil || latest.Before(*oldest) {
			oldest = latest
		}
	}
	return oldest, nil
}
