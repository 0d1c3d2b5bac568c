package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordsTable = "ledger_records"

// schema is applied by Migrate. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS ledger_records (
	account              TEXT        NOT NULL,
	id                   TEXT        NOT NULL,
	leg                  TEXT        NOT NULL,
	date                 TIMESTAMPTZ NOT NULL,
	amount_cents         NUMERIC     NOT NULL,
	currency             TEXT        NOT NULL,
	counterparty_address TEXT        NOT NULL,
	counterparty_display TEXT,
	description          TEXT        NOT NULL DEFAULT '',
	direction            TEXT        NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account, id, leg)
);
CREATE INDEX IF NOT EXISTS ledger_records_account_date_idx
	ON ledger_records (account, date DESC);
`

// Store persists merged ledger records for the sync workflow and the HTTP API.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// Metrics may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// ListRecordsParams contains pagination parameters.
type ListRecordsParams struct {
	Account string
	Limit   int32
	Offset  int32
}

// Migrate creates the record table and its index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertRecord stores r. It reports false without error when a record with
// the same (account, id, leg) already exists.
func (s *Store) InsertRecord(ctx context.Context, r *ledger.Record) (inserted bool, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("insert", recordsTable, time.Since(start).Seconds(), err)
	}()

	if r.Amount == nil {
		return false, fmt.Errorf("record %s has no amount", r.ID)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_records (
			account, id, leg, date, amount_cents, currency,
			counterparty_address, counterparty_display, description, direction
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (account, id, leg) DO NOTHING`,
		ledger.NormalizeAddress(r.Account),
		r.ID,
		string(r.Leg),
		pgtype.Timestamptz{Time: r.Date, Valid: true},
		r.Amount.String(),
		r.Currency,
		r.CounterpartyAddress,
		pgtextFromString(r.CounterpartyDisplay),
		r.Description,
		r.Direction,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert record %s: %w", r.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRecords returns stored records for an account, most recent first.
func (s *Store) ListRecords(ctx context.Context, params ListRecordsParams) (records []*ledger.Record, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("list", recordsTable, time.Since(start).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT account, id, leg, date, amount_cents::text, currency,
		       counterparty_address, counterparty_display, description, direction
		FROM ledger_records
		WHERE account = $1
		ORDER BY date DESC, id, leg
		LIMIT $2 OFFSET $3`,
		ledger.NormalizeAddress(params.Account),
		params.Limit,
		params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records, err = pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, nil
}

// LatestRecordTime returns the date of the most recent stored record for an
// account, or nil if nothing is stored yet.
func (s *Store) LatestRecordTime(ctx context.Context, account string) (latest *time.Time, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("latest", recordsTable, time.Since(start).Seconds(), err)
	}()

	var ts pgtype.Timestamptz
	err = s.pool.QueryRow(ctx,
		`SELECT max(date) FROM ledger_records WHERE account = $1`,
		ledger.NormalizeAddress(account),
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest record time: %w", err)
	}
	return timePtrFromPgTimestamptz(ts), nil
}

func scanRecord(row pgx.CollectableRow) (*ledger.Record, error) {
	var (
		r       ledger.Record
		leg     string
		date    pgtype.Timestamptz
		cents   string
		display pgtype.Text
	)
	err := row.Scan(
		&r.Account, &r.ID, &leg, &date, &cents, &r.Currency,
		&r.CounterpartyAddress, &display, &r.Description, &r.Direction,
	)
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(cents, 10)
	if !ok {
		return nil, fmt.Errorf("record %s has a non-integer amount %q", r.ID, cents)
	}
	r.Amount = amount
	r.Leg = ledger.Leg(leg)
	r.Date = date.Time.UTC()
	r.CounterpartyDisplay = display.String
	return &r, nil
}

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
