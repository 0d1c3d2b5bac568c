package db

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, leg ledger.Leg, date time.Time, cents int64) *ledger.Record {
	return &ledger.Record{
		ID:                  id,
		Account:             "aa11",
		Leg:                 leg,
		Date:                date,
		Amount:              big.NewInt(cents),
		Currency:            "CUR",
		CounterpartyAddress: "bb22",
		Description:         "coffee",
		Direction:           "1",
	}
}

func TestInsertRecord(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("insert new record", func(t *testing.T) {
		inserted, err := store.InsertRecord(ctx, newRecord("0x01", ledger.LegReceived, now, 1250))
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("duplicate is skipped", func(t *testing.T) {
		inserted, err := store.InsertRecord(ctx, newRecord("0x01", ledger.LegReceived, now, 1250))
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("other leg of the same movement is distinct", func(t *testing.T) {
		inserted, err := store.InsertRecord(ctx, newRecord("0x01", ledger.LegSent, now, -1250))
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("nil amount is rejected", func(t *testing.T) {
		r := newRecord("0x02", ledger.LegSent, now, 0)
		r.Amount = nil
		_, err := store.InsertRecord(ctx, r)
		assert.Error(t, err)
	})
}

func TestListRecords(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	bob := newRecord("b", ledger.LegReceived, base.Add(time.Hour), -250)
	bob.CounterpartyDisplay = "Bob"
	SeedRecords(t, store,
		newRecord("a", ledger.LegReceived, base, 100),
		bob,
		newRecord("c", ledger.LegReceived, base.Add(2*time.Hour), 99999999999),
	)

	records, err := store.ListRecords(ctx, ListRecordsParams{Account: "0xAA11", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Most recent first.
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, "a", records[2].ID)

	assert.Equal(t, "99999999999", records[0].Amount.String())
	assert.Equal(t, int64(-250), records[1].Amount.Int64())
	assert.Equal(t, "Bob", records[1].CounterpartyDisplay)
	assert.Empty(t, records[0].CounterpartyDisplay)
	assert.Equal(t, ledger.LegReceived, records[2].Leg)
	assert.True(t, base.Equal(records[2].Date))

	t.Run("pagination", func(t *testing.T) {
		page, err := store.ListRecords(ctx, ListRecordsParams{Account: "aa11", Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "a", page[0].ID)
	})

	t.Run("unknown account", func(t *testing.T) {
		page, err := store.ListRecords(ctx, ListRecordsParams{Account: "ff", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestLatestRecordTime(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()

	latest, err := store.LatestRecordTime(ctx, "aa11")
	require.NoError(t, err)
	assert.Nil(t, latest, "no records yet")

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	SeedRecords(t, store,
		newRecord("x", ledger.LegSent, newer, -1),
		newRecord("y", ledger.LegReceived, older, 1),
	)

	latest, err = store.LatestRecordTime(ctx, "AA11")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, newer.Equal(*latest))
}

func TestMigrate_Idempotent(t *testing.T) {
	store := NewTestStore(t)

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
}
