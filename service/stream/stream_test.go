package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/memo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves a fixed newest-first history per account.
type fakeFetcher struct {
	history    map[string][]ledger.Movement
	pageCalls  map[string]int
	rangeCalls int
	failOn     map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		history:   make(map[string][]ledger.Movement),
		pageCalls: make(map[string]int),
		failOn:    make(map[string]error),
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, address string, limit, offset int) ([]ledger.Movement, error) {
	f.pageCalls[address]++
	if err, ok := f.failOn[address]; ok {
		return nil, err
	}
	all := f.history[address]
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (f *fakeFetcher) FetchRange(ctx context.Context, address string, start, end int64) ([]ledger.Movement, error) {
	f.rangeCalls++
	var out []ledger.Movement
	for _, mv := range f.history[address] {
		if mv.Time >= start && mv.Time < end {
			out = append(out, mv)
		}
	}
	return out, nil
}

type countingResolver struct {
	calls  int
	labels map[string]string
	err    error
}

func (r *countingResolver) Resolve(ctx context.Context, addresses []string) (map[string]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string)
	for _, a := range addresses {
		if l, ok := r.labels[a]; ok {
			out[a] = l
		}
	}
	return out, nil
}

// incoming builds n movements into account, newest first, spaced by step
// seconds starting at base.
func incoming(account string, n int, base, step int64) []ledger.Movement {
	out := make([]ledger.Movement, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ledger.Movement{
			Hash:     fmt.Sprintf("0x%s%02d", account, i),
			AddrFrom: "0xpeer" + strconv.Itoa(i%3),
			AddrTo:   "0x" + account,
			Received: "100",
			Sent:     "100",
			Time:     base - int64(i)*step,
		})
	}
	return out
}

func openSources(t *testing.T, fetcher Fetcher, resolver Resolver, limit int, accounts ...string) *Stream {
	t.Helper()
	cfgs := make([]SourceConfig, 0, len(accounts))
	for _, a := range accounts {
		cfgs = append(cfgs, SourceConfig{Account: ledger.AccountRef{Address: a}, Currency: "CUR", Limit: limit})
	}
	s, err := Open(Options{Accounts: cfgs}, fetcher, resolver, nil, nil)
	require.NoError(t, err)
	return s
}

func TestMerge_ThreeSourcesAreMonotonic(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 7, 10_000, 7)
	fetcher.history["bb"] = incoming("bb", 2, 9_990, 50)
	fetcher.history["cc"] = incoming("cc", 11, 10_005, 3)

	s := openSources(t, fetcher, &countingResolver{}, 3, "aa", "bb", "cc")
	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, records, 20)

	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].Date.After(records[i-1].Date),
			"record %d (%s) is newer than record %d (%s)", i, records[i].Date, i-1, records[i-1].Date)
	}

	perAccount := map[string]int{}
	for _, r := range records {
		perAccount[r.Account]++
		assert.Equal(t, "CUR", r.Currency)
		assert.Equal(t, ledger.LegReceived, r.Leg)
		assert.Equal(t, int64(100), r.Amount.Int64())
	}
	assert.Equal(t, map[string]int{"aa": 7, "bb": 2, "cc": 11}, perAccount)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestMerge_AscendingOrder(t *testing.T) {
	a := &sliceSource{records: datedRecords("a", 1, 4, 9)}
	b := &sliceSource{records: datedRecords("b", 2, 3, 10)}

	records, err := Collect(context.Background(), Merge([]RecordSource{a, b}, DateAscending, nil), 0)
	require.NoError(t, err)

	var secs []int64
	for _, r := range records {
		secs = append(secs, r.Date.Unix())
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 9, 10}, secs)
}

func TestOpen_AscendingOverNewestFirstLedger(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 3, 100, 10)
	fetcher.history["bb"] = incoming("bb", 3, 95, 10)
	start, end := time.Unix(0, 0), time.Unix(1_000, 0)

	s, err := Open(Options{
		Accounts: []SourceConfig{
			{Account: ledger.AccountRef{Address: "aa"}, Start: &start, End: &end},
			{Account: ledger.AccountRef{Address: "bb"}, Start: &start, End: &end},
		},
		Ascending: true,
	}, fetcher, nil, nil, nil)
	require.NoError(t, err)

	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)

	var secs []int64
	for _, r := range records {
		secs = append(secs, r.Date.Unix())
	}
	assert.Equal(t, []int64{75, 80, 85, 90, 95, 100}, secs)
}

func TestOpen_AscendingNeedsRange(t *testing.T) {
	fetcher := newFakeFetcher()
	start, end := time.Unix(0, 0), time.Unix(1_000, 0)

	_, err := Open(Options{
		Accounts: []SourceConfig{
			{Account: ledger.AccountRef{Address: "aa"}, Start: &start, End: &end},
			{Account: ledger.AccountRef{Address: "bb"}},
		},
		Ascending: true,
	}, fetcher, nil, nil, nil)
	assert.ErrorIs(t, err, ErrAscendingNeedsRange)
	assert.Zero(t, fetcher.rangeCalls)
	assert.Empty(t, fetcher.pageCalls)
}

func TestOpen_SubAccountsOfOneAddressReadOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 4, 1_000, 5)
	fetcher.history["bb"] = incoming("bb", 2, 998, 5)

	s, err := Open(Options{Accounts: []SourceConfig{
		{Account: ledger.AccountRef{Address: "aa", Type: "Nant"}, Currency: "CUR"},
		{Account: ledger.AccountRef{Address: "0xAA", Type: "Cm"}, Currency: "CUR"},
		{Account: ledger.AccountRef{Address: "bb", Type: "Nant"}, Currency: "CUR"},
	}}, fetcher, nil, nil, nil)
	require.NoError(t, err)

	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, records, 6)

	keys := make(map[string]struct{})
	for _, r := range records {
		key := r.Account + "/" + r.ID + "/" + string(r.Leg)
		_, dup := keys[key]
		assert.False(t, dup, "record %s emitted twice", key)
		keys[key] = struct{}{}
	}
	assert.Equal(t, 1, fetcher.pageCalls["aa"])
}

func TestMerge_StableOnTies(t *testing.T) {
	first := &sliceSource{records: datedRecords("first", 5, 5)}
	second := &sliceSource{records: datedRecords("second", 5)}

	records, err := Collect(context.Background(), Merge([]RecordSource{second, first}, nil, nil), 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "second", records[0].Account)
	assert.Equal(t, "first", records[1].Account)
	assert.Equal(t, "first", records[2].Account)
}

func TestMerge_KeepsOneLookaheadPerSource(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 10, 1_000, 1)
	fetcher.history["bb"] = incoming("bb", 10, 500, 1)

	s := openSources(t, fetcher, nil, 2, "aa", "bb")
	records, err := Collect(context.Background(), s, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Three records from aa need two pages of aa and only the first of bb.
	assert.Equal(t, 2, fetcher.pageCalls["aa"])
	assert.Equal(t, 1, fetcher.pageCalls["bb"])
}

func TestSource_ResolvesOncePerPage(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 7, 1_000, 1)
	resolver := &countingResolver{labels: map[string]string{"peer0": "Alice"}}

	s := openSources(t, fetcher, resolver, 3, "aa")
	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, records, 7)

	assert.Equal(t, 3, fetcher.pageCalls["aa"])
	assert.Equal(t, 3, resolver.calls)

	for _, r := range records {
		if r.CounterpartyAddress == "peer0" {
			assert.Equal(t, "Alice", r.CounterpartyDisplay)
		} else {
			assert.Empty(t, r.CounterpartyDisplay)
		}
	}
}

func TestSource_SystemAddressIsNotResolved(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = []ledger.Movement{{
		Hash: "0x01", AddrFrom: "0x" + ledger.SystemAddress, AddrTo: "0xaa", Received: "5", Time: 10,
	}}
	resolver := &countingResolver{}

	records, err := Collect(context.Background(), openSources(t, fetcher, resolver, 30, "aa"), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.SystemAddress, records[0].CounterpartyAddress)
	assert.Equal(t, 0, resolver.calls)
}

func TestSource_ShortPageTerminates(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		expectedCalls int
	}{
		{name: "empty history", size: 0, expectedCalls: 1},
		{name: "short first page", size: 2, expectedCalls: 1},
		{name: "exactly one full page", size: 3, expectedCalls: 2},
		{name: "full page then short page", size: 5, expectedCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.history["aa"] = incoming("aa", tt.size, 1_000, 1)

			s := openSources(t, fetcher, nil, 3, "aa")
			records, err := Collect(context.Background(), s, 0)
			require.NoError(t, err)
			assert.Len(t, records, tt.size)
			assert.Equal(t, tt.expectedCalls, fetcher.pageCalls["aa"])
		})
	}
}

func TestSource_ExpandsBothLegs(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = []ledger.Movement{
		{Hash: "0x01", AddrFrom: "0xAA", AddrTo: "0xaa", Sent: "250", Received: "250", Time: 30, Direction: "3"},
		{Hash: "0x02", AddrFrom: "0xaa", AddrTo: "0xbb", Sent: "1234", Received: "1200", Time: 20, Direction: "2"},
		{Hash: "0x03", AddrFrom: "0xcc", AddrTo: "0xdd", Sent: "1", Received: "1", Time: 10},
	}

	records, err := Collect(context.Background(), openSources(t, fetcher, nil, 30, "aa"), 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, ledger.LegReceived, records[0].Leg)
	assert.Equal(t, int64(250), records[0].Amount.Int64())
	assert.Equal(t, ledger.LegSent, records[1].Leg)
	assert.Equal(t, int64(-250), records[1].Amount.Int64())
	assert.Equal(t, "3", records[1].Direction)

	assert.Equal(t, "0x02", records[2].ID)
	assert.Equal(t, int64(-1234), records[2].Amount.Int64())
	assert.Equal(t, "bb", records[2].CounterpartyAddress)
	assert.Equal(t, time.Unix(20, 0).UTC(), records[2].Date)
}

func TestSource_RangedMode(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 10, 100, 10)
	start, end := time.Unix(40, 0), time.Unix(80, 0)

	s, err := Open(Options{Accounts: []SourceConfig{{
		Account: ledger.AccountRef{Address: "aa"}, Start: &start, End: &end,
	}}}, fetcher, nil, nil, nil)
	require.NoError(t, err)

	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, 1, fetcher.rangeCalls)
	assert.Equal(t, 0, fetcher.pageCalls["aa"])
}

func TestSource_PartialDateRange(t *testing.T) {
	fetcher := newFakeFetcher()
	start := time.Unix(40, 0)

	_, err := Open(Options{Accounts: []SourceConfig{
		{Account: ledger.AccountRef{Address: "aa"}},
		{Account: ledger.AccountRef{Address: "bb"}, Start: &start},
	}}, fetcher, nil, nil, nil)
	assert.ErrorIs(t, err, ErrPartialDateRange)
	assert.Equal(t, 0, fetcher.rangeCalls)
	assert.Empty(t, fetcher.pageCalls)
}

func TestMerge_FetchErrorAbortsStream(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 2, 1_000, 1)
	boom := errors.New("node unavailable")
	fetcher.failOn["bb"] = boom

	s := openSources(t, fetcher, nil, 30, "aa", "bb")

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, boom, "error must be sticky")

	_, err = Collect(context.Background(), s, 0)
	assert.ErrorIs(t, err, boom)
}

func TestMerge_ResolveErrorAbortsStream(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 2, 1_000, 1)
	boom := errors.New("backend down")

	s := openSources(t, fetcher, &countingResolver{err: boom}, 30, "aa")
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestMerge_CanceledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.history["aa"] = incoming("aa", 2, 1_000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openSources(t, fetcher, nil, 30, "aa").Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fetcher.pageCalls["aa"])
}

func TestSource_MemoFailureDegradesToEmptyDescription(t *testing.T) {
	owner, err := memo.GenerateKeyPair()
	require.NoError(t, err)
	stranger, err := memo.GenerateKeyPair()
	require.NoError(t, err)

	readable, err := memo.Seal("coffee", &stranger.Public, &owner.Public)
	require.NoError(t, err)
	unreadable, err := memo.Seal("secret", &stranger.Public, &stranger.Public)
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.history["aa"] = []ledger.Movement{
		{Hash: "0x01", AddrFrom: "0xbb", AddrTo: "0xaa", Received: "1", Time: 30, MemoFrom: readable.From, MemoTo: readable.To},
		{Hash: "0x02", AddrFrom: "0xbb", AddrTo: "0xaa", Received: "1", Time: 20, MemoFrom: unreadable.From, MemoTo: unreadable.To},
		{Hash: "0x03", AddrFrom: "0xbb", AddrTo: "0xaa", Received: "1", Time: 10, MemoTo: "zz-not-hex"},
	}

	s, err := Open(Options{Accounts: []SourceConfig{{
		Account: ledger.AccountRef{Address: "aa"}, MessageKey: owner,
	}}}, fetcher, nil, nil, nil)
	require.NoError(t, err)

	records, err := Collect(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "coffee", records[0].Description)
	assert.Empty(t, records[1].Description)
	assert.Empty(t, records[2].Description)
}

func TestAll_StopsEarly(t *testing.T) {
	src := &sliceSource{records: datedRecords("a", 3, 2, 1)}
	s := Merge([]RecordSource{src}, nil, nil)

	count := 0
	for rec, err := range s.All(context.Background()) {
		require.NoError(t, err)
		require.NotNil(t, rec)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

type sliceSource struct {
	records []*ledger.Record
}

func (s *sliceSource) Next(ctx context.Context) (*ledger.Record, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func datedRecords(account string, secs ...int64) []*ledger.Record {
	out := make([]*ledger.Record, 0, len(secs))
	for i, sec := range secs {
		out = append(out, &ledger.Record{
			ID:      fmt.Sprintf("%s-%d", account, i),
			Account: account,
			Date:    time.Unix(sec, 0),
		})
	}
	return out
}
