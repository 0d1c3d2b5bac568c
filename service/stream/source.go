package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/memo"
	"github.com/brojonat/comchain/service/metrics"
)

// DefaultPageSize is the number of movements requested per history page.
const DefaultPageSize = 30

// ErrPartialDateRange is returned when only one bound of a date range is set.
var ErrPartialDateRange = errors.New("partial date range: start and end must be given together")

// Fetcher reads raw account history from the ledger.
type Fetcher interface {
	FetchPage(ctx context.Context, address string, limit, offset int) ([]ledger.Movement, error)
	FetchRange(ctx context.Context, address string, start, end int64) ([]ledger.Movement, error)
}

// Resolver labels counterparty addresses.
type Resolver interface {
	Resolve(ctx context.Context, addresses []string) (map[string]string, error)
}

// SourceConfig describes one account history.
type SourceConfig struct {
	Account  ledger.AccountRef
	Currency string

	// Limit is the page size in paged mode. Zero means DefaultPageSize.
	Limit int

	// Start and End select ranged mode, [Start, End). Both or neither.
	Start *time.Time
	End   *time.Time

	// MessageKey deciphers memos. Without it descriptions stay empty.
	MessageKey *memo.KeyPair
}

func (c SourceConfig) ranged() bool {
	return c.Start != nil && c.End != nil
}

// Validate checks the date range.
func (c SourceConfig) Validate() error {
	if (c.Start == nil) != (c.End == nil) {
		return ErrPartialDateRange
	}
	if c.Limit < 0 {
		return fmt.Errorf("page size must not be negative, got %d", c.Limit)
	}
	return nil
}

// Source lazily yields the records of one account, newest first unless
// opened oldest first over a date range. It holds at most one page in
// memory and only fetches the next page once the current one has been
// consumed.
type Source struct {
	cfg      SourceConfig
	account  string
	order    Order
	fetcher  Fetcher
	resolver Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	offset int
	done   bool
	buf    []*ledger.Record
}

// NewSource validates cfg and creates a source. No I/O happens here.
func NewSource(cfg SourceConfig, fetcher Fetcher, resolver Resolver, m *metrics.Metrics, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:      cfg,
		account:  ledger.NormalizeAddress(cfg.Account.Address),
		order:    DateDescending,
		fetcher:  fetcher,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}, nil
}

// Next returns the next record or io.EOF once the account is exhausted.
func (s *Source) Next(ctx context.Context) (*ledger.Record, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
	rec := s.buf[0]
	s.buf[0] = nil
	s.buf = s.buf[1:]
	return rec, nil
}

func (s *Source) fill(ctx context.Context) error {
	var (
		page []ledger.Movement
		err  error
	)
	if s.cfg.ranged() {
		page, err = s.fetcher.FetchRange(ctx, s.account, s.cfg.Start.Unix(), s.cfg.End.Unix())
		s.done = true
	} else {
		page, err = s.fetcher.FetchPage(ctx, s.account, s.cfg.Limit, s.offset)
		s.offset += s.cfg.Limit
		if err == nil && len(page) < s.cfg.Limit {
			s.done = true
		}
	}
	if err != nil {
		return fmt.Errorf("failed to fetch history for %s: %w", s.account, err)
	}

	records, err := s.expand(page)
	if err != nil {
		return err
	}
	if s.cfg.ranged() {
		// An export is one page, so sorting it keeps the source in merge order.
		slices.SortStableFunc(records, func(a, b *ledger.Record) int {
			switch {
			case s.order(a, b):
				return -1
			case s.order(b, a):
				return 1
			}
			return 0
		})
	}
	if err := s.label(ctx, records); err != nil {
		return err
	}
	s.decipher(ctx, records, page)

	s.logger.DebugContext(ctx, "fetched history page",
		"account", s.account,
		"movements", len(page),
		"records", len(records),
		"offset", s.offset,
		"done", s.done,
	)
	s.buf = records
	return nil
}

// expand turns raw movements into signed legs. A movement to the account
// yields a received leg, a movement from it a sent leg, in that order.
func (s *Source) expand(page []ledger.Movement) ([]*ledger.Record, error) {
	records := make([]*ledger.Record, 0, len(page))
	for _, mv := range page {
		from := ledger.NormalizeAddress(mv.AddrFrom)
		to := ledger.NormalizeAddress(mv.AddrTo)

		if to == s.account {
			received, err := mv.ReceivedCents()
			if err != nil {
				return nil, fmt.Errorf("movement %s: %w", mv.Hash, err)
			}
			records = append(records, s.record(mv, ledger.LegReceived, received, from))
		}
		if from == s.account {
			sent, err := mv.SentCents()
			if err != nil {
				return nil, fmt.Errorf("movement %s: %w", mv.Hash, err)
			}
			records = append(records, s.record(mv, ledger.LegSent, sent.Neg(sent), to))
		}
	}
	return records, nil
}

func (s *Source) record(mv ledger.Movement, leg ledger.Leg, cents *big.Int, counterparty string) *ledger.Record {
	return &ledger.Record{
		ID:                  mv.Hash,
		Account:             s.account,
		Leg:                 leg,
		Date:                mv.Date(),
		Amount:              cents,
		Currency:            s.cfg.Currency,
		CounterpartyAddress: counterparty,
		Direction:           mv.Direction,
	}
}

// label resolves all counterparties of a page with one call.
func (s *Source) label(ctx context.Context, records []*ledger.Record) error {
	if s.resolver == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var addresses []string
	for _, rec := range records {
		addr := rec.CounterpartyAddress
		if addr == "" || addr == ledger.SystemAddress {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		return nil
	}

	labels, err := s.resolver.Resolve(ctx, addresses)
	if err != nil {
		return fmt.Errorf("failed to resolve counterparties for %s: %w", s.account, err)
	}
	for _, rec := range records {
		rec.CounterpartyDisplay = labels[rec.CounterpartyAddress]
	}
	return nil
}

// decipher fills descriptions best-effort. A failure only empties the
// description of that record.
func (s *Source) decipher(ctx context.Context, records []*ledger.Record, page []ledger.Movement) {
	if s.cfg.MessageKey == nil {
		return
	}
	memos := make(map[string]ledger.Movement, len(page))
	for _, mv := range page {
		memos[mv.Hash] = mv
	}
	for _, rec := range records {
		mv := memos[rec.ID]
		ciphertext := mv.MemoFrom
		if rec.Leg == ledger.LegReceived {
			ciphertext = mv.MemoTo
		}
		text, err := memo.Open(ciphertext, s.cfg.MessageKey)
		if err != nil {
			s.logger.DebugContext(ctx, "memo could not be deciphered",
				"account", s.account,
				"tx_id", rec.ID,
				"error", err,
			)
			s.metrics.RecordMemoDecipherFailure(s.account)
			continue
		}
		rec.Description = text
	}
}
