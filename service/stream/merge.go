// Package stream merges per-account ledger histories into one ordered feed.
package stream

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
)

// RecordSource yields records in the merge order and io.EOF at the end.
type RecordSource interface {
	Next(ctx context.Context) (*ledger.Record, error)
}

// Order reports whether a must be emitted before b.
type Order func(a, b *ledger.Record) bool

// DateDescending emits the newest record first.
func DateDescending(a, b *ledger.Record) bool {
	return a.Date.After(b.Date)
}

// DateAscending emits the oldest record first.
func DateAscending(a, b *ledger.Record) bool {
	return a.Date.Before(b.Date)
}

type lookahead struct {
	rec *ledger.Record
	src int
}

// lookaheadHeap holds at most one record per source. Ties go to the
// lower source index, which keeps the merge stable.
type lookaheadHeap struct {
	items []lookahead
	order Order
}

func (h *lookaheadHeap) Len() int { return len(h.items) }

func (h *lookaheadHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.order(a.rec, b.rec) {
		return true
	}
	if h.order(b.rec, a.rec) {
		return false
	}
	return a.src < b.src
}

func (h *lookaheadHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *lookaheadHeap) Push(x any) { h.items = append(h.items, x.(lookahead)) }

func (h *lookaheadHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = lookahead{}
	h.items = old[:n-1]
	return it
}

// Stream is a k-way merge over record sources. It is not safe for
// concurrent use.
type Stream struct {
	sources []RecordSource
	heap    *lookaheadHeap
	metrics *metrics.Metrics

	primed  bool
	pending int // source whose lookahead was just emitted, -1 if none
	err     error
}

// Merge builds a stream over sources. Each source must already yield its
// records in order. A nil order means DateDescending.
func Merge(sources []RecordSource, order Order, m *metrics.Metrics) *Stream {
	if order == nil {
		order = DateDescending
	}
	return &Stream{
		sources: sources,
		heap:    &lookaheadHeap{order: order},
		metrics: m,
		pending: -1,
	}
}

// Next returns the next record in order, or io.EOF when every source is
// exhausted. The first error from any source ends the stream and is
// returned by every later call.
func (s *Stream) Next(ctx context.Context) (*ledger.Record, error) {
	if s.err != nil {
		return nil, s.err
	}

	if !s.primed {
		s.primed = true
		for i := range s.sources {
			if err := s.advance(ctx, i); err != nil {
				return nil, err
			}
		}
	} else if s.pending >= 0 {
		src := s.pending
		s.pending = -1
		if err := s.advance(ctx, src); err != nil {
			return nil, err
		}
	}

	if s.heap.Len() == 0 {
		s.err = io.EOF
		return nil, io.EOF
	}

	it := heap.Pop(s.heap).(lookahead)
	s.pending = it.src
	s.metrics.RecordRecordMerged(it.rec.Account)
	return it.rec, nil
}

func (s *Stream) advance(ctx context.Context, src int) error {
	rec, err := s.sources[src].Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		s.err = err
		return err
	}
	heap.Push(s.heap, lookahead{rec: rec, src: src})
	return nil
}

// All adapts the stream to a range-over-func iterator. Iteration stops at
// the end of the stream or after yielding the first error.
func (s *Stream) All(ctx context.Context) iter.Seq2[*ledger.Record, error] {
	return func(yield func(*ledger.Record, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Collect reads up to limit records. A limit of zero or less reads the
// whole stream.
func Collect(ctx context.Context, s *Stream, limit int) ([]*ledger.Record, error) {
	var out []*ledger.Record
	for rec, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ErrAscendingNeedsRange is returned when oldest-first order is requested
// for an account without a date range. The ledger pages history newest
// first, so only a ranged fetch can be re-sorted before it is emitted.
var ErrAscendingNeedsRange = errors.New("ascending order requires a start and end date")

// Options opens a merged stream over several accounts.
type Options struct {
	Accounts []SourceConfig

	// Ascending emits the oldest record first. Every account must then
	// be read in ranged mode.
	Ascending bool
}

// Open creates one source per address and merges them. Sources do no I/O
// until the first Next, so a bad date range fails before any fetch.
//
// Sub-accounts of one wallet share the wallet's history, so refs with the
// same address are read once, with the first ref's configuration.
func Open(opts Options, fetcher Fetcher, resolver Resolver, m *metrics.Metrics, logger *slog.Logger) (*Stream, error) {
	order := DateDescending
	if opts.Ascending {
		order = DateAscending
	}

	sources := make([]RecordSource, 0, len(opts.Accounts))
	seen := make(map[string]struct{}, len(opts.Accounts))
	for _, cfg := range opts.Accounts {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if opts.Ascending && !cfg.ranged() {
			return nil, ErrAscendingNeedsRange
		}
		addr := ledger.NormalizeAddress(cfg.Account.Address)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		src, err := NewSource(cfg, fetcher, resolver, m, logger)
		if err != nil {
			return nil, err
		}
		src.order = order
		sources = append(sources, src)
	}
	return Merge(sources, order, m), nil
}
